// Package stream reconstructs structured records from the agent's chunked
// output. Fragments may be cut at any byte boundary, including mid-string or
// mid-escape; the decoder buffers undecodable tails across calls and only ever
// emits fully formed records.
package stream

import (
	"bytes"
	"sync"

	"go.uber.org/zap"

	"github.com/quillstream/quill/internal/protocol/wire"
)

// DefaultMaxBuffer bounds the unresolved accumulation buffer. A buffer that
// grows past this without closing a record is treated as corrupt and reset.
const DefaultMaxBuffer = 1 << 20

// Stats are cumulative decoder counters.
type Stats struct {
	// Records is the number of records emitted.
	Records uint64
	// Discards counts balanced objects dropped for unknown/invalid content.
	Discards uint64
	// Resets counts buffer resets (stray closers and overflow).
	Resets uint64
}

// Decoder incrementally extracts records from a fragment stream.
//
// One Decoder exists per connection. Fragments are processed strictly one
// pass at a time: a Feed call arriving while another pass is in flight is
// queued and drained by the in-flight call, so the depth/escape/quote state
// is never touched concurrently.
type Decoder struct {
	mu      sync.Mutex
	buf     []byte
	pos     int
	depth   int
	inStr   bool
	escaped bool

	feeding bool
	pending []string

	maxBuffer int
	stats     Stats
	log       *zap.Logger
}

// New creates a Decoder. maxBuffer <= 0 selects DefaultMaxBuffer.
func New(maxBuffer int, log *zap.Logger) *Decoder {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Decoder{maxBuffer: maxBuffer, log: log}
}

// Feed appends a fragment and returns the records completed by it, in order.
//
// Decoding failure is silent and recoverable: an unbalanced or not-yet-valid
// buffer is retained until more data arrives. If Feed is re-entered while a
// pass is running (fragments arriving faster than processing, or a nested
// call from record application), the fragment is queued and processed by the
// in-flight pass; the nested call returns nil and the records surface from
// the outer call.
func (d *Decoder) Feed(fragment string) []wire.Record {
	d.mu.Lock()
	if d.feeding {
		d.pending = append(d.pending, fragment)
		d.mu.Unlock()
		return nil
	}
	d.feeding = true
	d.mu.Unlock()

	var out []wire.Record
	next := fragment
	for {
		out = append(out, d.scan(next)...)

		d.mu.Lock()
		if len(d.pending) == 0 {
			d.feeding = false
			d.mu.Unlock()
			return out
		}
		next = d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()
	}
}

// Stats returns a copy of the cumulative counters.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Buffered returns the number of unresolved bytes carried for the next pass.
func (d *Decoder) Buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buf)
}

// scan runs a single pass over the newly appended bytes.
//
// It is safe to iterate bytes rather than runes: the structural characters
// ({, }, ", \) are ASCII, and UTF-8 guarantees ASCII bytes never occur inside
// a multi-byte sequence.
func (d *Decoder) scan(fragment string) []wire.Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, fragment...)

	var out []wire.Record
	for d.pos < len(d.buf) {
		c := d.buf[d.pos]

		switch {
		case d.escaped:
			// The escape flag covers exactly the character after the introducer.
			d.escaped = false

		case d.inStr:
			if c == '\\' {
				d.escaped = true
			} else if c == '"' {
				d.inStr = false
			}

		case c == '"':
			d.inStr = true

		case c == '{':
			d.depth++

		case c == '}':
			if d.depth == 0 {
				// Stray closer outside any record: the accumulated prefix can
				// never balance, so drop it and resynchronize.
				d.log.Warn("dropping unbalanced buffer on stray closing delimiter",
					zap.Int("dropped_bytes", d.pos+1))
				d.stats.Resets++
				d.discard(d.pos + 1)
				continue
			}
			d.depth--
			if d.depth == 0 {
				if rec, consumed := d.tryComplete(); consumed {
					if rec != nil {
						out = append(out, rec)
					}
					continue
				}
			}
		}

		d.pos++
	}

	if len(d.buf) > d.maxBuffer {
		d.log.Error("decoder buffer exceeded cap, resetting",
			zap.Int("buffered_bytes", len(d.buf)),
			zap.Int("max_bytes", d.maxBuffer))
		d.stats.Resets++
		d.discard(len(d.buf))
	}

	return out
}

// tryComplete attempts to parse the balanced prefix ending at d.pos as one
// record. It reports whether the prefix was consumed; the returned record is
// nil when valid JSON was consumed but discarded (unknown kind, missing
// fields).
func (d *Decoder) tryComplete() (wire.Record, bool) {
	candidate := bytes.TrimSpace(d.buf[:d.pos+1])
	if len(candidate) == 0 || candidate[0] != '{' || candidate[len(candidate)-1] != '}' {
		return nil, false
	}

	rec, ok, err := wire.ParseRecord(candidate)
	if err != nil {
		// Balanced but not yet valid JSON (e.g. a closer that only looked
		// structural). Keep accumulating; more data may resolve it.
		return nil, false
	}

	d.discard(d.pos + 1)
	if !ok {
		d.log.Warn("discarding record with unknown or invalid kind",
			zap.ByteString("record", candidate))
		d.stats.Discards++
		return nil, true
	}
	d.stats.Records++
	return rec, true
}

// discard removes the first n buffered bytes and restarts scanning at the
// remainder with clean structural state.
func (d *Decoder) discard(n int) {
	rest := d.buf[n:]
	d.buf = append(d.buf[:0:0], rest...)
	d.pos = 0
	d.depth = 0
	d.inStr = false
	d.escaped = false
}
