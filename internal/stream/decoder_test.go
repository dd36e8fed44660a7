package stream

import (
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quillstream/quill/internal/protocol/wire"
)

const scenarioStream = `{"kind":"thinking","text":"x"}` + "\n" +
	`{"kind":"outline","text":"1. Intro","index":1,"total":2}` + "\n" +
	`{"kind":"outline","text":"2. Body","index":2,"total":2}` + "\n" +
	`{"kind":"status","phase":"outlined"}` + "\n" +
	`{"kind":"question","text":"ok?","options":["yes","no"]}`

func feedAll(d *Decoder, fragments []string) []wire.Record {
	var out []wire.Record
	for _, f := range fragments {
		out = append(out, d.Feed(f)...)
	}
	return out
}

// splitRandom cuts s into fragments of random length using a fixed seed so
// failures reproduce.
func splitRandom(s string, seed int64) []string {
	rng := rand.New(rand.NewSource(seed))
	var parts []string
	for len(s) > 0 {
		n := 1 + rng.Intn(7)
		if n > len(s) {
			n = len(s)
		}
		parts = append(parts, s[:n])
		s = s[n:]
	}
	return parts
}

// Decoding the same stream as one fragment, one-byte fragments, or random
// fragments must yield the identical record list.
func TestFeedBoundaryIndependence(t *testing.T) {
	whole := feedAll(New(0, nil), []string{scenarioStream})
	require.Len(t, whole, 5)

	var perChar []string
	for i := 0; i < len(scenarioStream); i++ {
		perChar = append(perChar, scenarioStream[i:i+1])
	}
	require.Equal(t, whole, feedAll(New(0, nil), perChar))

	for seed := int64(0); seed < 20; seed++ {
		require.Equal(t, whole, feedAll(New(0, nil), splitRandom(scenarioStream, seed)),
			"seed %d", seed)
	}
}

func TestFeedMultipleRecordsInOneFragment(t *testing.T) {
	records := New(0, nil).Feed(scenarioStream)
	require.Len(t, records, 5)

	require.IsType(t, wire.Thinking{}, records[0])
	require.IsType(t, wire.Outline{}, records[1])
	require.IsType(t, wire.Outline{}, records[2])
	require.IsType(t, wire.Status{}, records[3])
	require.IsType(t, wire.Question{}, records[4])
}

// A prefix cut anywhere before the closing delimiter emits nothing; the
// suffix then yields exactly the full record.
func TestFeedNoPartialEmission(t *testing.T) {
	record := `{"kind":"thinking","text":"hello world"}`
	for cut := 1; cut < len(record); cut++ {
		d := New(0, nil)
		require.Empty(t, d.Feed(record[:cut]), "cut %d", cut)

		records := d.Feed(record[cut:])
		require.Len(t, records, 1, "cut %d", cut)
		require.Equal(t, wire.Thinking{Text: "hello world"}, records[0])
	}
}

// Escaped quotes and delimiter-shaped substrings inside strings must not
// split the record early.
func TestFeedQuoteAndEscapeCorrectness(t *testing.T) {
	record := `{"kind":"thinking","text":"she said \"hi\" and {not a record} and a \\ backslash"}`

	records := New(0, nil).Feed(record)
	require.Len(t, records, 1)
	require.Equal(t,
		wire.Thinking{Text: `she said "hi" and {not a record} and a \ backslash`},
		records[0])

	// Same stream split at every byte boundary.
	for cut := 1; cut < len(record); cut++ {
		d := New(0, nil)
		out := append(d.Feed(record[:cut]), d.Feed(record[cut:])...)
		require.Len(t, out, 1, "cut %d", cut)
	}
}

// An escaped escape-introducer must not mark the closing quote as escaped.
func TestFeedEscapedBackslashBeforeQuote(t *testing.T) {
	records := New(0, nil).Feed(`{"kind":"thinking","text":"ends with \\"}`)
	require.Len(t, records, 1)
	require.Equal(t, wire.Thinking{Text: `ends with \`}, records[0])
}

// Balanced JSON with an unknown kind is consumed and discarded, and the
// records around it still decode.
func TestFeedUnknownKindDiscarded(t *testing.T) {
	d := New(0, nil)
	records := d.Feed(`{"kind":"telemetry","x":1}{"kind":"thinking","text":"y"}`)
	require.Len(t, records, 1)
	require.Equal(t, wire.Thinking{Text: "y"}, records[0])

	stats := d.Stats()
	require.EqualValues(t, 1, stats.Records)
	require.EqualValues(t, 1, stats.Discards)
}

// A stray closing delimiter outside any record resets the buffer and
// decoding resynchronizes on the next record.
func TestFeedStrayCloserResets(t *testing.T) {
	d := New(0, nil)
	require.Empty(t, d.Feed("garbage}"))
	require.EqualValues(t, 1, d.Stats().Resets)
	require.Zero(t, d.Buffered())

	records := d.Feed(`{"kind":"status","phase":"writing"}`)
	require.Len(t, records, 1)
}

// Leading whitespace between records is tolerated.
func TestFeedInterRecordWhitespace(t *testing.T) {
	records := New(0, nil).Feed("\n  " + `{"kind":"thinking","text":"a"}` + "\n\n" + `{"kind":"thinking","text":"b"}` + "\n")
	require.Len(t, records, 2)
}

// An unresolvable buffer past the cap is reset and reported in stats rather
// than retained forever.
func TestFeedBufferCap(t *testing.T) {
	d := New(64, nil)
	require.Empty(t, d.Feed(`{"kind":"thinking","text":"`+strings.Repeat("a", 256)))
	require.EqualValues(t, 1, d.Stats().Resets)
	require.Zero(t, d.Buffered())

	records := d.Feed(`{"kind":"thinking","text":"ok"}`)
	require.Len(t, records, 1)
}

// Concurrent feeders never interleave passes; every record still comes out
// exactly once.
func TestFeedConcurrentPasses(t *testing.T) {
	d := New(0, nil)

	const goroutines = 8
	const perGoroutine = 50

	var mu sync.Mutex
	total := 0

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				records := d.Feed(`{"kind":"thinking","text":"t"}`)
				mu.Lock()
				total += len(records)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, goroutines*perGoroutine, total)
	require.EqualValues(t, goroutines*perGoroutine, d.Stats().Records)
	require.Zero(t, d.Buffered())
}
