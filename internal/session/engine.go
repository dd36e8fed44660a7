package session

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quillstream/quill/internal/protocol/wire"
)

// RecordDecoder is the slice of the stream decoder the engine consumes.
type RecordDecoder interface {
	// Feed appends a fragment and returns the records it completed, in order.
	Feed(fragment string) []wire.Record
}

// Sender is the outbound half of the session channel.
//
// The engine is the only component permitted to write to it.
type Sender interface {
	// Ready reports whether the channel can accept a send right now.
	Ready() bool
	// Send writes one action to the channel.
	Send(action wire.Action) error
}

// Subscriber receives a state snapshot after every mutation.
//
// Notification is synchronous and in-order. The snapshot is a copy;
// subscribers must not expect mutations of it to have any effect.
type Subscriber func(Snapshot)

// Engine owns the session state and applies records and envelopes as state
// transitions. All mutation happens on one logical thread: no two records
// are ever applied concurrently.
type Engine struct {
	mu sync.Mutex

	threadID       string
	phase          Phase
	messages       []Message
	thinking       []string
	outline        map[int]string
	outlineTotal   int
	pendingOutline string
	currentSection string
	streamingIdx   int
	sections       map[string]ReportSection
	sectionOrder   []string
	lastQuestion   *Question
	edits          []EditNote
	final          *FinalReport

	dec RecordDecoder
	log *zap.Logger

	subMu sync.Mutex
	subs  []Subscriber

	sendMu sync.Mutex
	sender Sender

	now func() time.Time
}

// New creates an Engine for one conversation thread.
func New(threadID string, dec RecordDecoder, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		threadID:     threadID,
		phase:        PhaseIdle,
		outline:      make(map[int]string),
		sections:     make(map[string]ReportSection),
		streamingIdx: -1,
		dec:          dec,
		log:          log,
		now:          time.Now,
	}
}

// Subscribe registers a subscriber for post-mutation snapshots.
func (e *Engine) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subs = append(e.subs, fn)
}

// AttachSender installs the outbound channel. Passing nil detaches it.
func (e *Engine) AttachSender(s Sender) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	e.sender = s
}

// SubmitAction sends an outbound action tagged with a generated request id.
//
// It returns false when the channel is not attached or not ready; unsent
// actions are not queued or retried.
func (e *Engine) SubmitAction(actionType string, data map[string]any) bool {
	e.sendMu.Lock()
	sender := e.sender
	e.sendMu.Unlock()

	if sender == nil || !sender.Ready() {
		e.log.Debug("submit rejected, channel not ready", zap.String("action", actionType))
		return false
	}

	action := wire.Action{
		Type:      actionType,
		Data:      data,
		RequestID: uuid.NewString(),
	}
	if err := sender.Send(action); err != nil {
		e.log.Warn("submit failed", zap.String("action", actionType), zap.Error(err))
		return false
	}
	return true
}

// Apply applies one decoded record as a state transition and notifies
// subscribers.
func (e *Engine) Apply(rec wire.Record) {
	if rec == nil {
		return
	}

	e.mu.Lock()
	switch r := rec.(type) {
	case wire.Thinking:
		e.thinking = append(e.thinking, r.Text)

	case wire.Outline:
		e.applyOutline(r)

	case wire.Section:
		e.applySection(r)

	case wire.Edit:
		e.applyEdit(r)

	case wire.Question:
		q := Question{Text: r.Text, Options: append([]string(nil), r.Options...)}
		e.lastQuestion = &q

	case wire.Status:
		// The status record is the sole authority for phase; it is applied
		// verbatim, never inferred from other record kinds.
		e.phase = Phase(r.Phase)
		if e.phase == PhaseInterrupted {
			// Interruption stops treating any section as actively streaming.
			// CurrentSectionID and outline items persist so a later
			// status{writing} can resume where the producer left off.
			e.finishStreamingLocked("")
		}

	case wire.Final:
		e.final = &FinalReport{Markdown: r.Markdown, Metadata: copyMetadata(r.Metadata)}

	default:
		e.log.Warn("ignoring record of unknown type")
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
}

func (e *Engine) applyOutline(r wire.Outline) {
	if !r.Indexed {
		e.pendingOutline += r.Text
		return
	}
	if r.Total > e.outlineTotal {
		e.outlineTotal = r.Total
	}
	if r.Index > e.outlineTotal {
		// Accepting the item would grow the outline past its declared size.
		e.log.Warn("dropping outline item beyond declared total",
			zap.Int("index", r.Index), zap.Int("total", e.outlineTotal))
		return
	}
	// The same index may arrive across multiple records; content accumulates
	// in arrival order.
	e.outline[r.Index] += r.Text
	e.pendingOutline = ""
}

func (e *Engine) applySection(r wire.Section) {
	if e.currentSection != r.SectionID || e.streamingIdx < 0 {
		// A new section starts streaming; whatever was streaming before is
		// finished first so at most one message streams at a time.
		e.finishStreamingLocked("")
		e.startStreamingLocked(RoleAssistant, "")
		e.currentSection = r.SectionID
		if _, ok := e.sections[r.SectionID]; !ok {
			e.sectionOrder = append(e.sectionOrder, r.SectionID)
		}
	}

	sec := e.sections[r.SectionID]
	if r.Title != "" {
		sec.Title = r.Title
	}
	// The producer sends growing cumulative text, not deltas: replace, never
	// append.
	sec.Content = r.Text
	e.sections[r.SectionID] = sec

	if e.streamingIdx >= 0 {
		e.messages[e.streamingIdx].Content = r.Text
	}
}

func (e *Engine) applyEdit(r wire.Edit) {
	sec, ok := e.sections[r.SectionID]
	if !ok {
		e.sectionOrder = append(e.sectionOrder, r.SectionID)
	}
	sec.Content = r.Text
	e.sections[r.SectionID] = sec
	e.edits = append(e.edits, EditNote{
		SectionID:  r.SectionID,
		ChangeType: r.ChangeType,
		At:         e.now(),
	})
}

// HandleEnvelope dispatches one transport envelope.
//
// Unknown envelope types are logged and ignored; no envelope is fatal to the
// session.
func (e *Engine) HandleEnvelope(env wire.Envelope) {
	switch env.Type {
	case wire.EnvelopeSync:
		var c wire.SyncContent
		if err := json.Unmarshal(env.Content, &c); err != nil {
			e.log.Warn("bad sync payload", zap.Error(err))
			return
		}
		e.applySync(c)

	case wire.EnvelopeChunk:
		var c wire.ChunkContent
		if err := json.Unmarshal(env.Content, &c); err != nil {
			e.log.Warn("bad chunk payload", zap.Error(err))
			return
		}
		e.applyChunk(c)

	case wire.EnvelopeComplete:
		var c wire.CompleteContent
		if err := json.Unmarshal(env.Content, &c); err != nil {
			e.log.Warn("bad complete payload", zap.Error(err))
			return
		}
		e.mu.Lock()
		e.finishStreamingLocked(c.FullContent)
		snap := e.snapshotLocked()
		e.mu.Unlock()
		e.notify(snap)

	case wire.EnvelopeMessage:
		var c wire.MessageContent
		if err := json.Unmarshal(env.Content, &c); err != nil {
			e.log.Warn("bad message payload", zap.Error(err))
			return
		}
		role := Role(c.Role)
		if role == "" {
			role = RoleAssistant
		}
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		e.mu.Lock()
		e.messages = append(e.messages, Message{
			ID:        id,
			Role:      role,
			Content:   c.Content,
			Timestamp: e.now(),
		})
		snap := e.snapshotLocked()
		e.mu.Unlock()
		e.notify(snap)

	case wire.EnvelopeError:
		var c wire.ErrorContent
		if err := json.Unmarshal(env.Content, &c); err != nil {
			e.log.Warn("bad error payload", zap.Error(err))
			return
		}
		// Upstream errors surface as a visible system entry; they change
		// neither the phase nor the channel.
		text := c.Message
		if c.Code != "" {
			text = c.Code + ": " + c.Message
		}
		e.mu.Lock()
		e.messages = append(e.messages, Message{
			ID:        uuid.NewString(),
			Role:      RoleSystem,
			Content:   text,
			Timestamp: e.now(),
		})
		snap := e.snapshotLocked()
		e.mu.Unlock()
		e.notify(snap)

	default:
		e.log.Warn("ignoring envelope of unknown type", zap.String("type", env.Type))
	}
}

// applyChunk appends raw stream text to the currently streaming assistant
// message, then runs the decoder over the fragment and applies any structured
// records it completes.
func (e *Engine) applyChunk(c wire.ChunkContent) {
	e.mu.Lock()
	if e.streamingIdx < 0 {
		e.startStreamingLocked(RoleAssistant, c.MessageID)
	}
	e.messages[e.streamingIdx].Content += c.Text
	if c.Done {
		e.finishStreamingLocked("")
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(snap)

	if e.dec == nil {
		return
	}
	for _, rec := range e.dec.Feed(c.Text) {
		e.Apply(rec)
	}
}

func (e *Engine) applySync(c wire.SyncContent) {
	e.mu.Lock()
	if c.ThreadID != "" {
		e.threadID = c.ThreadID
	}
	if c.Phase != "" {
		e.phase = Phase(c.Phase)
	}
	if c.Messages != nil {
		e.messages = make([]Message, 0, len(c.Messages))
		for _, m := range c.Messages {
			e.messages = append(e.messages, Message{
				ID:        m.ID,
				Role:      Role(m.Role),
				Content:   m.Content,
				Timestamp: time.UnixMilli(m.CreatedAtMs),
			})
		}
		e.streamingIdx = -1
	}
	if c.Sections != nil {
		e.sections = make(map[string]ReportSection, len(c.Sections))
		e.sectionOrder = e.sectionOrder[:0]
		for _, s := range c.Sections {
			e.sections[s.ID] = ReportSection{Title: s.Title, Content: s.Content}
			e.sectionOrder = append(e.sectionOrder, s.ID)
		}
		e.currentSection = ""
	}
	if c.PendingQuestion != "" {
		e.lastQuestion = &Question{
			Text:    c.PendingQuestion,
			Options: append([]string(nil), c.PendingOptions...),
		}
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(snap)
}

// Disconnect tears down the channel and resets streaming-related fields.
// The message log and report content are preserved.
func (e *Engine) Disconnect() {
	e.sendMu.Lock()
	e.sender = nil
	e.sendMu.Unlock()

	e.mu.Lock()
	e.finishStreamingLocked("")
	e.currentSection = ""
	e.lastQuestion = nil
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(snap)
}

// Snapshot returns an immutable copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) startStreamingLocked(role Role, id string) {
	if id == "" {
		id = uuid.NewString()
	}
	e.messages = append(e.messages, Message{
		ID:        id,
		Role:      role,
		Streaming: true,
		Timestamp: e.now(),
	})
	e.streamingIdx = len(e.messages) - 1
}

// finishStreamingLocked clears the streaming flag on the in-flight message,
// substituting authoritative full content when provided.
func (e *Engine) finishStreamingLocked(fullContent string) {
	if e.streamingIdx < 0 {
		return
	}
	msg := &e.messages[e.streamingIdx]
	msg.Streaming = false
	if fullContent != "" {
		msg.Content = fullContent
	}
	e.streamingIdx = -1
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		ThreadID:               e.threadID,
		Phase:                  e.phase,
		Messages:               append([]Message(nil), e.messages...),
		Thinking:               append([]string(nil), e.thinking...),
		OutlineTotal:           e.outlineTotal,
		PendingOutlineFragment: e.pendingOutline,
		CurrentSectionID:       e.currentSection,
		Sections:               make(map[string]ReportSection, len(e.sections)),
		SectionOrder:           append([]string(nil), e.sectionOrder...),
		Edits:                  append([]EditNote(nil), e.edits...),
	}

	indexes := make([]int, 0, len(e.outline))
	for idx := range e.outline {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	snap.OutlineItems = make([]OutlineItem, 0, len(indexes))
	for _, idx := range indexes {
		snap.OutlineItems = append(snap.OutlineItems, OutlineItem{Index: idx, Content: e.outline[idx]})
	}

	for id, sec := range e.sections {
		snap.Sections[id] = sec
	}
	if e.lastQuestion != nil {
		q := Question{Text: e.lastQuestion.Text, Options: append([]string(nil), e.lastQuestion.Options...)}
		snap.LastQuestion = &q
	}
	if e.final != nil {
		snap.Final = &FinalReport{Markdown: e.final.Markdown, Metadata: copyMetadata(e.final.Metadata)}
	}
	return snap
}

// notify delivers a snapshot to all subscribers. Delivery is synchronous on
// the mutating call, so snapshots arrive in mutation order.
func (e *Engine) notify(snap Snapshot) {
	e.subMu.Lock()
	subs := append([]Subscriber(nil), e.subs...)
	e.subMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
