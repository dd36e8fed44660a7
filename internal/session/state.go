// Package session owns the conversation state for one report thread and
// applies decoded records and transport envelopes as state transitions.
package session

import "time"

// Phase is the conversation macro-state.
//
// Phase is authoritative only via status records; the engine never infers it
// from other record kinds.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseOutlining   Phase = "outlining"
	PhaseOutlined    Phase = "outlined"
	PhaseWriting     Phase = "writing"
	PhaseInterrupted Phase = "interrupted"
	PhaseCompleted   Phase = "completed"
	PhaseFinalizing  Phase = "finalizing"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of the conversation log.
type Message struct {
	// ID is the message identifier.
	ID string
	// Role is the author role.
	Role Role
	// Content is the message text.
	Content string
	// Streaming is true while the message is still receiving text. At most
	// one message is streaming at a time.
	Streaming bool
	// Timestamp is the creation time.
	Timestamp time.Time
}

// OutlineItem is one numbered entry of the report outline.
type OutlineItem struct {
	// Index is the 1-based position.
	Index int
	// Content is the accumulated item text.
	Content string
}

// ReportSection is one titled unit of the report body.
type ReportSection struct {
	// Title is the section title.
	Title string
	// Content is the current section body. Section and edit records replace
	// it wholesale; it never accumulates deltas.
	Content string
}

// Question is a pending user decision.
type Question struct {
	// Text is the question shown to the user.
	Text string
	// Options are the answer choices, in order.
	Options []string
}

// EditNote records that a section was revised, for audit/UI purposes.
type EditNote struct {
	// SectionID names the revised section.
	SectionID string
	// ChangeType describes the revision as declared by the producer.
	ChangeType string
	// At is the local time the edit was applied.
	At time.Time
}

// FinalReport is the finished artifact.
type FinalReport struct {
	// Markdown is the complete report body.
	Markdown string
	// Metadata holds producer-specific export details.
	Metadata map[string]any
}

// Snapshot is an immutable copy of the session state.
//
// Subscribers receive snapshots, never live references, so a concurrent read
// during mutation cannot observe a half-updated state. Mutating a snapshot
// has no effect on the engine.
type Snapshot struct {
	// ThreadID identifies the conversation thread.
	ThreadID string
	// Phase is the current macro-state.
	Phase Phase
	// Messages is the ordered conversation log.
	Messages []Message
	// Thinking is the ordered thinking log.
	Thinking []string
	// OutlineItems holds the numbered outline entries in index order. The
	// sequence is sparse: indexes not yet delivered are absent.
	OutlineItems []OutlineItem
	// OutlineTotal is the declared outline item count (0 when undeclared).
	OutlineTotal int
	// PendingOutlineFragment is outline text not yet attached to a numbered
	// item.
	PendingOutlineFragment string
	// CurrentSectionID is the id of the section presently streaming ("" when
	// none).
	CurrentSectionID string
	// Sections maps section id to its current title and content.
	Sections map[string]ReportSection
	// SectionOrder lists section ids in first-seen order.
	SectionOrder []string
	// LastQuestion is the most recent unanswered question, or nil.
	LastQuestion *Question
	// Edits is the ordered revision audit log.
	Edits []EditNote
	// Final is the finished artifact when one has been received.
	Final *FinalReport
}
