package wire

import (
	"encoding/json"
	"fmt"
)

const (
	// EnvelopeSync carries a bulk replacement of message history or session
	// state, used on (re)connect.
	EnvelopeSync = "sync"
	// EnvelopeChunk carries raw incremental agent text.
	EnvelopeChunk = "chunk"
	// EnvelopeComplete finalizes the currently streaming message.
	EnvelopeComplete = "complete"
	// EnvelopeMessage carries a discrete, non-streaming assistant message.
	EnvelopeMessage = "message"
	// EnvelopeError carries a server-side error notice.
	EnvelopeError = "error"
)

// Envelope is the outer transport-level frame delivered over the socket.
//
// This is a coarser layer than Record decoding: an envelope wraps either raw
// text chunks or control signals. Unknown types are logged and ignored by the
// consumer, never fatal.
type Envelope struct {
	// Type identifies the frame kind (sync/chunk/complete/message/error).
	Type string `json:"type"`
	// Content is the type-specific payload.
	Content json.RawMessage `json:"content"`
}

// ParseEnvelope converts a decoded socket payload into an Envelope.
func ParseEnvelope(v any) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode envelope payload: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing type")
	}
	return env, nil
}

// SyncMessage is one entry of a sync history replacement.
type SyncMessage struct {
	// ID is the message identifier.
	ID string `json:"id"`
	// Role is the message role (user/assistant/system).
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
	// CreatedAtMs is the creation timestamp in unix millis.
	CreatedAtMs int64 `json:"created_at_ms"`
}

// SyncSection is one section entry of a sync state replacement.
type SyncSection struct {
	// ID is the stable section identifier.
	ID string `json:"id"`
	// Title is the section title.
	Title string `json:"title"`
	// Content is the current section body.
	Content string `json:"content"`
}

// SyncContent is the payload of a sync envelope.
type SyncContent struct {
	// ThreadID identifies the conversation thread.
	ThreadID string `json:"thread_id"`
	// Phase is the server-known phase at sync time (empty to leave unchanged).
	Phase string `json:"phase"`
	// Messages replaces the message log when present.
	Messages []SyncMessage `json:"messages"`
	// Sections replaces the report sections when present.
	Sections []SyncSection `json:"sections"`
	// PendingQuestion restores an unanswered question, if any.
	PendingQuestion string `json:"pending_question"`
	// PendingOptions restores the answer choices for PendingQuestion.
	PendingOptions []string `json:"pending_options"`
}

// ChunkContent is the payload of a chunk envelope.
type ChunkContent struct {
	// Text is the raw text fragment.
	Text string `json:"text"`
	// SectionID associates the fragment with a section when known.
	SectionID string `json:"section_id,omitempty"`
	// MessageID associates the fragment with a message when known.
	MessageID string `json:"message_id,omitempty"`
	// Done marks the final fragment of the current stream.
	Done bool `json:"done,omitempty"`
}

// CompleteContent is the payload of a complete envelope.
type CompleteContent struct {
	// MessageID identifies the finalized message.
	MessageID string `json:"message_id"`
	// FullContent, when non-empty, is the authoritative full message text.
	FullContent string `json:"full_content"`
	// Metadata holds producer-specific details.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MessageContent is the payload of a message envelope.
type MessageContent struct {
	// ID is the message identifier (generated locally when absent).
	ID string `json:"id"`
	// Role is the message role; assistant when empty.
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
}

// ErrorContent is the payload of an error envelope.
type ErrorContent struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`
	// Message is the human-readable description.
	Message string `json:"message"`
}
