package wire

const (
	// ActionStart begins a new report conversation.
	ActionStart = "start"
	// ActionMessage sends a free-text user message.
	ActionMessage = "message"
	// ActionApprove confirms the outline or a section.
	ActionApprove = "approve"
	// ActionEditSection requests a revision of one section.
	ActionEditSection = "edit_section"
	// ActionRegenerate requests a full rewrite of one section.
	ActionRegenerate = "regenerate"
	// ActionCancel interrupts the agent's current work.
	ActionCancel = "cancel"
	// ActionPing is a liveness probe.
	ActionPing = "ping"
)

// Action is an outbound operation submitted by the client.
//
// RequestID is a generated correlation id; the server echoes it on responses
// so callers can match acknowledgements to submissions.
type Action struct {
	// Type identifies the operation (start/message/approve/...).
	Type string `json:"type"`
	// Data is the operation-specific payload.
	Data map[string]any `json:"data"`
	// RequestID correlates the action with server responses.
	RequestID string `json:"request_id"`
}
