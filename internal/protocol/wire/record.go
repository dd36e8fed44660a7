// Package wire defines the protocol types exchanged with the report agent:
// the structured records embedded in its output stream and the transport
// envelopes that frame the socket channel.
package wire

import (
	"encoding/json"
	"strings"
)

const (
	// KindThinking identifies a reasoning/progress note from the agent.
	KindThinking = "thinking"
	// KindOutline identifies an outline item (possibly streamed in pieces).
	KindOutline = "outline"
	// KindSection identifies cumulative section body text.
	KindSection = "section"
	// KindEdit identifies a revision of an existing section.
	KindEdit = "edit"
	// KindQuestion identifies a question the agent wants the user to answer.
	KindQuestion = "question"
	// KindStatus identifies a workflow phase change.
	KindStatus = "status"
	// KindFinal identifies the finished report artifact.
	KindFinal = "final"
)

// Record is a single structured unit decoded from the agent stream.
//
// A record is either fully present and well formed or it is never emitted;
// consumers never see partial records.
type Record interface {
	isRecord()
}

// Thinking is a reasoning note appended to the thinking log.
type Thinking struct {
	// Text is the note content.
	Text string
}

func (Thinking) isRecord() {}

// Outline carries outline text. When Indexed is true the text belongs to the
// numbered item at Index (1-based) out of Total; otherwise it is a fragment of
// an item that has not been numbered yet.
type Outline struct {
	// Text is the outline text for this delivery.
	Text string
	// Index is the 1-based item number (valid only when Indexed).
	Index int
	// Total is the declared item count (valid only when Indexed).
	Total int
	// Indexed reports whether both index and total were present.
	Indexed bool
}

func (Outline) isRecord() {}

// Section carries the cumulative body text of a report section.
//
// The producer sends growing cumulative text, not deltas: each Section record
// for the same id replaces the previously stored content.
type Section struct {
	// SectionID is the stable section identifier.
	SectionID string
	// Title is the section title (may repeat across deliveries).
	Title string
	// Text is the cumulative section content so far.
	Text string
}

func (Section) isRecord() {}

// Edit replaces the content of an existing section.
type Edit struct {
	// SectionID names the section being revised.
	SectionID string
	// ChangeType describes the revision (e.g. "rewrite", "polish").
	ChangeType string
	// Text is the full replacement content.
	Text string
}

func (Edit) isRecord() {}

// Question asks the user to pick among options before the agent continues.
type Question struct {
	// Text is the question shown to the user.
	Text string
	// Options are the answer choices, in presentation order.
	Options []string
}

func (Question) isRecord() {}

// Status declares the authoritative workflow phase.
//
// Status records are the sole authority for the session phase; the engine
// never infers phase from other record kinds.
type Status struct {
	// Phase is the declared phase value, passed through verbatim.
	Phase string
}

func (Status) isRecord() {}

// Final carries the finished report artifact.
type Final struct {
	// Markdown is the complete report body.
	Markdown string
	// Metadata holds producer-specific export details.
	Metadata map[string]any
}

func (Final) isRecord() {}

// rawRecord is the JSON shape shared by all record kinds.
type rawRecord struct {
	Kind       string         `json:"kind"`
	Text       string         `json:"text"`
	Index      *int           `json:"index"`
	Total      *int           `json:"total"`
	SectionID  string         `json:"sectionId"`
	Title      string         `json:"title"`
	ChangeType string         `json:"changeType"`
	Options    []string       `json:"options"`
	Phase      string         `json:"phase"`
	Markdown   string         `json:"markdown"`
	Metadata   map[string]any `json:"metadata"`
}

// ParseRecord parses one balanced JSON object from the agent stream.
//
// It returns (record, ok, err). err is non-nil only when the bytes are not
// valid JSON; ok is false for valid JSON that is not a usable record
// (unknown kind, missing required fields). Callers treat those as discards.
func ParseRecord(data []byte) (Record, bool, error) {
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, err
	}

	switch raw.Kind {
	case KindThinking:
		return Thinking{Text: raw.Text}, true, nil

	case KindOutline:
		out := Outline{Text: raw.Text}
		if raw.Index != nil && raw.Total != nil {
			out.Index = *raw.Index
			out.Total = *raw.Total
			out.Indexed = true
			if out.Index < 1 || out.Total < 1 {
				return nil, false, nil
			}
		}
		return out, true, nil

	case KindSection:
		if strings.TrimSpace(raw.SectionID) == "" {
			return nil, false, nil
		}
		return Section{SectionID: raw.SectionID, Title: raw.Title, Text: raw.Text}, true, nil

	case KindEdit:
		if strings.TrimSpace(raw.SectionID) == "" {
			return nil, false, nil
		}
		return Edit{SectionID: raw.SectionID, ChangeType: raw.ChangeType, Text: raw.Text}, true, nil

	case KindQuestion:
		return Question{Text: raw.Text, Options: raw.Options}, true, nil

	case KindStatus:
		if strings.TrimSpace(raw.Phase) == "" {
			return nil, false, nil
		}
		return Status{Phase: raw.Phase}, true, nil

	case KindFinal:
		return Final{Markdown: raw.Markdown, Metadata: raw.Metadata}, true, nil

	default:
		return nil, false, nil
	}
}
