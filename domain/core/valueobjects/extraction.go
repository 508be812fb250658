package valueobjects

import (
	"time"

	pkgerrors "scribe-backend/pkg/errors"
)

// ExtractionKind is one category of derived artifact produced after a
// conversation ends
type ExtractionKind string

const (
	KindSummary     ExtractionKind = "summary"
	KindMemory      ExtractionKind = "memory"
	KindVector      ExtractionKind = "vector"
	KindTrends      ExtractionKind = "trends"
	KindActionItems ExtractionKind = "action_items"
)

// AllExtractionKinds returns every kind dispatched on finalization
func AllExtractionKinds() []ExtractionKind {
	return []ExtractionKind{KindSummary, KindMemory, KindVector, KindTrends, KindActionItems}
}

// PrimaryExtractionKinds returns the kinds that gate the conversation's
// completed status
func PrimaryExtractionKinds() []ExtractionKind {
	return []ExtractionKind{KindSummary, KindMemory}
}

// IsPrimary reports whether the kind gates conversation completion.
// Best-effort kinds never block completion; their failures are logged only.
func (k ExtractionKind) IsPrimary() bool {
	return k == KindSummary || k == KindMemory
}

// IsValid reports whether the kind is known
func (k ExtractionKind) IsValid() bool {
	switch k {
	case KindSummary, KindMemory, KindVector, KindTrends, KindActionItems:
		return true
	}
	return false
}

// ParseExtractionKind validates a kind received over the wire
func ParseExtractionKind(value string) (ExtractionKind, error) {
	k := ExtractionKind(value)
	if !k.IsValid() {
		return "", pkgerrors.NewValidationError("unknown extraction kind: " + value)
	}
	return k, nil
}

// OutcomeStatus is the terminal state of one extraction kind for one
// conversation
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeEmpty     OutcomeStatus = "empty"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeTimedOut  OutcomeStatus = "timed_out"
)

// ExtractionOutcome records the terminal result of one extraction kind.
// A failed or timed-out outcome is recorded explicitly so that "nothing
// worth extracting" and "extraction failed" stay distinguishable.
type ExtractionOutcome struct {
	Kind        ExtractionKind `json:"kind"`
	Status      OutcomeStatus  `json:"status"`
	Error       string         `json:"error,omitempty"`
	ItemCount   int            `json:"item_count"`
	CompletedAt time.Time      `json:"completed_at"`
}

// IsTerminalFailure reports whether the outcome represents a failure rather
// than a legitimate empty result
func (o ExtractionOutcome) IsTerminalFailure() bool {
	return o.Status == OutcomeFailed || o.Status == OutcomeTimedOut
}

// StructuredSummary is the structured field produced by the summary
// extraction kind
type StructuredSummary struct {
	Title        string   `json:"title"`
	Overview     string   `json:"overview"`
	Category     string   `json:"category,omitempty"`
	Emoji        string   `json:"emoji,omitempty"`
	KeyTakeaways []string `json:"key_takeaways,omitempty"`
	ActionItems  []string `json:"action_items,omitempty"`
}

// IsEmpty reports whether the summary carries no content
func (s StructuredSummary) IsEmpty() bool {
	return s.Title == "" && s.Overview == ""
}
