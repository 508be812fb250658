package entities

import (
	"time"

	"scribe-backend/domain/core/valueobjects"
	"scribe-backend/domain/events"
	pkgerrors "scribe-backend/pkg/errors"
)

// ConversationStatus represents the durable processing state of a conversation
type ConversationStatus string

const (
	ConversationInProgress ConversationStatus = "in_progress"
	ConversationProcessing ConversationStatus = "processing"
	ConversationCompleted  ConversationStatus = "completed"
	ConversationDiscarded  ConversationStatus = "discarded"
)

// CanTransitionTo enforces the monotonic status machine:
// in_progress -> processing -> completed, with discarded reachable only
// from a pre-completed state. Transitions never reverse and never skip
// a non-terminal step.
func (s ConversationStatus) CanTransitionTo(target ConversationStatus) bool {
	switch target {
	case ConversationProcessing:
		return s == ConversationInProgress
	case ConversationCompleted:
		return s == ConversationProcessing
	case ConversationDiscarded:
		return s == ConversationInProgress || s == ConversationProcessing
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed
func (s ConversationStatus) IsTerminal() bool {
	return s == ConversationCompleted || s == ConversationDiscarded
}

// Conversation is the durable record produced by one ingestion session.
// Segments are append-only and sorted by start time non-decreasing; they are
// never reordered after append.
type Conversation struct {
	id         valueobjects.ConversationID
	userID     string
	status     ConversationStatus
	segments   []valueobjects.TranscriptSegment
	startedAt  time.Time
	finishedAt *time.Time
	summary    *valueobjects.StructuredSummary
	outcomes   map[valueobjects.ExtractionKind]valueobjects.ExtractionOutcome
	source     string

	events []events.DomainEvent
}

// NewConversation creates a conversation in the in_progress state
func NewConversation(userID, source string) (*Conversation, error) {
	if userID == "" {
		return nil, pkgerrors.NewValidationError("userID cannot be empty")
	}

	now := time.Now()
	conv := &Conversation{
		id:        valueobjects.NewConversationID(),
		userID:    userID,
		status:    ConversationInProgress,
		segments:  []valueobjects.TranscriptSegment{},
		startedAt: now,
		outcomes:  make(map[valueobjects.ExtractionKind]valueobjects.ExtractionOutcome),
		source:    source,
		events:    []events.DomainEvent{},
	}

	conv.addEvent(events.NewConversationStarted(conv.id, userID, source, now))

	return conv, nil
}

// ReconstructConversation rebuilds a conversation from repository data with
// preserved timestamps
func ReconstructConversation(
	id valueobjects.ConversationID,
	userID string,
	status ConversationStatus,
	segments []valueobjects.TranscriptSegment,
	startedAt time.Time,
	finishedAt *time.Time,
	summary *valueobjects.StructuredSummary,
	outcomes map[valueobjects.ExtractionKind]valueobjects.ExtractionOutcome,
	source string,
) (*Conversation, error) {
	if userID == "" {
		return nil, pkgerrors.NewValidationError("userID cannot be empty")
	}
	if outcomes == nil {
		outcomes = make(map[valueobjects.ExtractionKind]valueobjects.ExtractionOutcome)
	}

	return &Conversation{
		id:         id,
		userID:     userID,
		status:     status,
		segments:   segments,
		startedAt:  startedAt,
		finishedAt: finishedAt,
		summary:    summary,
		outcomes:   outcomes,
		source:     source,
		events:     []events.DomainEvent{},
	}, nil
}

// ID returns the conversation's unique identifier
func (c *Conversation) ID() valueobjects.ConversationID {
	return c.id
}

// UserID returns the owner's ID
func (c *Conversation) UserID() string {
	return c.userID
}

// Status returns the current processing status
func (c *Conversation) Status() ConversationStatus {
	return c.status
}

// Source returns the ingestion source tag
func (c *Conversation) Source() string {
	return c.source
}

// StartedAt returns when the conversation started
func (c *Conversation) StartedAt() time.Time {
	return c.startedAt
}

// FinishedAt returns when the conversation finished, if it has
func (c *Conversation) FinishedAt() *time.Time {
	return c.finishedAt
}

// Summary returns the structured summary, if one has been merged
func (c *Conversation) Summary() *valueobjects.StructuredSummary {
	return c.summary
}

// Segments returns a copy of the ordered transcript segments
func (c *Conversation) Segments() []valueobjects.TranscriptSegment {
	segments := make([]valueobjects.TranscriptSegment, len(c.segments))
	copy(segments, c.segments)
	return segments
}

// SegmentCount returns the number of transcript segments
func (c *Conversation) SegmentCount() int {
	return len(c.segments)
}

// Outcomes returns a copy of the per-kind extraction outcomes
func (c *Conversation) Outcomes() map[valueobjects.ExtractionKind]valueobjects.ExtractionOutcome {
	outcomes := make(map[valueobjects.ExtractionKind]valueobjects.ExtractionOutcome, len(c.outcomes))
	for k, v := range c.outcomes {
		outcomes[k] = v
	}
	return outcomes
}

// AppendSegments appends segments to the transcript. Start times must be
// non-decreasing; a regression returns OutOfOrderSegment but the segments
// are still appended, because sessions must never deadlock on malformed
// input. Callers log the error and carry on.
func (c *Conversation) AppendSegments(segments []valueobjects.TranscriptSegment) error {
	if c.status.IsTerminal() {
		return pkgerrors.NewConflictError("cannot append segments to a terminal conversation")
	}

	var outOfOrder error
	lastStart := -1.0
	if n := len(c.segments); n > 0 {
		lastStart = c.segments[n-1].Start()
	}

	for _, seg := range segments {
		if seg.Start() < lastStart && outOfOrder == nil {
			outOfOrder = pkgerrors.NewOutOfOrderSegmentError(c.id.String(), lastStart, seg.Start())
		}
		if seg.Start() > lastStart {
			lastStart = seg.Start()
		}
		c.segments = append(c.segments, seg)
	}

	return outOfOrder
}

// Transcript assembles the full speaker-labeled transcript from the ordered
// segments
func (c *Conversation) Transcript() string {
	return valueobjects.AssembleTranscript(c.segments)
}

// BeginProcessing transitions in_progress -> processing
func (c *Conversation) BeginProcessing() error {
	if !c.status.CanTransitionTo(ConversationProcessing) {
		return pkgerrors.NewConflictError("conversation is not in progress")
	}

	c.status = ConversationProcessing
	c.addEvent(events.NewConversationFinalized(c.id, c.userID, len(c.segments), time.Now()))
	return nil
}

// Complete transitions processing -> completed and stamps finishedAt
func (c *Conversation) Complete() error {
	if !c.status.CanTransitionTo(ConversationCompleted) {
		return pkgerrors.NewConflictError("conversation is not processing")
	}

	now := time.Now()
	c.status = ConversationCompleted
	c.finishedAt = &now
	c.addEvent(events.NewConversationCompleted(c.id, c.userID, now))
	return nil
}

// Discard transitions a pre-completed conversation to discarded
func (c *Conversation) Discard() error {
	if !c.status.CanTransitionTo(ConversationDiscarded) {
		return pkgerrors.NewConflictError("conversation cannot be discarded from its current status")
	}

	now := time.Now()
	c.status = ConversationDiscarded
	c.finishedAt = &now
	c.addEvent(events.NewConversationDiscarded(c.id, c.userID, now))
	return nil
}

// AttachSummary merges the structured summary field. Only a field-level
// update; it never touches sibling fields.
func (c *Conversation) AttachSummary(summary valueobjects.StructuredSummary) {
	c.summary = &summary
}

// RecordOutcome records the terminal result of one extraction kind
func (c *Conversation) RecordOutcome(outcome valueobjects.ExtractionOutcome) {
	c.outcomes[outcome.Kind] = outcome
}

// PrimaryOutcomesTerminal reports whether every primary extraction kind has
// reached a terminal outcome, success or failure
func (c *Conversation) PrimaryOutcomesTerminal() bool {
	for _, kind := range valueobjects.PrimaryExtractionKinds() {
		if _, ok := c.outcomes[kind]; !ok {
			return false
		}
	}
	return true
}

// GetUncommittedEvents returns all uncommitted domain events
func (c *Conversation) GetUncommittedEvents() []events.DomainEvent {
	return c.events
}

// MarkEventsAsCommitted clears the uncommitted events
func (c *Conversation) MarkEventsAsCommitted() {
	c.events = []events.DomainEvent{}
}

func (c *Conversation) addEvent(event events.DomainEvent) {
	c.events = append(c.events, event)
}
