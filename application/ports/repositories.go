package ports

import (
	"context"
	"time"

	"scribe-backend/domain/core/entities"
	"scribe-backend/domain/core/valueobjects"
	"scribe-backend/domain/events"
)

// ConversationRepository is the durable conversation store. The core only
// requires read-modify-write with per-field merge semantics: every write
// touches one field, never the whole record, so concurrent job completions
// never lose each other's updates.
type ConversationRepository interface {
	// Create persists a new conversation record
	Create(ctx context.Context, conversation *entities.Conversation) error

	// GetByID loads a conversation with its ordered segments and outcomes
	GetByID(ctx context.Context, id valueobjects.ConversationID) (*entities.Conversation, error)

	// ListByUser returns the user's conversations, newest first
	ListByUser(ctx context.Context, userID string, limit int) ([]*entities.Conversation, error)

	// AppendSegments appends segments to the persisted transcript in order
	AppendSegments(ctx context.Context, id valueobjects.ConversationID, segments []valueobjects.TranscriptSegment) error

	// UpdateStatus performs a conditional status transition. It fails with
	// a conflict when the record is not in the expected "from" status, which
	// is what makes the processing -> completed transition fire exactly once
	// across concurrent mergers.
	UpdateStatus(ctx context.Context, id valueobjects.ConversationID, from, to entities.ConversationStatus, finishedAt *time.Time) error

	// SetSummary merges the structured summary field
	SetSummary(ctx context.Context, id valueobjects.ConversationID, summary valueobjects.StructuredSummary) error

	// PutExtractionOutcome merges one kind's terminal outcome field
	PutExtractionOutcome(ctx context.Context, id valueobjects.ConversationID, outcome valueobjects.ExtractionOutcome) error
}

// MemoryRepository persists long-term memory records
type MemoryRepository interface {
	// CreateBatch persists extracted memories linked to their conversation
	CreateBatch(ctx context.Context, memories []*entities.Memory) error

	// ListByConversation returns the memories extracted from a conversation
	ListByConversation(ctx context.Context, conversationID valueobjects.ConversationID) ([]*entities.Memory, error)
}

// EventBus publishes domain events for downstream consumers
type EventBus interface {
	Publish(ctx context.Context, event events.DomainEvent) error
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}
