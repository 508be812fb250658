package events

import (
	"time"

	"scribe-backend/domain/core/valueobjects"
)

// SourceBackend identifies this service as the event source on the bus
const SourceBackend = "scribe.backend"

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

// Conversation events

// ConversationStarted is raised when an ingestion session opens a new
// conversation record
type ConversationStarted struct {
	BaseEvent
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Source         string `json:"source"`
}

// NewConversationStarted creates a ConversationStarted event
func NewConversationStarted(id valueobjects.ConversationID, userID, source string, timestamp time.Time) ConversationStarted {
	return ConversationStarted{
		BaseEvent: BaseEvent{
			AggregateID: id.String(),
			EventType:   "conversation.started",
			Timestamp:   timestamp,
			Version:     1,
		},
		ConversationID: id.String(),
		UserID:         userID,
		Source:         source,
	}
}

// ConversationFinalized is raised when the session ends and post-processing
// begins
type ConversationFinalized struct {
	BaseEvent
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	SegmentCount   int    `json:"segment_count"`
}

// NewConversationFinalized creates a ConversationFinalized event
func NewConversationFinalized(id valueobjects.ConversationID, userID string, segmentCount int, timestamp time.Time) ConversationFinalized {
	return ConversationFinalized{
		BaseEvent: BaseEvent{
			AggregateID: id.String(),
			EventType:   "conversation.finalized",
			Timestamp:   timestamp,
			Version:     1,
		},
		ConversationID: id.String(),
		UserID:         userID,
		SegmentCount:   segmentCount,
	}
}

// ConversationCompleted is raised when both primary extraction kinds have
// reached a terminal outcome
type ConversationCompleted struct {
	BaseEvent
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// NewConversationCompleted creates a ConversationCompleted event
func NewConversationCompleted(id valueobjects.ConversationID, userID string, timestamp time.Time) ConversationCompleted {
	return ConversationCompleted{
		BaseEvent: BaseEvent{
			AggregateID: id.String(),
			EventType:   "conversation.completed",
			Timestamp:   timestamp,
			Version:     1,
		},
		ConversationID: id.String(),
		UserID:         userID,
	}
}

// ConversationDiscarded is raised when a pre-completed conversation is
// discarded
type ConversationDiscarded struct {
	BaseEvent
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// NewConversationDiscarded creates a ConversationDiscarded event
func NewConversationDiscarded(id valueobjects.ConversationID, userID string, timestamp time.Time) ConversationDiscarded {
	return ConversationDiscarded{
		BaseEvent: BaseEvent{
			AggregateID: id.String(),
			EventType:   "conversation.discarded",
			Timestamp:   timestamp,
			Version:     1,
		},
		ConversationID: id.String(),
		UserID:         userID,
	}
}

// Extraction events

// MemoriesExtracted is raised when the memory extraction kind merges its
// results into the conversation record
type MemoriesExtracted struct {
	BaseEvent
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	MemoryCount    int    `json:"memory_count"`
}

// NewMemoriesExtracted creates a MemoriesExtracted event
func NewMemoriesExtracted(id valueobjects.ConversationID, userID string, count int, timestamp time.Time) MemoriesExtracted {
	return MemoriesExtracted{
		BaseEvent: BaseEvent{
			AggregateID: id.String(),
			EventType:   "memories.extracted",
			Timestamp:   timestamp,
			Version:     1,
		},
		ConversationID: id.String(),
		UserID:         userID,
		MemoryCount:    count,
	}
}

// ExtractionFailed is raised when an extraction kind reaches a terminal
// failure (agent error or timeout)
type ExtractionFailed struct {
	BaseEvent
	ConversationID string `json:"conversation_id"`
	Kind           string `json:"kind"`
	Reason         string `json:"reason"`
}

// NewExtractionFailed creates an ExtractionFailed event
func NewExtractionFailed(id valueobjects.ConversationID, kind valueobjects.ExtractionKind, reason string, timestamp time.Time) ExtractionFailed {
	return ExtractionFailed{
		BaseEvent: BaseEvent{
			AggregateID: id.String(),
			EventType:   "extraction.failed",
			Timestamp:   timestamp,
			Version:     1,
		},
		ConversationID: id.String(),
		Kind:           string(kind),
		Reason:         reason,
	}
}
