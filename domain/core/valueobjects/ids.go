package valueobjects

import (
	"github.com/google/uuid"

	pkgerrors "scribe-backend/pkg/errors"
)

// SessionID uniquely identifies an ephemeral ingestion session
type SessionID struct {
	value string
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID{value: uuid.New().String()}
}

// ParseSessionID validates and wraps an existing session ID
func ParseSessionID(value string) (SessionID, error) {
	if _, err := uuid.Parse(value); err != nil {
		return SessionID{}, pkgerrors.NewValidationError("invalid session ID format")
	}
	return SessionID{value: value}, nil
}

// String returns the string representation
func (id SessionID) String() string {
	return id.value
}

// IsEmpty checks if the ID is unset
func (id SessionID) IsEmpty() bool {
	return id.value == ""
}

// Equals compares two session IDs
func (id SessionID) Equals(other SessionID) bool {
	return id.value == other.value
}

// ConversationID uniquely identifies a durable conversation record
type ConversationID struct {
	value string
}

// NewConversationID generates a new conversation ID
func NewConversationID() ConversationID {
	return ConversationID{value: uuid.New().String()}
}

// ParseConversationID validates and wraps an existing conversation ID
func ParseConversationID(value string) (ConversationID, error) {
	if _, err := uuid.Parse(value); err != nil {
		return ConversationID{}, pkgerrors.NewValidationError("invalid conversation ID format")
	}
	return ConversationID{value: value}, nil
}

// String returns the string representation
func (id ConversationID) String() string {
	return id.value
}

// IsEmpty checks if the ID is unset
func (id ConversationID) IsEmpty() bool {
	return id.value == ""
}

// Equals compares two conversation IDs
func (id ConversationID) Equals(other ConversationID) bool {
	return id.value == other.value
}

// JobID identifies an asynchronous extraction job. Job IDs are assigned by
// the external agent when it answers with a processing envelope, so unlike
// the other identifiers they are opaque strings, not UUIDs.
type JobID struct {
	value string
}

// NewJobID wraps an agent-assigned job identifier
func NewJobID(value string) (JobID, error) {
	if value == "" {
		return JobID{}, pkgerrors.NewValidationError("job ID cannot be empty")
	}
	return JobID{value: value}, nil
}

// String returns the string representation
func (id JobID) String() string {
	return id.value
}

// IsEmpty checks if the ID is unset
func (id JobID) IsEmpty() bool {
	return id.value == ""
}
