package entities

import (
	"time"

	"github.com/google/uuid"

	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
)

// MemoryCategory classifies a long-term memory fact
type MemoryCategory string

const (
	MemoryCategoryInteresting MemoryCategory = "interesting"
	MemoryCategorySystem      MemoryCategory = "system"
)

// MemoryVisibility controls who can see a memory
type MemoryVisibility string

const (
	MemoryVisibilityPrivate MemoryVisibility = "private"
	MemoryVisibilityPublic  MemoryVisibility = "public"
)

// Memory is a durable long-term fact extracted from a conversation. It is
// created only by the memory extraction job and never mutated after
// creation.
type Memory struct {
	id             string
	userID         string
	conversationID valueobjects.ConversationID
	content        string
	category       MemoryCategory
	tags           []string
	visibility     MemoryVisibility
	createdAt      time.Time
}

// NewMemory creates a memory linked to its source conversation
func NewMemory(
	userID string,
	conversationID valueobjects.ConversationID,
	content string,
	category MemoryCategory,
	tags []string,
	visibility MemoryVisibility,
) (*Memory, error) {
	if userID == "" {
		return nil, pkgerrors.NewValidationError("userID cannot be empty")
	}
	if conversationID.IsEmpty() {
		return nil, pkgerrors.NewValidationError("conversationID cannot be empty")
	}
	if content == "" {
		return nil, pkgerrors.NewValidationError("memory content cannot be empty")
	}
	if category != MemoryCategoryInteresting && category != MemoryCategorySystem {
		category = MemoryCategoryInteresting
	}
	if visibility == "" {
		visibility = MemoryVisibilityPrivate
	}

	return &Memory{
		id:             uuid.New().String(),
		userID:         userID,
		conversationID: conversationID,
		content:        content,
		category:       category,
		tags:           dedupeTags(tags),
		visibility:     visibility,
		createdAt:      time.Now(),
	}, nil
}

// ReconstructMemory rebuilds a memory from repository data
func ReconstructMemory(
	id string,
	userID string,
	conversationID valueobjects.ConversationID,
	content string,
	category MemoryCategory,
	tags []string,
	visibility MemoryVisibility,
	createdAt time.Time,
) *Memory {
	return &Memory{
		id:             id,
		userID:         userID,
		conversationID: conversationID,
		content:        content,
		category:       category,
		tags:           tags,
		visibility:     visibility,
		createdAt:      createdAt,
	}
}

// ID returns the memory's unique identifier
func (m *Memory) ID() string {
	return m.id
}

// UserID returns the owner's ID
func (m *Memory) UserID() string {
	return m.userID
}

// ConversationID returns the source conversation reference
func (m *Memory) ConversationID() valueobjects.ConversationID {
	return m.conversationID
}

// Content returns the memory content
func (m *Memory) Content() string {
	return m.content
}

// Category returns the memory category
func (m *Memory) Category() MemoryCategory {
	return m.category
}

// Tags returns a copy of the tag set
func (m *Memory) Tags() []string {
	tags := make([]string, len(m.tags))
	copy(tags, m.tags)
	return tags
}

// Visibility returns the memory visibility
func (m *Memory) Visibility() MemoryVisibility {
	return m.visibility
}

// CreatedAt returns when the memory was created
func (m *Memory) CreatedAt() time.Time {
	return m.createdAt
}

// dedupeTags preserves first-seen order while dropping duplicates and blanks
func dedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
