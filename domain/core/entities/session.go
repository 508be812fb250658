package entities

import (
	"sync/atomic"
	"time"

	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
)

// SessionStatus represents the lifecycle state of an ingestion session
type SessionStatus int32

const (
	SessionActive SessionStatus = iota
	SessionFinalizing
	SessionDone
)

// String returns the status name
func (s SessionStatus) String() string {
	switch s {
	case SessionActive:
		return "ACTIVE"
	case SessionFinalizing:
		return "FINALIZING"
	case SessionDone:
		return "DONE"
	}
	return "UNKNOWN"
}

// NoIdleTimeout is the sentinel for sessions that never auto-finalize
const NoIdleTimeout time.Duration = 0

// Session is the ephemeral state for one active ingestion channel. It is
// owned exclusively by the session manager and destroyed once DONE.
//
// The status field is a compare-and-swap machine: the ACTIVE -> FINALIZING
// transition fires exactly once even when the idle timer and an explicit
// close race.
type Session struct {
	id             valueobjects.SessionID
	userID         string
	conversationID valueobjects.ConversationID
	idleTimeout    time.Duration
	createdAt      time.Time

	status atomic.Int32
}

// NewSession creates a session in the ACTIVE state bound to a conversation.
// The idle timeout must already be clamped by the caller.
func NewSession(userID string, conversationID valueobjects.ConversationID, idleTimeout time.Duration) (*Session, error) {
	if userID == "" {
		return nil, pkgerrors.NewValidationError("userID cannot be empty")
	}
	if conversationID.IsEmpty() {
		return nil, pkgerrors.NewValidationError("conversationID cannot be empty")
	}

	s := &Session{
		id:             valueobjects.NewSessionID(),
		userID:         userID,
		conversationID: conversationID,
		idleTimeout:    idleTimeout,
		createdAt:      time.Now(),
	}
	s.status.Store(int32(SessionActive))
	return s, nil
}

// ID returns the session's unique identifier
func (s *Session) ID() valueobjects.SessionID {
	return s.id
}

// UserID returns the owner's ID
func (s *Session) UserID() string {
	return s.userID
}

// ConversationID returns the conversation this session writes to
func (s *Session) ConversationID() valueobjects.ConversationID {
	return s.conversationID
}

// IdleTimeout returns the clamped idle timeout, or NoIdleTimeout
func (s *Session) IdleTimeout() time.Duration {
	return s.idleTimeout
}

// HasIdleTimeout reports whether the session auto-finalizes when idle
func (s *Session) HasIdleTimeout() bool {
	return s.idleTimeout != NoIdleTimeout
}

// CreatedAt returns when the session was opened
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Status returns the current lifecycle status
func (s *Session) Status() SessionStatus {
	return SessionStatus(s.status.Load())
}

// BeginFinalize attempts the ACTIVE -> FINALIZING transition. It returns
// true for exactly one caller; the losing trigger gets false.
func (s *Session) BeginFinalize() bool {
	return s.status.CompareAndSwap(int32(SessionActive), int32(SessionFinalizing))
}

// MarkDone moves FINALIZING -> DONE after post-processing has been
// dispatched. Dispatch is fire-and-forget at this layer, so DONE does not
// wait for job completion.
func (s *Session) MarkDone() bool {
	return s.status.CompareAndSwap(int32(SessionFinalizing), int32(SessionDone))
}
