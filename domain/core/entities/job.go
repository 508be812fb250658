package entities

import (
	"time"

	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
)

// JobStatus represents the lifecycle state of an asynchronous extraction job
type JobStatus string

const (
	JobPending  JobStatus = "PENDING"
	JobResolved JobStatus = "RESOLVED"
	JobFailed   JobStatus = "FAILED"
	JobTimedOut JobStatus = "TIMED_OUT"
)

// IsTerminal reports whether the job has reached a final state
func (s JobStatus) IsTerminal() bool {
	return s != JobPending
}

// Job is an ephemeral orchestration record tracking one outstanding
// asynchronous extraction. At most one non-terminal job exists per
// (conversation, kind) at any time; the registry enforces that invariant.
type Job struct {
	id             valueobjects.JobID
	conversationID valueobjects.ConversationID
	kind           valueobjects.ExtractionKind
	status         JobStatus
	deadline       time.Time
	createdAt      time.Time
	resolvedAt     *time.Time
}

// NewJob creates a pending job with an absolute deadline
func NewJob(
	id valueobjects.JobID,
	conversationID valueobjects.ConversationID,
	kind valueobjects.ExtractionKind,
	deadline time.Time,
) (*Job, error) {
	if id.IsEmpty() {
		return nil, pkgerrors.NewValidationError("job ID cannot be empty")
	}
	if conversationID.IsEmpty() {
		return nil, pkgerrors.NewValidationError("conversationID cannot be empty")
	}
	if !kind.IsValid() {
		return nil, pkgerrors.NewValidationError("unknown extraction kind")
	}

	return &Job{
		id:             id,
		conversationID: conversationID,
		kind:           kind,
		status:         JobPending,
		deadline:       deadline,
		createdAt:      time.Now(),
	}, nil
}

// ID returns the agent-assigned job identifier
func (j *Job) ID() valueobjects.JobID {
	return j.id
}

// ConversationID returns the conversation this job belongs to
func (j *Job) ConversationID() valueobjects.ConversationID {
	return j.conversationID
}

// Kind returns the extraction kind
func (j *Job) Kind() valueobjects.ExtractionKind {
	return j.kind
}

// Status returns the current job status
func (j *Job) Status() JobStatus {
	return j.status
}

// Deadline returns the absolute deadline after which the sweep will time
// the job out
func (j *Job) Deadline() time.Time {
	return j.deadline
}

// CreatedAt returns when the job was registered
func (j *Job) CreatedAt() time.Time {
	return j.createdAt
}

// IsExpired reports whether the deadline has passed at the given instant
func (j *Job) IsExpired(now time.Time) bool {
	return now.After(j.deadline)
}

// Resolve transitions PENDING -> RESOLVED. Resolving a job already in a
// terminal state fails; callers treat that as a late or duplicate callback
// and log it.
func (j *Job) Resolve() error {
	if j.status != JobPending {
		return pkgerrors.NewConflictError("job is not pending")
	}
	now := time.Now()
	j.status = JobResolved
	j.resolvedAt = &now
	return nil
}

// Fail transitions PENDING -> FAILED on an explicit error callback
func (j *Job) Fail() error {
	if j.status != JobPending {
		return pkgerrors.NewConflictError("job is not pending")
	}
	now := time.Now()
	j.status = JobFailed
	j.resolvedAt = &now
	return nil
}

// TimeOut transitions PENDING -> TIMED_OUT when the sweep finds the
// deadline passed
func (j *Job) TimeOut() error {
	if j.status != JobPending {
		return pkgerrors.NewConflictError("job is not pending")
	}
	now := time.Now()
	j.status = JobTimedOut
	j.resolvedAt = &now
	return nil
}
