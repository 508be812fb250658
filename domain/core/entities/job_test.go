package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
)

func testJob(t *testing.T) *Job {
	t.Helper()
	jobID, err := valueobjects.NewJobID("job-1")
	require.NoError(t, err)
	job, err := NewJob(jobID, valueobjects.NewConversationID(), valueobjects.KindSummary, time.Now().Add(30*time.Second))
	require.NoError(t, err)
	return job
}

func TestNewJob_Validation(t *testing.T) {
	conversationID := valueobjects.NewConversationID()
	deadline := time.Now().Add(time.Minute)
	jobID, err := valueobjects.NewJobID("job-1")
	require.NoError(t, err)

	_, err = NewJob(valueobjects.JobID{}, conversationID, valueobjects.KindSummary, deadline)
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = NewJob(jobID, valueobjects.ConversationID{}, valueobjects.KindSummary, deadline)
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = NewJob(jobID, conversationID, valueobjects.ExtractionKind("sentiment"), deadline)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestJob_ResolveIsTerminal(t *testing.T) {
	// Arrange
	job := testJob(t)
	assert.Equal(t, JobPending, job.Status())
	assert.False(t, job.Status().IsTerminal())

	// Act
	require.NoError(t, job.Resolve())

	// Assert
	assert.Equal(t, JobResolved, job.Status())
	assert.True(t, job.Status().IsTerminal())

	// Late transitions are conflicts
	assert.True(t, pkgerrors.IsConflict(job.Resolve()))
	assert.True(t, pkgerrors.IsConflict(job.Fail()))
	assert.True(t, pkgerrors.IsConflict(job.TimeOut()))
}

func TestJob_FailAndTimeOut(t *testing.T) {
	failed := testJob(t)
	require.NoError(t, failed.Fail())
	assert.Equal(t, JobFailed, failed.Status())

	timedOut := testJob(t)
	require.NoError(t, timedOut.TimeOut())
	assert.Equal(t, JobTimedOut, timedOut.Status())
}

func TestJob_IsExpired(t *testing.T) {
	// Arrange
	job := testJob(t)

	// Act & Assert
	assert.False(t, job.IsExpired(time.Now()))
	assert.True(t, job.IsExpired(job.Deadline().Add(time.Millisecond)))
}
