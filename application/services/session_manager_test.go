package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domaincfg "scribe-backend/domain/config"
	"scribe-backend/domain/core/entities"
	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
	"scribe-backend/pkg/observability"
)

func testDomainConfig() *domaincfg.DomainConfig {
	return &domaincfg.DomainConfig{
		MinIdleTimeout:     20 * time.Millisecond,
		MaxIdleTimeout:     time.Hour,
		DefaultIdleTimeout: time.Minute,
		FlushInterval:      10 * time.Millisecond,

		MaxSegmentsPerAppend: 10,
		MaxSegmentTextLength: 8192,

		DefaultJobDeadline: 30 * time.Second,
		MaxJobDeadline:     120 * time.Second,
		SweepInterval:      time.Hour,

		DispatchWorkers: 2,
	}
}

type sessionManagerFixture struct {
	manager   *SessionManager
	repo      *fakeConversationRepo
	bus       *fakeEventBus
	scheduler *FinalizationScheduler
	finalizer *fakeFinalizer
}

func newSessionManagerFixture(t *testing.T) *sessionManagerFixture {
	t.Helper()

	repo := newFakeConversationRepo()
	bus := &fakeEventBus{}
	scheduler := NewFinalizationScheduler(zap.NewNop())
	manager := NewSessionManager(repo, bus, scheduler, testDomainConfig(), zap.NewNop(), observability.NewCollector("test"))
	finalizer := &fakeFinalizer{}
	manager.SetFinalizer(finalizer)

	scheduler.Start(context.Background())
	t.Cleanup(scheduler.Stop)

	return &sessionManagerFixture{
		manager:   manager,
		repo:      repo,
		bus:       bus,
		scheduler: scheduler,
		finalizer: finalizer,
	}
}

func TestSessionManager_OpenCreatesConversation(t *testing.T) {
	// Arrange
	f := newSessionManagerFixture(t)

	// Act
	session, err := f.manager.Open(context.Background(), "user-1", time.Minute, "phone")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, entities.SessionActive, session.Status())
	assert.Equal(t, "user-1", session.UserID())
	assert.Equal(t, 1, f.manager.ActiveSessionCount())
	assert.Equal(t, entities.ConversationInProgress, f.repo.statusOf(session.ConversationID()))
	assert.Equal(t, 1, f.bus.countOf("conversation.started"))
}

func TestSessionManager_OpenClampsIdleTimeout(t *testing.T) {
	// Arrange
	f := newSessionManagerFixture(t)

	// Act
	session, err := f.manager.Open(context.Background(), "user-1", time.Millisecond, "phone")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, session.IdleTimeout())

	// Zero is the explicit "never auto-finalize" sentinel
	forever, err := f.manager.Open(context.Background(), "user-1", 0, "phone")
	require.NoError(t, err)
	assert.False(t, forever.HasIdleTimeout())
}

func TestSessionManager_AppendUnknownSession(t *testing.T) {
	// Arrange
	f := newSessionManagerFixture(t)

	// Act
	err := f.manager.Append(context.Background(), valueobjects.NewSessionID(), []valueobjects.TranscriptSegment{mustSegment("hi", 0, 1)})

	// Assert
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSessionManager_AppendRejectsOversizedBatch(t *testing.T) {
	// Arrange
	f := newSessionManagerFixture(t)
	session, err := f.manager.Open(context.Background(), "user-1", 0, "phone")
	require.NoError(t, err)

	segments := make([]valueobjects.TranscriptSegment, 11)
	for i := range segments {
		segments[i] = mustSegment("x", float64(i), float64(i+1))
	}

	// Act
	err = f.manager.Append(context.Background(), session.ID(), segments)

	// Assert
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestSessionManager_OutOfOrderAppendIsBufferedAnyway(t *testing.T) {
	// Arrange
	f := newSessionManagerFixture(t)
	session, err := f.manager.Open(context.Background(), "user-1", 0, "phone")
	require.NoError(t, err)
	require.NoError(t, f.manager.Append(context.Background(), session.ID(), []valueobjects.TranscriptSegment{mustSegment("later", 10, 11)}))

	// Act: the batch starts before the high-water mark
	err = f.manager.Append(context.Background(), session.ID(), []valueobjects.TranscriptSegment{mustSegment("earlier", 3, 4)})

	// Assert: surfaced as a warning, never dropped
	assert.True(t, pkgerrors.IsOutOfOrderSegment(err))

	require.NoError(t, f.manager.RequestClose(context.Background(), session.ID(), CloseReasonExplicitStop))
	persisted := f.repo.segmentsOf(session.ConversationID())
	require.Len(t, persisted, 2)
	assert.Equal(t, "later", persisted[0].Text())
	assert.Equal(t, "earlier", persisted[1].Text())
}

func TestSessionManager_RegressionInsideOneBatchIsFlagged(t *testing.T) {
	// Arrange
	f := newSessionManagerFixture(t)
	session, err := f.manager.Open(context.Background(), "user-1", 0, "phone")
	require.NoError(t, err)

	// Act: the batch itself regresses, not its first segment
	err = f.manager.Append(context.Background(), session.ID(), []valueobjects.TranscriptSegment{
		mustSegment("later", 5, 6),
		mustSegment("earlier", 2, 3),
	})

	// Assert: flagged like a cross-batch regression and still buffered
	assert.True(t, pkgerrors.IsOutOfOrderSegment(err))

	require.NoError(t, f.manager.RequestClose(context.Background(), session.ID(), CloseReasonExplicitStop))
	persisted := f.repo.segmentsOf(session.ConversationID())
	require.Len(t, persisted, 2)
	assert.Equal(t, "later", persisted[0].Text())
	assert.Equal(t, "earlier", persisted[1].Text())
}

func TestSessionManager_FailedFlushRetainsSegments(t *testing.T) {
	// Arrange
	f := newSessionManagerFixture(t)
	ctx := context.Background()
	session, err := f.manager.Open(ctx, "user-1", 0, "phone")
	require.NoError(t, err)
	require.NoError(t, f.manager.Append(ctx, session.ID(), []valueobjects.TranscriptSegment{mustSegment("first", 0, 1)}))

	// Act: the store rejects one flush cycle, then recovers
	f.repo.appendErr = errors.New("provisioned throughput exceeded")
	f.manager.flushAll(ctx)
	f.repo.appendErr = nil

	require.NoError(t, f.manager.Append(ctx, session.ID(), []valueobjects.TranscriptSegment{mustSegment("second", 1, 2)}))
	require.NoError(t, f.manager.RequestClose(ctx, session.ID(), CloseReasonExplicitStop))

	// Assert: the batch drained during the failed flush lands ahead of the
	// later append, nothing is lost
	persisted := f.repo.segmentsOf(session.ConversationID())
	require.Len(t, persisted, 2)
	assert.Equal(t, "first", persisted[0].Text())
	assert.Equal(t, "second", persisted[1].Text())
}

func TestSessionManager_CloseRetriesFailedFinalDrain(t *testing.T) {
	// Arrange: the final drain fails once, the retry succeeds
	f := newSessionManagerFixture(t)
	ctx := context.Background()
	session, err := f.manager.Open(ctx, "user-1", 0, "phone")
	require.NoError(t, err)
	require.NoError(t, f.manager.Append(ctx, session.ID(), []valueobjects.TranscriptSegment{mustSegment("hello", 0, 1)}))

	f.repo.failAppendsOnce()

	// Act
	require.NoError(t, f.manager.RequestClose(ctx, session.ID(), CloseReasonExplicitStop))

	// Assert
	assert.Len(t, f.repo.segmentsOf(session.ConversationID()), 1)
	assert.Equal(t, 1, f.finalizer.callCount())
}

func TestSessionManager_RequestCloseDrainsAndDispatches(t *testing.T) {
	// Arrange
	f := newSessionManagerFixture(t)
	session, err := f.manager.Open(context.Background(), "user-1", 0, "phone")
	require.NoError(t, err)
	require.NoError(t, f.manager.Append(context.Background(), session.ID(), []valueobjects.TranscriptSegment{mustSegment("hello", 0, 1)}))

	// Act
	err = f.manager.RequestClose(context.Background(), session.ID(), CloseReasonExplicitStop)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 0, f.manager.ActiveSessionCount())
	assert.Len(t, f.repo.segmentsOf(session.ConversationID()), 1)

	require.Equal(t, 1, f.finalizer.callCount())
	call, _ := f.finalizer.lastCall()
	assert.True(t, call.conversationID.Equals(session.ConversationID()))
	assert.Equal(t, "user-1", call.userID)
	assert.Equal(t, CloseReasonExplicitStop, call.reason)

	// The session is destroyed; a second close finds nothing
	err = f.manager.RequestClose(context.Background(), session.ID(), CloseReasonExplicitStop)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSessionManager_ConcurrentCloseFinalizesOnce(t *testing.T) {
	// Arrange
	f := newSessionManagerFixture(t)
	session, err := f.manager.Open(context.Background(), "user-1", 0, "phone")
	require.NoError(t, err)

	// Act: an explicit stop and a channel drop race
	var wg sync.WaitGroup
	for _, reason := range []string{CloseReasonExplicitStop, CloseReasonChannelClosed} {
		wg.Add(1)
		go func(reason string) {
			defer wg.Done()
			f.manager.RequestClose(context.Background(), session.ID(), reason)
		}(reason)
	}
	wg.Wait()

	// Assert
	assert.Equal(t, 1, f.finalizer.callCount())
	assert.Equal(t, 0, f.manager.ActiveSessionCount())
}

func TestSessionManager_IdleTimeoutFinalizes(t *testing.T) {
	// Arrange
	f := newSessionManagerFixture(t)
	session, err := f.manager.Open(context.Background(), "user-1", 20*time.Millisecond, "phone")
	require.NoError(t, err)
	require.NoError(t, f.manager.Append(context.Background(), session.ID(), []valueobjects.TranscriptSegment{mustSegment("hi", 0, 1)}))

	// Act & Assert
	assert.Eventually(t, func() bool {
		return f.finalizer.callCount() == 1
	}, time.Second, 5*time.Millisecond)

	call, _ := f.finalizer.lastCall()
	assert.Equal(t, CloseReasonIdleTimeout, call.reason)
	assert.Equal(t, 0, f.manager.ActiveSessionCount())
}

func TestSessionManager_FlushLoopPersistsWithoutClosing(t *testing.T) {
	// Arrange
	f := newSessionManagerFixture(t)
	ctx := context.Background()
	f.manager.Start(ctx)

	session, err := f.manager.Open(ctx, "user-1", 0, "phone")
	require.NoError(t, err)

	// Act
	require.NoError(t, f.manager.Append(ctx, session.ID(), []valueobjects.TranscriptSegment{mustSegment("hello", 0, 1)}))

	// Assert: the interval flush lands the segment while the session stays open
	assert.Eventually(t, func() bool {
		return len(f.repo.segmentsOf(session.ConversationID())) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.manager.ActiveSessionCount())

	f.manager.Stop(ctx)
}

func TestSessionManager_StopFinalizesRemainingSessions(t *testing.T) {
	// Arrange
	f := newSessionManagerFixture(t)
	ctx := context.Background()
	f.manager.Start(ctx)

	_, err := f.manager.Open(ctx, "user-1", 0, "phone")
	require.NoError(t, err)
	_, err = f.manager.Open(ctx, "user-2", 0, "phone")
	require.NoError(t, err)

	// Act
	f.manager.Stop(ctx)

	// Assert
	assert.Equal(t, 0, f.manager.ActiveSessionCount())
	assert.Equal(t, 2, f.finalizer.callCount())
	call, _ := f.finalizer.lastCall()
	assert.Equal(t, CloseReasonShutdown, call.reason)
}
