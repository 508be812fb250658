package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scribe-backend/application/ports"
	domaincfg "scribe-backend/domain/config"
	"scribe-backend/domain/core/entities"
	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
	"scribe-backend/pkg/observability"
)

type orchestratorFixture struct {
	orchestrator *PostProcessingOrchestrator
	repo         *fakeConversationRepo
	memories     *fakeMemoryRepo
	gateway      *fakeGateway
	registry     *JobRegistry
	bus          *fakeEventBus
	policies     *fakePolicies
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	return newOrchestratorFixtureWithConfig(t, testDomainConfig())
}

func newOrchestratorFixtureWithConfig(t *testing.T, cfg *domaincfg.DomainConfig) *orchestratorFixture {
	t.Helper()

	repo := newFakeConversationRepo()
	memories := &fakeMemoryRepo{}
	gateway := newFakeGateway()
	bus := &fakeEventBus{}
	policies := &fakePolicies{}
	metrics := observability.NewCollector("test")
	registry := NewJobRegistry(time.Hour, zap.NewNop(), metrics)

	pool := NewWorkerPool(4, 16, zap.NewNop())
	pool.Start(context.Background(), 4)
	t.Cleanup(pool.Stop)

	orchestrator := NewPostProcessingOrchestrator(
		repo, memories, gateway, registry, bus, pool, policies,
		cfg, zap.NewNop(), metrics,
	)

	return &orchestratorFixture{
		orchestrator: orchestrator,
		repo:         repo,
		memories:     memories,
		gateway:      gateway,
		registry:     registry,
		bus:          bus,
		policies:     policies,
	}
}

func (f *orchestratorFixture) seedConversation(segments ...valueobjects.TranscriptSegment) valueobjects.ConversationID {
	return f.repo.add("user-1", entities.ConversationInProgress, segments)
}

func (f *orchestratorFixture) waitForStatus(t *testing.T, id valueobjects.ConversationID, want entities.ConversationStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.repo.statusOf(id) == want
	}, 2*time.Second, 5*time.Millisecond, "conversation never reached %s", want)
}

func TestOrchestrator_InlineResultsCompleteConversation(t *testing.T) {
	// Arrange
	f := newOrchestratorFixture(t)
	id := f.seedConversation(mustSegment("let's plan the weekend", 0, 2))

	f.gateway.outcomes[valueobjects.KindSummary] = ports.ResultOutcome([]byte(`{"title":"Weekend plans","overview":"Planning a trip"}`))
	f.gateway.outcomes[valueobjects.KindMemory] = ports.ResultOutcome([]byte(`{"memories":[
		{"content":"Prefers hiking over museums","category":"interesting","tags":["travel"],"visibility":"private"},
		{"content":"Free next Saturday","category":"interesting","tags":[],"visibility":"private"}
	]}`))
	f.gateway.outcomes[valueobjects.KindActionItems] = ports.ResultOutcome([]byte(`{"items":[{"text":"book cabin"}]}`))

	// Act
	f.orchestrator.Finalize(context.Background(), id, "user-1", CloseReasonExplicitStop)

	// Assert
	f.waitForStatus(t, id, entities.ConversationCompleted)

	summary := f.repo.summaryOf(id)
	require.NotNil(t, summary)
	assert.Equal(t, "Weekend plans", summary.Title)

	assert.Equal(t, 2, f.memories.count())
	assert.Equal(t, 1, f.bus.countOf("memories.extracted"))
	assert.Equal(t, 1, f.bus.countOf("conversation.completed"))

	summaryOutcome, ok := f.repo.outcomeOf(id, valueobjects.KindSummary)
	require.True(t, ok)
	assert.Equal(t, valueobjects.OutcomeSucceeded, summaryOutcome.Status)
	assert.Equal(t, 1, summaryOutcome.ItemCount)

	memoryOutcome, ok := f.repo.outcomeOf(id, valueobjects.KindMemory)
	require.True(t, ok)
	assert.Equal(t, valueobjects.OutcomeSucceeded, memoryOutcome.Status)
	assert.Equal(t, 2, memoryOutcome.ItemCount)

	assert.Eventually(t, func() bool {
		actionOutcome, ok := f.repo.outcomeOf(id, valueobjects.KindActionItems)
		return ok && actionOutcome.Status == valueobjects.OutcomeSucceeded && actionOutcome.ItemCount == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOrchestrator_EmptyConversationIsDiscarded(t *testing.T) {
	// Arrange
	f := newOrchestratorFixture(t)
	id := f.seedConversation()

	// Act
	f.orchestrator.Finalize(context.Background(), id, "user-1", CloseReasonIdleTimeout)

	// Assert: no transcript means nothing to extract, so no dispatch at all
	assert.Equal(t, entities.ConversationDiscarded, f.repo.statusOf(id))
	assert.Equal(t, 1, f.bus.countOf("conversation.discarded"))
	assert.Equal(t, 0, f.gateway.invocationCount(valueobjects.KindSummary))
}

func TestOrchestrator_DuplicateFinalizeDispatchesOnce(t *testing.T) {
	// Arrange
	f := newOrchestratorFixture(t)
	id := f.seedConversation(mustSegment("hello", 0, 1))

	// Act
	f.orchestrator.Finalize(context.Background(), id, "user-1", CloseReasonExplicitStop)
	f.orchestrator.Finalize(context.Background(), id, "user-1", CloseReasonIdleTimeout)

	// Assert
	f.waitForStatus(t, id, entities.ConversationCompleted)
	assert.Equal(t, 1, f.gateway.invocationCount(valueobjects.KindSummary))
	assert.Equal(t, 1, f.gateway.invocationCount(valueobjects.KindMemory))
	assert.Equal(t, 1, f.bus.countOf("conversation.completed"))
}

func TestOrchestrator_EmptyPrimaryResultsRecordedAsEmpty(t *testing.T) {
	// Arrange: the summary decodes to no content and the memory agent
	// explicitly returns zero items
	f := newOrchestratorFixture(t)
	id := f.seedConversation(mustSegment("uneventful", 0, 1))

	f.gateway.outcomes[valueobjects.KindSummary] = ports.ResultOutcome([]byte(`{}`))
	f.gateway.outcomes[valueobjects.KindMemory] = ports.ResultOutcome([]byte(`{"memories":[]}`))

	// Act
	f.orchestrator.Finalize(context.Background(), id, "user-1", CloseReasonExplicitStop)

	// Assert: legitimate empty results still complete the conversation
	f.waitForStatus(t, id, entities.ConversationCompleted)
	assert.Nil(t, f.repo.summaryOf(id))
	assert.Equal(t, 0, f.memories.count())

	summaryOutcome, _ := f.repo.outcomeOf(id, valueobjects.KindSummary)
	assert.Equal(t, valueobjects.OutcomeEmpty, summaryOutcome.Status)
	memoryOutcome, _ := f.repo.outcomeOf(id, valueobjects.KindMemory)
	assert.Equal(t, valueobjects.OutcomeEmpty, memoryOutcome.Status)
}

func TestOrchestrator_PendingJobResolvedByCallback(t *testing.T) {
	// Arrange
	f := newOrchestratorFixture(t)
	id := f.seedConversation(mustSegment("long conversation", 0, 30))

	jobID, err := valueobjects.NewJobID("job-summary-1")
	require.NoError(t, err)
	f.gateway.outcomes[valueobjects.KindSummary] = ports.PendingOutcome(ports.PendingJob{
		JobID:                      jobID,
		EstimatedCompletionSeconds: 10,
	})

	// Act
	f.orchestrator.Finalize(context.Background(), id, "user-1", CloseReasonExplicitStop)

	// Assert: the job is tracked and the conversation waits on it
	require.Eventually(t, func() bool {
		_, found := f.registry.PendingJob(id, valueobjects.KindSummary)
		return found
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, entities.ConversationProcessing, f.repo.statusOf(id))

	// The callback arrives and the merge completes the conversation
	err = f.registry.Resolve(context.Background(), "job-summary-1", json.RawMessage(`{"title":"Long one","overview":"Covered a lot"}`))
	require.NoError(t, err)

	f.waitForStatus(t, id, entities.ConversationCompleted)
	summary := f.repo.summaryOf(id)
	require.NotNil(t, summary)
	assert.Equal(t, "Long one", summary.Title)
}

func TestOrchestrator_SweptJobRecordsTimeoutAndCompletes(t *testing.T) {
	// Arrange: deadlines clamp to a hair above zero so the sweep sees the
	// job as expired right away
	cfg := testDomainConfig()
	cfg.DefaultJobDeadline = time.Millisecond
	cfg.MaxJobDeadline = time.Millisecond
	f := newOrchestratorFixtureWithConfig(t, cfg)
	id := f.seedConversation(mustSegment("hello", 0, 1))

	jobID, err := valueobjects.NewJobID("job-summary-3")
	require.NoError(t, err)
	f.gateway.outcomes[valueobjects.KindSummary] = ports.PendingOutcome(ports.PendingJob{
		JobID:                      jobID,
		EstimatedCompletionSeconds: 10,
	})

	f.orchestrator.Finalize(context.Background(), id, "user-1", CloseReasonExplicitStop)
	require.Eventually(t, func() bool {
		_, found := f.registry.PendingJob(id, valueobjects.KindSummary)
		return found
	}, 2*time.Second, 5*time.Millisecond)

	// Act: the agent never calls back; the deadline sweep runs
	time.Sleep(5 * time.Millisecond)
	swept := f.registry.Sweep(context.Background())

	// Assert: the timeout is a terminal outcome, not a stuck pipeline
	assert.Equal(t, 1, swept)
	f.waitForStatus(t, id, entities.ConversationCompleted)

	outcome, ok := f.repo.outcomeOf(id, valueobjects.KindSummary)
	require.True(t, ok)
	assert.Equal(t, valueobjects.OutcomeTimedOut, outcome.Status)
	assert.NotEmpty(t, outcome.Error)
	assert.Nil(t, f.repo.summaryOf(id))

	job, found := f.registry.GetJob("job-summary-3")
	require.True(t, found)
	assert.Equal(t, entities.JobTimedOut, job.Status())

	// A callback arriving after the sweep is rejected, never re-merged
	err = f.registry.Resolve(context.Background(), "job-summary-3", json.RawMessage(`{"title":"too late"}`))
	assert.Error(t, err)
	assert.Nil(t, f.repo.summaryOf(id))
}

func TestOrchestrator_FailedCallbackStillCompletes(t *testing.T) {
	// Arrange
	f := newOrchestratorFixture(t)
	id := f.seedConversation(mustSegment("hello", 0, 1))

	jobID, err := valueobjects.NewJobID("job-summary-2")
	require.NoError(t, err)
	f.gateway.outcomes[valueobjects.KindSummary] = ports.PendingOutcome(ports.PendingJob{JobID: jobID})

	f.orchestrator.Finalize(context.Background(), id, "user-1", CloseReasonExplicitStop)
	require.Eventually(t, func() bool {
		_, found := f.registry.PendingJob(id, valueobjects.KindSummary)
		return found
	}, 2*time.Second, 5*time.Millisecond)

	// Act
	require.NoError(t, f.registry.Fail(context.Background(), "job-summary-2", "model crashed"))

	// Assert: the failure is an explicit terminal outcome, not a stuck pipeline
	f.waitForStatus(t, id, entities.ConversationCompleted)
	outcome, ok := f.repo.outcomeOf(id, valueobjects.KindSummary)
	require.True(t, ok)
	assert.Equal(t, valueobjects.OutcomeFailed, outcome.Status)
	assert.Equal(t, "model crashed", outcome.Error)
	assert.Nil(t, f.repo.summaryOf(id))
	assert.GreaterOrEqual(t, f.bus.countOf("extraction.failed"), 1)
}

func TestOrchestrator_FailOpenUsesAlternatePath(t *testing.T) {
	// Arrange
	f := newOrchestratorFixture(t)
	id := f.seedConversation(mustSegment("hello", 0, 1))

	f.policies.policies = map[valueobjects.ExtractionKind]ports.FailurePolicy{
		valueobjects.KindSummary: ports.FailOpenToAlternate,
	}
	f.gateway.outcomes[valueobjects.KindSummary] = ports.ErrorOutcome(pkgerrors.NewAgentUnavailableError("summary", nil))
	f.gateway.fallbacks[valueobjects.KindSummary] = ports.ResultOutcome([]byte(`{"title":"Recovered","overview":"Via alternate path"}`))

	// Act
	f.orchestrator.Finalize(context.Background(), id, "user-1", CloseReasonExplicitStop)

	// Assert
	f.waitForStatus(t, id, entities.ConversationCompleted)
	assert.Equal(t, 1, f.gateway.fallbackCount(valueobjects.KindSummary))

	summary := f.repo.summaryOf(id)
	require.NotNil(t, summary)
	assert.Equal(t, "Recovered", summary.Title)

	outcome, _ := f.repo.outcomeOf(id, valueobjects.KindSummary)
	assert.Equal(t, valueobjects.OutcomeSucceeded, outcome.Status)
}

func TestOrchestrator_FailClosedRecordsFailure(t *testing.T) {
	// Arrange: no fallback configured, default fail-closed policy
	f := newOrchestratorFixture(t)
	id := f.seedConversation(mustSegment("hello", 0, 1))
	f.gateway.outcomes[valueobjects.KindSummary] = ports.ErrorOutcome(pkgerrors.NewAgentEmptyResponseError("summary"))

	// Act
	f.orchestrator.Finalize(context.Background(), id, "user-1", CloseReasonExplicitStop)

	// Assert
	f.waitForStatus(t, id, entities.ConversationCompleted)
	assert.Equal(t, 0, f.gateway.fallbackCount(valueobjects.KindSummary))
	assert.Nil(t, f.repo.summaryOf(id))

	outcome, ok := f.repo.outcomeOf(id, valueobjects.KindSummary)
	require.True(t, ok)
	assert.Equal(t, valueobjects.OutcomeFailed, outcome.Status)
	assert.NotEmpty(t, outcome.Error)
}

func TestOrchestrator_BestEffortFailureNeverBlocksCompletion(t *testing.T) {
	// Arrange
	f := newOrchestratorFixture(t)
	id := f.seedConversation(mustSegment("hello", 0, 1))
	f.gateway.outcomes[valueobjects.KindVector] = ports.ErrorOutcome(pkgerrors.NewAgentUnavailableError("vector", nil))

	// Act
	f.orchestrator.Finalize(context.Background(), id, "user-1", CloseReasonExplicitStop)

	// Assert
	f.waitForStatus(t, id, entities.ConversationCompleted)
	assert.Eventually(t, func() bool {
		outcome, ok := f.repo.outcomeOf(id, valueobjects.KindVector)
		return ok && outcome.Status == valueobjects.OutcomeFailed
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOrchestrator_DiscardPreCompletedConversation(t *testing.T) {
	// Arrange
	f := newOrchestratorFixture(t)
	id := f.repo.add("user-1", entities.ConversationProcessing, []valueobjects.TranscriptSegment{mustSegment("hello", 0, 1)})

	// Act
	err := f.orchestrator.Discard(context.Background(), id)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, entities.ConversationDiscarded, f.repo.statusOf(id))
	assert.Equal(t, 1, f.bus.countOf("conversation.discarded"))

	// Terminal records cannot be discarded again
	err = f.orchestrator.Discard(context.Background(), id)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestOrchestrator_DiscardCompletedConversationIsRejected(t *testing.T) {
	// Arrange
	f := newOrchestratorFixture(t)
	id := f.repo.add("user-1", entities.ConversationCompleted, []valueobjects.TranscriptSegment{mustSegment("hello", 0, 1)})

	// Act
	err := f.orchestrator.Discard(context.Background(), id)

	// Assert
	assert.True(t, pkgerrors.IsConflict(err))
	assert.Equal(t, entities.ConversationCompleted, f.repo.statusOf(id))
}
