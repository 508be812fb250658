package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"scribe-backend/application/ports"
	domaincfg "scribe-backend/domain/config"
	"scribe-backend/domain/core/entities"
	"scribe-backend/domain/core/valueobjects"
	"scribe-backend/domain/events"
	pkgerrors "scribe-backend/pkg/errors"
	"scribe-backend/pkg/observability"
)

// pipeline tracks one conversation's post-processing until both primary
// kinds reach a terminal outcome
type pipeline struct {
	conversationID valueobjects.ConversationID
	userID         string

	mu          sync.Mutex
	primaryDone map[valueobjects.ExtractionKind]bool
	completed   bool
}

// PostProcessingOrchestrator fans extraction work out to the agent gateway
// when a session finalizes and merges each kind's terminal result back into
// the conversation record. Primary kinds (summary, memory) gate the
// processing -> completed transition; best-effort kinds never block it.
type PostProcessingOrchestrator struct {
	conversations ports.ConversationRepository
	memories      ports.MemoryRepository
	gateway       ports.AgentGateway
	registry      *JobRegistry
	eventBus      ports.EventBus
	pool          *WorkerPool
	policies      ports.PolicyProvider
	cfg           *domaincfg.DomainConfig
	logger        *zap.Logger
	metrics       *observability.Collector

	mu        sync.Mutex
	pipelines map[string]*pipeline
	convLocks map[string]*sync.Mutex
}

// NewPostProcessingOrchestrator wires the orchestrator and registers itself
// as the job registry's terminal callback
func NewPostProcessingOrchestrator(
	conversations ports.ConversationRepository,
	memories ports.MemoryRepository,
	gateway ports.AgentGateway,
	registry *JobRegistry,
	eventBus ports.EventBus,
	pool *WorkerPool,
	policies ports.PolicyProvider,
	cfg *domaincfg.DomainConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
) *PostProcessingOrchestrator {
	o := &PostProcessingOrchestrator{
		conversations: conversations,
		memories:      memories,
		gateway:       gateway,
		registry:      registry,
		eventBus:      eventBus,
		pool:          pool,
		policies:      policies,
		cfg:           cfg,
		logger:        logger,
		metrics:       metrics,
		pipelines:     make(map[string]*pipeline),
		convLocks:     make(map[string]*sync.Mutex),
	}
	registry.SetTerminalFunc(o.onJobTerminal)
	return o
}

// Finalize moves the conversation to processing and dispatches every
// extraction kind concurrently. A duplicate finalize loses the conditional
// status update and is a logged no-op, so a second trigger never creates a
// second set of jobs.
func (o *PostProcessingOrchestrator) Finalize(ctx context.Context, conversationID valueobjects.ConversationID, userID, reason string) {
	conversation, err := o.conversations.GetByID(ctx, conversationID)
	if err != nil {
		o.logger.Error("Failed to load conversation for finalization",
			zap.String("conversationID", conversationID.String()),
			zap.Error(err),
		)
		return
	}

	// Nothing was ever said; there is nothing to extract.
	if conversation.SegmentCount() == 0 {
		o.discardEmpty(ctx, conversation)
		return
	}

	if err := conversation.BeginProcessing(); err != nil {
		o.logger.Warn("Conversation already past in_progress, skipping dispatch",
			zap.String("conversationID", conversationID.String()),
			zap.String("reason", reason),
		)
		return
	}
	if err := o.conversations.UpdateStatus(ctx, conversationID, entities.ConversationInProgress, entities.ConversationProcessing, nil); err != nil {
		if pkgerrors.IsConflict(err) {
			o.logger.Warn("Duplicate finalize lost the status race, skipping dispatch",
				zap.String("conversationID", conversationID.String()),
			)
			return
		}
		o.logger.Error("Failed to mark conversation processing",
			zap.String("conversationID", conversationID.String()),
			zap.Error(err),
		)
		return
	}
	o.publishEvents(ctx, conversation)

	o.mu.Lock()
	p, exists := o.pipelines[conversationID.String()]
	if !exists {
		p = &pipeline{
			conversationID: conversationID,
			userID:         userID,
			primaryDone:    make(map[valueobjects.ExtractionKind]bool),
		}
		o.pipelines[conversationID.String()] = p
	}
	o.mu.Unlock()

	payload := ports.ExtractionPayload{
		UserID:         userID,
		ConversationID: conversationID.String(),
		Segments:       ports.SegmentsToDTO(conversation.Segments()),
	}

	o.logger.Info("Dispatching extraction jobs",
		zap.String("conversationID", conversationID.String()),
		zap.Int("segments", conversation.SegmentCount()),
		zap.String("reason", reason),
	)

	for _, kind := range valueobjects.AllExtractionKinds() {
		kind := kind
		o.pool.Submit(ctx, func(taskCtx context.Context) {
			o.dispatchKind(taskCtx, p, kind, payload)
		})
	}
}

// Discard moves a pre-completed conversation to discarded and abandons its
// pipeline. Already-dispatched jobs run to their own terminal state; their
// merges become no-ops against the terminal record.
func (o *PostProcessingOrchestrator) Discard(ctx context.Context, conversationID valueobjects.ConversationID) error {
	conversation, err := o.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}

	from := conversation.Status()
	if err := conversation.Discard(); err != nil {
		return err
	}
	now := time.Now()
	if err := o.conversations.UpdateStatus(ctx, conversationID, from, entities.ConversationDiscarded, &now); err != nil {
		return err
	}
	o.publishEvents(ctx, conversation)

	o.mu.Lock()
	delete(o.pipelines, conversationID.String())
	delete(o.convLocks, conversationID.String())
	o.mu.Unlock()

	o.logger.Info("Discarded conversation",
		zap.String("conversationID", conversationID.String()),
		zap.String("from", string(from)),
	)
	return nil
}

// dispatchKind invokes the agent for one kind and routes the tagged outcome
func (o *PostProcessingOrchestrator) dispatchKind(ctx context.Context, p *pipeline, kind valueobjects.ExtractionKind, payload ports.ExtractionPayload) {
	start := time.Now()
	outcome := o.gateway.Invoke(ctx, kind, payload)
	o.observeInvocation(kind, outcome, time.Since(start))

	switch {
	case outcome.IsResult():
		o.mergeResult(ctx, p, kind, outcome.Result)

	case outcome.IsPending():
		deadline := time.Now().Add(o.cfg.ClampJobDeadline(time.Duration(outcome.Pending.EstimatedCompletionSeconds) * time.Second))
		if _, err := o.registry.Register(outcome.Pending.JobID, p.conversationID, kind, deadline); err != nil {
			if pkgerrors.IsDuplicateJob(err) {
				o.logger.Warn("Job already pending for kind, not re-dispatched",
					zap.String("conversationID", p.conversationID.String()),
					zap.String("kind", string(kind)),
				)
				return
			}
			o.logger.Error("Failed to register job",
				zap.String("conversationID", p.conversationID.String()),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			o.recordFailure(ctx, p, kind, valueobjects.OutcomeFailed, err.Error())
		}

	case outcome.IsError():
		o.handleFailure(ctx, p, kind, payload, outcome.Err)
	}
}

// handleFailure applies the kind's configured failure policy
func (o *PostProcessingOrchestrator) handleFailure(ctx context.Context, p *pipeline, kind valueobjects.ExtractionKind, payload ports.ExtractionPayload, invokeErr error) {
	o.logger.Error("Extraction invocation failed",
		zap.String("conversationID", p.conversationID.String()),
		zap.String("kind", string(kind)),
		zap.Error(invokeErr),
	)

	if o.policies.PolicyFor(kind) == ports.FailOpenToAlternate && o.gateway.HasFallback(kind) {
		fallback := o.gateway.InvokeFallback(ctx, kind, payload)
		if fallback.IsResult() {
			o.logger.Info("Alternate generation path succeeded",
				zap.String("conversationID", p.conversationID.String()),
				zap.String("kind", string(kind)),
			)
			o.mergeResult(ctx, p, kind, fallback.Result)
			return
		}
		o.logger.Error("Alternate generation path also failed",
			zap.String("conversationID", p.conversationID.String()),
			zap.String("kind", string(kind)),
			zap.Error(fallback.Err),
		)
	}

	o.recordFailure(ctx, p, kind, valueobjects.OutcomeFailed, invokeErr.Error())
}

// onJobTerminal is the job registry's merge callback for resolved, failed,
// and swept jobs
func (o *PostProcessingOrchestrator) onJobTerminal(ctx context.Context, job *entities.Job, payload json.RawMessage, errMsg string) {
	p := o.pipelineFor(ctx, job.ConversationID())
	if p == nil {
		o.logger.Warn("Terminal job for unknown conversation",
			zap.String("jobID", job.ID().String()),
			zap.String("conversationID", job.ConversationID().String()),
		)
		return
	}

	switch job.Status() {
	case entities.JobResolved:
		o.mergeResult(ctx, p, job.Kind(), payload)
	case entities.JobTimedOut:
		o.recordFailure(ctx, p, job.Kind(), valueobjects.OutcomeTimedOut, errMsg)
	default:
		o.recordFailure(ctx, p, job.Kind(), valueobjects.OutcomeFailed, errMsg)
	}
}

// mergeResult parses one kind's result and merges it into the conversation
// record as a field-level update under the per-conversation lock
func (o *PostProcessingOrchestrator) mergeResult(ctx context.Context, p *pipeline, kind valueobjects.ExtractionKind, raw json.RawMessage) {
	lock := o.lockFor(p.conversationID)
	lock.Lock()
	defer lock.Unlock()

	outcome := valueobjects.ExtractionOutcome{
		Kind:        kind,
		Status:      valueobjects.OutcomeSucceeded,
		CompletedAt: time.Now(),
	}

	switch kind {
	case valueobjects.KindSummary:
		var summary valueobjects.StructuredSummary
		if err := json.Unmarshal(raw, &summary); err != nil {
			o.recordFailureLocked(ctx, p, kind, valueobjects.OutcomeFailed, "unparseable summary result: "+err.Error())
			return
		}
		if summary.IsEmpty() {
			outcome.Status = valueobjects.OutcomeEmpty
		} else {
			if err := o.conversations.SetSummary(ctx, p.conversationID, summary); err != nil {
				o.recordFailureLocked(ctx, p, kind, valueobjects.OutcomeFailed, "summary merge failed: "+err.Error())
				return
			}
			outcome.ItemCount = 1
		}

	case valueobjects.KindMemory:
		count, err := o.mergeMemories(ctx, p, raw)
		if err != nil {
			o.recordFailureLocked(ctx, p, kind, valueobjects.OutcomeFailed, "memory merge failed: "+err.Error())
			return
		}
		outcome.ItemCount = count
		if count == 0 {
			// The agent signalled "zero extracted items" with an explicit
			// empty array; this is a legitimate empty result.
			outcome.Status = valueobjects.OutcomeEmpty
		}

	default:
		// Best-effort kinds carry an item count when the result exposes one
		outcome.ItemCount = bestEffortItemCount(raw)
	}

	o.persistOutcomeLocked(ctx, p, outcome)
}

// memoryResult is the wire shape of the memory agent's result
type memoryResult struct {
	Memories []struct {
		Content    string   `json:"content"`
		Category   string   `json:"category"`
		Tags       []string `json:"tags"`
		Visibility string   `json:"visibility"`
	} `json:"memories"`
}

func (o *PostProcessingOrchestrator) mergeMemories(ctx context.Context, p *pipeline, raw json.RawMessage) (int, error) {
	var result memoryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, err
	}

	if len(result.Memories) == 0 {
		return 0, nil
	}

	records := make([]*entities.Memory, 0, len(result.Memories))
	for _, m := range result.Memories {
		memory, err := entities.NewMemory(
			p.userID,
			p.conversationID,
			m.Content,
			entities.MemoryCategory(m.Category),
			m.Tags,
			entities.MemoryVisibility(m.Visibility),
		)
		if err != nil {
			o.logger.Warn("Skipping invalid extracted memory",
				zap.String("conversationID", p.conversationID.String()),
				zap.Error(err),
			)
			continue
		}
		records = append(records, memory)
	}

	if len(records) > 0 {
		if err := o.memories.CreateBatch(ctx, records); err != nil {
			return 0, err
		}
	}

	if err := o.eventBus.Publish(ctx, events.NewMemoriesExtracted(p.conversationID, p.userID, len(records), time.Now())); err != nil {
		o.logger.Error("Failed to publish memories event", zap.Error(err))
	}

	return len(records), nil
}

// recordFailure records an explicit failed/timed-out outcome for a kind.
// Best-effort failures never propagate beyond this log entry; primary
// failures still count toward completion so the pipeline never gets stuck.
func (o *PostProcessingOrchestrator) recordFailure(ctx context.Context, p *pipeline, kind valueobjects.ExtractionKind, status valueobjects.OutcomeStatus, errMsg string) {
	lock := o.lockFor(p.conversationID)
	lock.Lock()
	defer lock.Unlock()
	o.recordFailureLocked(ctx, p, kind, status, errMsg)
}

func (o *PostProcessingOrchestrator) recordFailureLocked(ctx context.Context, p *pipeline, kind valueobjects.ExtractionKind, status valueobjects.OutcomeStatus, errMsg string) {
	if err := o.eventBus.Publish(ctx, events.NewExtractionFailed(p.conversationID, kind, errMsg, time.Now())); err != nil {
		o.logger.Error("Failed to publish extraction failure event", zap.Error(err))
	}

	o.persistOutcomeLocked(ctx, p, valueobjects.ExtractionOutcome{
		Kind:        kind,
		Status:      status,
		Error:       errMsg,
		CompletedAt: time.Now(),
	})
}

// persistOutcomeLocked merges the outcome field and advances completion.
// Callers hold the per-conversation lock.
func (o *PostProcessingOrchestrator) persistOutcomeLocked(ctx context.Context, p *pipeline, outcome valueobjects.ExtractionOutcome) {
	o.metrics.ExtractionOutcomes.WithLabelValues(string(outcome.Kind), string(outcome.Status)).Inc()

	if err := o.conversations.PutExtractionOutcome(ctx, p.conversationID, outcome); err != nil {
		o.logger.Error("Failed to persist extraction outcome",
			zap.String("conversationID", p.conversationID.String()),
			zap.String("kind", string(outcome.Kind)),
			zap.Error(err),
		)
	}

	if outcome.Kind.IsPrimary() {
		o.markPrimaryTerminal(ctx, p, outcome.Kind)
	}
}

// markPrimaryTerminal advances the pipeline and fires the exactly-once
// processing -> completed transition when both primary kinds are terminal
func (o *PostProcessingOrchestrator) markPrimaryTerminal(ctx context.Context, p *pipeline, kind valueobjects.ExtractionKind) {
	p.mu.Lock()
	p.primaryDone[kind] = true
	allDone := true
	for _, primary := range valueobjects.PrimaryExtractionKinds() {
		if !p.primaryDone[primary] {
			allDone = false
			break
		}
	}
	shouldComplete := allDone && !p.completed
	if shouldComplete {
		p.completed = true
	}
	p.mu.Unlock()

	if !shouldComplete {
		return
	}

	now := time.Now()
	if err := o.conversations.UpdateStatus(ctx, p.conversationID, entities.ConversationProcessing, entities.ConversationCompleted, &now); err != nil {
		if pkgerrors.IsConflict(err) {
			// Discarded (or already completed) while jobs were in flight
			o.logger.Warn("Completion skipped, conversation no longer processing",
				zap.String("conversationID", p.conversationID.String()),
			)
		} else {
			o.logger.Error("Failed to complete conversation",
				zap.String("conversationID", p.conversationID.String()),
				zap.Error(err),
			)
		}
	} else {
		if err := o.eventBus.Publish(ctx, events.NewConversationCompleted(p.conversationID, p.userID, now)); err != nil {
			o.logger.Error("Failed to publish completion event", zap.Error(err))
		}
		o.logger.Info("Conversation completed",
			zap.String("conversationID", p.conversationID.String()),
		)
	}

	o.mu.Lock()
	delete(o.pipelines, p.conversationID.String())
	delete(o.convLocks, p.conversationID.String())
	o.mu.Unlock()
}

// pipelineFor returns the tracked pipeline, rebuilding it from persisted
// outcomes when a callback arrives for a conversation this process is not
// tracking (for example after a restart)
func (o *PostProcessingOrchestrator) pipelineFor(ctx context.Context, conversationID valueobjects.ConversationID) *pipeline {
	o.mu.Lock()
	if p, ok := o.pipelines[conversationID.String()]; ok {
		o.mu.Unlock()
		return p
	}
	o.mu.Unlock()

	conversation, err := o.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil
	}
	if conversation.Status().IsTerminal() {
		return nil
	}

	p := &pipeline{
		conversationID: conversationID,
		userID:         conversation.UserID(),
		primaryDone:    make(map[valueobjects.ExtractionKind]bool),
	}
	for kind, outcome := range conversation.Outcomes() {
		if kind.IsPrimary() && outcome.Kind == kind {
			p.primaryDone[kind] = true
		}
	}

	o.mu.Lock()
	if existing, ok := o.pipelines[conversationID.String()]; ok {
		p = existing
	} else {
		o.pipelines[conversationID.String()] = p
	}
	o.mu.Unlock()
	return p
}

// discardEmpty drops a conversation that finalized with no transcript
func (o *PostProcessingOrchestrator) discardEmpty(ctx context.Context, conversation *entities.Conversation) {
	if err := conversation.Discard(); err != nil {
		return
	}
	now := time.Now()
	if err := o.conversations.UpdateStatus(ctx, conversation.ID(), entities.ConversationInProgress, entities.ConversationDiscarded, &now); err != nil {
		o.logger.Error("Failed to discard empty conversation",
			zap.String("conversationID", conversation.ID().String()),
			zap.Error(err),
		)
		return
	}
	o.publishEvents(ctx, conversation)
	o.logger.Info("Discarded empty conversation",
		zap.String("conversationID", conversation.ID().String()),
	)
}

// lockFor returns the per-conversation merge lock so concurrent primary and
// best-effort completions never lose each other's field writes
func (o *PostProcessingOrchestrator) lockFor(conversationID valueobjects.ConversationID) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	lock, ok := o.convLocks[conversationID.String()]
	if !ok {
		lock = &sync.Mutex{}
		o.convLocks[conversationID.String()] = lock
	}
	return lock
}

func (o *PostProcessingOrchestrator) observeInvocation(kind valueobjects.ExtractionKind, outcome ports.InvokeOutcome, elapsed time.Duration) {
	shape := "result"
	switch {
	case outcome.IsPending():
		shape = "pending"
	case outcome.IsError():
		shape = "error"
	}
	o.metrics.AgentInvocations.WithLabelValues(string(kind), shape).Observe(elapsed.Seconds())
}

func (o *PostProcessingOrchestrator) publishEvents(ctx context.Context, conversation *entities.Conversation) {
	evts := conversation.GetUncommittedEvents()
	if len(evts) == 0 {
		return
	}
	if err := o.eventBus.PublishBatch(ctx, evts); err != nil {
		o.logger.Error("Failed to publish conversation events",
			zap.String("conversationID", conversation.ID().String()),
			zap.Error(err),
		)
	}
	conversation.MarkEventsAsCommitted()
}

// bestEffortItemCount pulls an item count out of a best-effort kind's
// result when the shape exposes one
func bestEffortItemCount(raw json.RawMessage) int {
	var counted struct {
		Items []json.RawMessage `json:"items"`
		Count int               `json:"count"`
	}
	if err := json.Unmarshal(raw, &counted); err != nil {
		return 0
	}
	if len(counted.Items) > 0 {
		return len(counted.Items)
	}
	return counted.Count
}
