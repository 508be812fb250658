package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"scribe-backend/domain/core/entities"
	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
	"scribe-backend/pkg/observability"
)

// TerminalFunc is invoked exactly once when a job reaches a terminal state.
// payload is the callback result for RESOLVED jobs and nil otherwise;
// errMsg is set for FAILED and TIMED_OUT jobs.
type TerminalFunc func(ctx context.Context, job *entities.Job, payload json.RawMessage, errMsg string)

// JobRegistry tracks outstanding asynchronous extraction jobs. It
// deduplicates by (conversation, kind), resolves callbacks, and sweeps
// expired deadlines so every conversation eventually reaches a terminal
// processing outcome even if an external agent never calls back.
type JobRegistry struct {
	mu    sync.Mutex
	jobs  map[string]*entities.Job
	byKey map[string]string // conversationID|kind -> jobID

	onTerminal TerminalFunc
	logger     *zap.Logger
	metrics    *observability.Collector

	sweepInterval time.Duration
	stopChan      chan struct{}
	stoppedChan   chan struct{}
}

// NewJobRegistry creates an empty registry; SetTerminalFunc must be called
// before jobs can reach a terminal state
func NewJobRegistry(sweepInterval time.Duration, logger *zap.Logger, metrics *observability.Collector) *JobRegistry {
	return &JobRegistry{
		jobs:          make(map[string]*entities.Job),
		byKey:         make(map[string]string),
		logger:        logger,
		metrics:       metrics,
		sweepInterval: sweepInterval,
		stopChan:      make(chan struct{}),
		stoppedChan:   make(chan struct{}),
	}
}

// SetTerminalFunc wires the orchestrator's merge callback. Set once during
// container assembly, before the sweep starts.
func (r *JobRegistry) SetTerminalFunc(fn TerminalFunc) {
	r.onTerminal = fn
}

// Register tracks a pending job. If a non-terminal job for the same
// (conversation, kind) already exists, the existing job is returned along
// with DuplicateJob; the caller logs it and must not re-dispatch.
func (r *JobRegistry) Register(
	jobID valueobjects.JobID,
	conversationID valueobjects.ConversationID,
	kind valueobjects.ExtractionKind,
	deadline time.Time,
) (*entities.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := jobKey(conversationID, kind)
	if existingID, ok := r.byKey[key]; ok {
		existing := r.jobs[existingID]
		if existing != nil && !existing.Status().IsTerminal() {
			return existing, pkgerrors.NewDuplicateJobError(conversationID.String(), string(kind))
		}
	}

	job, err := entities.NewJob(jobID, conversationID, kind, deadline)
	if err != nil {
		return nil, err
	}

	r.jobs[jobID.String()] = job
	r.byKey[key] = jobID.String()

	r.metrics.JobsRegistered.WithLabelValues(string(kind)).Inc()
	r.metrics.PendingJobs.Inc()

	r.logger.Debug("Registered extraction job",
		zap.String("jobID", jobID.String()),
		zap.String("conversationID", conversationID.String()),
		zap.String("kind", string(kind)),
		zap.Time("deadline", deadline),
	)

	return job, nil
}

// PendingJob returns the non-terminal job for a (conversation, kind), if one
// exists
func (r *JobRegistry) PendingJob(conversationID valueobjects.ConversationID, kind valueobjects.ExtractionKind) (*entities.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobID, ok := r.byKey[jobKey(conversationID, kind)]
	if !ok {
		return nil, false
	}
	job := r.jobs[jobID]
	if job == nil || job.Status().IsTerminal() {
		return nil, false
	}
	return job, true
}

// GetJob returns a tracked job by ID
func (r *JobRegistry) GetJob(jobID string) (*entities.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	return job, ok
}

// Resolve transitions a job PENDING -> RESOLVED and invokes the merge
// callback with the agent's result. Resolving a job not in PENDING state
// (already timed out or resolved) is a logged no-op: late and duplicate
// callbacks must not re-merge.
func (r *JobRegistry) Resolve(ctx context.Context, jobID string, payload json.RawMessage) error {
	job, err := r.transition(jobID, func(j *entities.Job) error { return j.Resolve() }, entities.JobResolved)
	if err != nil {
		return err
	}

	r.logger.Info("Resolved extraction job",
		zap.String("jobID", jobID),
		zap.String("conversationID", job.ConversationID().String()),
		zap.String("kind", string(job.Kind())),
	)
	r.fireTerminal(ctx, job, payload, "")
	return nil
}

// Fail transitions a job PENDING -> FAILED on an explicit error callback
func (r *JobRegistry) Fail(ctx context.Context, jobID, errMsg string) error {
	job, err := r.transition(jobID, func(j *entities.Job) error { return j.Fail() }, entities.JobFailed)
	if err != nil {
		return err
	}

	r.logger.Warn("Extraction job failed",
		zap.String("jobID", jobID),
		zap.String("conversationID", job.ConversationID().String()),
		zap.String("kind", string(job.Kind())),
		zap.String("error", errMsg),
	)
	r.fireTerminal(ctx, job, nil, errMsg)
	return nil
}

// Sweep scans for PENDING jobs past their deadline and transitions them to
// TIMED_OUT, reporting an empty outcome to the orchestrator for each. It
// returns the number of jobs swept.
func (r *JobRegistry) Sweep(ctx context.Context) int {
	now := time.Now()

	r.mu.Lock()
	var expired []*entities.Job
	for _, job := range r.jobs {
		if job.Status() == entities.JobPending && job.IsExpired(now) {
			if err := job.TimeOut(); err != nil {
				continue
			}
			delete(r.byKey, jobKey(job.ConversationID(), job.Kind()))
			expired = append(expired, job)
		}
	}
	r.mu.Unlock()

	for _, job := range expired {
		r.metrics.PendingJobs.Dec()
		r.metrics.JobsTerminal.WithLabelValues(string(job.Kind()), string(entities.JobTimedOut)).Inc()

		timeoutErr := pkgerrors.NewJobTimeoutError(job.ID().String(), string(job.Kind()))
		r.logger.Error("Swept expired extraction job",
			zap.String("jobID", job.ID().String()),
			zap.String("conversationID", job.ConversationID().String()),
			zap.String("kind", string(job.Kind())),
			zap.Time("deadline", job.Deadline()),
		)
		if r.onTerminal != nil {
			r.onTerminal(ctx, job, nil, timeoutErr.Message)
		}
	}

	return len(expired)
}

// Start launches the periodic deadline sweep
func (r *JobRegistry) Start(ctx context.Context) {
	r.logger.Info("Starting job registry sweep",
		zap.Duration("interval", r.sweepInterval),
	)
	go r.sweepLoop(ctx)
}

// Stop shuts the sweep loop down and waits for it
func (r *JobRegistry) Stop() {
	close(r.stopChan)
	<-r.stoppedChan
	r.logger.Info("Job registry stopped")
}

func (r *JobRegistry) sweepLoop(ctx context.Context) {
	defer close(r.stoppedChan)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// transition applies a state change under the lock and maintains the
// (conversation, kind) index. A job missing or already terminal is a
// logged no-op surfaced as an error to the caller.
func (r *JobRegistry) transition(jobID string, apply func(*entities.Job) error, target entities.JobStatus) (*entities.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		r.logger.Warn("Callback for unknown job", zap.String("jobID", jobID))
		return nil, pkgerrors.NewNotFoundError("job")
	}

	if err := apply(job); err != nil {
		r.logger.Warn("Late or duplicate callback ignored",
			zap.String("jobID", jobID),
			zap.String("status", string(job.Status())),
		)
		return nil, err
	}

	delete(r.byKey, jobKey(job.ConversationID(), job.Kind()))
	r.metrics.PendingJobs.Dec()
	r.metrics.JobsTerminal.WithLabelValues(string(job.Kind()), string(target)).Inc()
	return job, nil
}

func (r *JobRegistry) fireTerminal(ctx context.Context, job *entities.Job, payload json.RawMessage, errMsg string) {
	if r.onTerminal != nil {
		r.onTerminal(ctx, job, payload, errMsg)
	}
}

func jobKey(conversationID valueobjects.ConversationID, kind valueobjects.ExtractionKind) string {
	return conversationID.String() + "|" + string(kind)
}
