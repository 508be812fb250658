package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"scribe-backend/application/ports"
	domaincfg "scribe-backend/domain/config"
	"scribe-backend/domain/core/entities"
	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
	"scribe-backend/pkg/observability"
)

// Finalizer receives finalized conversations for post-processing. Dispatch
// is fire-and-forget from the session's point of view.
type Finalizer interface {
	Finalize(ctx context.Context, conversationID valueobjects.ConversationID, userID, reason string)
}

// CloseReason constants for the two finalization triggers
const (
	CloseReasonIdleTimeout   = "idle_timeout"
	CloseReasonExplicitStop  = "explicit_stop"
	CloseReasonChannelClosed = "channel_closed"
	CloseReasonShutdown      = "shutdown"
)

// managedSession pairs a session with its ingestion-side runtime state.
// The mutex serializes appends, flushes, and the final drain for one
// session; different sessions run fully in parallel.
type managedSession struct {
	session *entities.Session
	buffer  *SegmentBuffer
	mu      sync.Mutex
}

// SessionManager owns all active sessions. It applies buffer flushes on a
// fixed interval, drives the session state machine, and guarantees via the
// session's compare-and-swap that finalization fires exactly once even when
// the idle timer and an explicit close race.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*managedSession

	conversations ports.ConversationRepository
	eventBus      ports.EventBus
	scheduler     *FinalizationScheduler
	finalizer     Finalizer
	cfg           *domaincfg.DomainConfig
	logger        *zap.Logger
	metrics       *observability.Collector

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewSessionManager creates a session manager; SetFinalizer must be called
// before any session can close
func NewSessionManager(
	conversations ports.ConversationRepository,
	eventBus ports.EventBus,
	scheduler *FinalizationScheduler,
	cfg *domaincfg.DomainConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
) *SessionManager {
	m := &SessionManager{
		sessions:      make(map[string]*managedSession),
		conversations: conversations,
		eventBus:      eventBus,
		scheduler:     scheduler,
		cfg:           cfg,
		logger:        logger,
		metrics:       metrics,
		stopChan:      make(chan struct{}),
		stoppedChan:   make(chan struct{}),
	}
	scheduler.SetExpireFunc(m.onIdleExpired)
	return m
}

// SetFinalizer wires the post-processing orchestrator. Set once during
// container assembly.
func (m *SessionManager) SetFinalizer(f Finalizer) {
	m.finalizer = f
}

// Open creates a session in the ACTIVE state and its backing conversation
// record. The idle timeout is clamped to the configured range; zero means
// the session never auto-finalizes.
func (m *SessionManager) Open(ctx context.Context, userID string, idleTimeout time.Duration, source string) (*entities.Session, error) {
	conversation, err := entities.NewConversation(userID, source)
	if err != nil {
		return nil, err
	}

	if err := m.conversations.Create(ctx, conversation); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create conversation record")
	}
	m.publishEvents(ctx, conversation)

	clamped := m.cfg.ClampIdleTimeout(idleTimeout)
	session, err := entities.NewSession(userID, conversation.ID(), clamped)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[session.ID().String()] = &managedSession{
		session: session,
		buffer:  NewSegmentBuffer(),
	}
	m.mu.Unlock()

	if session.HasIdleTimeout() {
		m.scheduler.Schedule(session.ID(), time.Now().Add(clamped))
	}

	m.metrics.ActiveSessions.Inc()
	m.logger.Info("Opened session",
		zap.String("sessionID", session.ID().String()),
		zap.String("conversationID", conversation.ID().String()),
		zap.String("userID", userID),
		zap.Duration("idleTimeout", clamped),
	)

	return session, nil
}

// GetSession returns an active session by ID
func (m *SessionManager) GetSession(sessionID valueobjects.SessionID) (*entities.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ms, ok := m.sessions[sessionID.String()]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("session")
	}
	return ms.session, nil
}

// Append validates and buffers segments, resetting the idle deadline. A
// regressed start time returns OutOfOrderSegment but the segments are still
// appended: sessions must never deadlock on malformed input, so callers log
// the error and keep going.
func (m *SessionManager) Append(ctx context.Context, sessionID valueobjects.SessionID, segments []valueobjects.TranscriptSegment) error {
	if len(segments) == 0 {
		return nil
	}
	if len(segments) > m.cfg.MaxSegmentsPerAppend {
		return pkgerrors.NewValidationError("too many segments in one append")
	}

	m.mu.RLock()
	ms, ok := m.sessions[sessionID.String()]
	m.mu.RUnlock()
	if !ok {
		return pkgerrors.NewNotFoundError("session")
	}

	if ms.session.Status() != entities.SessionActive {
		return pkgerrors.NewConflictError("session is no longer accepting segments")
	}

	ms.mu.Lock()
	prevStart, hadPrev := ms.buffer.Append(segments)
	ms.mu.Unlock()

	if ms.session.HasIdleTimeout() {
		m.scheduler.Reschedule(sessionID, time.Now().Add(ms.session.IdleTimeout()))
	}
	m.metrics.SegmentsIngested.Add(float64(len(segments)))

	// Scan the whole batch: a start time can regress against the buffer's
	// high-water mark or against an earlier segment in the same batch.
	high, have := prevStart, hadPrev
	regressed := false
	var regressedFrom, regressedTo float64
	for _, seg := range segments {
		if have && seg.Start() < high {
			if !regressed {
				regressed = true
				regressedFrom, regressedTo = high, seg.Start()
			}
			continue
		}
		high, have = seg.Start(), true
	}

	if regressed {
		m.metrics.OutOfOrderAppends.Inc()
		err := pkgerrors.NewOutOfOrderSegmentError(sessionID.String(), regressedFrom, regressedTo)
		m.logger.Warn("Out-of-order segment appended",
			zap.String("sessionID", sessionID.String()),
			zap.Float64("lastStart", regressedFrom),
			zap.Float64("newStart", regressedTo),
		)
		return err
	}

	return nil
}

// RequestClose attempts the ACTIVE -> FINALIZING transition. Exactly one
// trigger wins the compare-and-swap; the loser is a silent no-op. The
// winner drains the buffer, dispatches post-processing, and destroys the
// session.
func (m *SessionManager) RequestClose(ctx context.Context, sessionID valueobjects.SessionID, reason string) error {
	m.mu.RLock()
	ms, ok := m.sessions[sessionID.String()]
	m.mu.RUnlock()
	if !ok {
		return pkgerrors.NewNotFoundError("session")
	}

	if !ms.session.BeginFinalize() {
		m.logger.Debug("Finalization already in progress",
			zap.String("sessionID", sessionID.String()),
			zap.String("reason", reason),
		)
		return nil
	}

	// This trigger won the race; only its timer is cancelled. Extraction
	// jobs dispatched below run to their own resolve or timeout.
	m.scheduler.Cancel(sessionID)

	ms.mu.Lock()
	if err := m.flushLocked(ctx, ms); err != nil {
		// The requeued batch gets one more attempt before the session is
		// destroyed.
		m.flushLocked(ctx, ms)
	}
	ms.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, sessionID.String())
	m.mu.Unlock()

	ms.session.MarkDone()
	m.metrics.ActiveSessions.Dec()
	m.metrics.SessionsFinalized.WithLabelValues(reason).Inc()

	m.logger.Info("Finalized session",
		zap.String("sessionID", sessionID.String()),
		zap.String("conversationID", ms.session.ConversationID().String()),
		zap.String("reason", reason),
	)

	if m.finalizer != nil {
		m.finalizer.Finalize(ctx, ms.session.ConversationID(), ms.session.UserID(), reason)
	}

	return nil
}

// ActiveSessionCount returns the number of open sessions
func (m *SessionManager) ActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start launches the fixed-interval flush loop
func (m *SessionManager) Start(ctx context.Context) {
	m.logger.Info("Starting session manager",
		zap.Duration("flushInterval", m.cfg.FlushInterval),
	)
	go m.flushLoop(ctx)
}

// Stop halts the flush loop and finalizes every remaining session
func (m *SessionManager) Stop(ctx context.Context) {
	close(m.stopChan)
	<-m.stoppedChan

	m.mu.RLock()
	ids := make([]valueobjects.SessionID, 0, len(m.sessions))
	for _, ms := range m.sessions {
		ids = append(ids, ms.session.ID())
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.RequestClose(ctx, id, CloseReasonShutdown); err != nil && !pkgerrors.IsNotFound(err) {
			m.logger.Error("Failed to close session on shutdown",
				zap.String("sessionID", id.String()),
				zap.Error(err),
			)
		}
	}
	m.logger.Info("Session manager stopped")
}

func (m *SessionManager) flushLoop(ctx context.Context) {
	defer close(m.stoppedChan)

	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.flushAll(ctx)
		}
	}
}

// flushAll drains every session's buffer into its persisted transcript.
// Idle sessions are no-ops.
func (m *SessionManager) flushAll(ctx context.Context) {
	m.mu.RLock()
	managed := make([]*managedSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		managed = append(managed, ms)
	}
	m.mu.RUnlock()

	for _, ms := range managed {
		ms.mu.Lock()
		m.flushLocked(ctx, ms)
		ms.mu.Unlock()
	}
}

// flushLocked drains the buffer and writes the segments as an incremental
// append to the conversation record. A failed write requeues the drained
// batch so the next flush cycle retries it; segments are never dropped on a
// transient store error. Callers hold the session mutex.
func (m *SessionManager) flushLocked(ctx context.Context, ms *managedSession) error {
	segments := ms.buffer.Drain()
	if segments == nil {
		return nil
	}

	if err := m.conversations.AppendSegments(ctx, ms.session.ConversationID(), segments); err != nil {
		ms.buffer.Requeue(segments)
		m.logger.Error("Failed to flush segments, batch requeued",
			zap.String("sessionID", ms.session.ID().String()),
			zap.String("conversationID", ms.session.ConversationID().String()),
			zap.Int("count", len(segments)),
			zap.Error(err),
		)
		return err
	}

	if ms.session.HasIdleTimeout() && ms.session.Status() == entities.SessionActive {
		m.scheduler.Reschedule(ms.session.ID(), time.Now().Add(ms.session.IdleTimeout()))
	}
	return nil
}

// onIdleExpired is the scheduler's expiry callback
func (m *SessionManager) onIdleExpired(sessionID valueobjects.SessionID) {
	ctx := context.Background()
	if err := m.RequestClose(ctx, sessionID, CloseReasonIdleTimeout); err != nil && !pkgerrors.IsNotFound(err) {
		m.logger.Error("Idle timeout close failed",
			zap.String("sessionID", sessionID.String()),
			zap.Error(err),
		)
	}
}

func (m *SessionManager) publishEvents(ctx context.Context, conversation *entities.Conversation) {
	events := conversation.GetUncommittedEvents()
	if len(events) == 0 {
		return
	}
	if err := m.eventBus.PublishBatch(ctx, events); err != nil {
		m.logger.Error("Failed to publish conversation events",
			zap.String("conversationID", conversation.ID().String()),
			zap.Error(err),
		)
	}
	conversation.MarkEventsAsCommitted()
}
