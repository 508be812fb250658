package services

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"scribe-backend/domain/core/valueobjects"
)

// ExpireFunc is invoked exactly once when a session's idle deadline passes.
// The scheduler removes the entry before calling it.
type ExpireFunc func(sessionID valueobjects.SessionID)

// FinalizationScheduler tracks one idle deadline per active session in a
// min-heap and fires the expiry callback from a single timer goroutine.
// It holds no session data beyond identity and deadline; reschedules are
// O(log n).
type FinalizationScheduler struct {
	mu       sync.Mutex
	entries  deadlineHeap
	byID     map[string]*deadlineEntry
	wake     chan struct{}
	onExpire ExpireFunc
	logger   *zap.Logger

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

type deadlineEntry struct {
	sessionID valueobjects.SessionID
	deadline  time.Time
	index     int
}

// NewFinalizationScheduler creates a scheduler; SetExpireFunc must be called
// before Start
func NewFinalizationScheduler(logger *zap.Logger) *FinalizationScheduler {
	return &FinalizationScheduler{
		byID:        make(map[string]*deadlineEntry),
		wake:        make(chan struct{}, 1),
		logger:      logger,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// SetExpireFunc wires the expiry callback. Set once during container
// assembly, before Start.
func (s *FinalizationScheduler) SetExpireFunc(fn ExpireFunc) {
	s.onExpire = fn
}

// Schedule sets or replaces the deadline for a session
func (s *FinalizationScheduler) Schedule(sessionID valueobjects.SessionID, deadline time.Time) {
	s.mu.Lock()
	if entry, ok := s.byID[sessionID.String()]; ok {
		entry.deadline = deadline
		heap.Fix(&s.entries, entry.index)
	} else {
		entry = &deadlineEntry{sessionID: sessionID, deadline: deadline}
		heap.Push(&s.entries, entry)
		s.byID[sessionID.String()] = entry
	}
	s.mu.Unlock()
	s.kick()
}

// Reschedule pushes the session's deadline out; called on every append and
// flush. A session with no entry (no idle timeout, or already expired) is a
// no-op.
func (s *FinalizationScheduler) Reschedule(sessionID valueobjects.SessionID, deadline time.Time) {
	s.mu.Lock()
	entry, ok := s.byID[sessionID.String()]
	if ok {
		entry.deadline = deadline
		heap.Fix(&s.entries, entry.index)
	}
	s.mu.Unlock()
	if ok {
		s.kick()
	}
}

// Cancel removes the session's deadline, if any. Closing a session cancels
// only its timer; dispatched extraction jobs are unaffected.
func (s *FinalizationScheduler) Cancel(sessionID valueobjects.SessionID) {
	s.mu.Lock()
	if entry, ok := s.byID[sessionID.String()]; ok {
		heap.Remove(&s.entries, entry.index)
		delete(s.byID, sessionID.String())
	}
	s.mu.Unlock()
	s.kick()
}

// Len returns the number of tracked deadlines
func (s *FinalizationScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// Start launches the timer goroutine
func (s *FinalizationScheduler) Start(ctx context.Context) {
	s.logger.Info("Starting finalization scheduler")
	go s.run(ctx)
}

// Stop shuts the timer goroutine down and waits for it
func (s *FinalizationScheduler) Stop() {
	close(s.stopChan)
	<-s.stoppedChan
	s.logger.Info("Finalization scheduler stopped")
}

// kick wakes the timer goroutine after a heap mutation
func (s *FinalizationScheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *FinalizationScheduler) run(ctx context.Context) {
	defer close(s.stoppedChan)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.armTimer(timer)

		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-s.wake:
			// Heap changed, re-arm
		case <-timer.C:
			s.fireExpired()
		}
	}
}

// armTimer resets the timer to the earliest deadline. With no entries it
// parks for an hour; any mutation kicks the loop awake first.
func (s *FinalizationScheduler) armTimer(timer *time.Timer) {
	s.mu.Lock()
	wait := time.Hour
	if s.entries.Len() > 0 {
		wait = time.Until(s.entries[0].deadline)
		if wait < 0 {
			wait = 0
		}
	}
	s.mu.Unlock()

	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(wait)
}

// fireExpired pops every entry past its deadline and invokes the callback
// outside the lock
func (s *FinalizationScheduler) fireExpired() {
	now := time.Now()
	var expired []valueobjects.SessionID

	s.mu.Lock()
	for s.entries.Len() > 0 && !s.entries[0].deadline.After(now) {
		entry := heap.Pop(&s.entries).(*deadlineEntry)
		delete(s.byID, entry.sessionID.String())
		expired = append(expired, entry.sessionID)
	}
	s.mu.Unlock()

	for _, sessionID := range expired {
		s.logger.Debug("Idle deadline expired",
			zap.String("sessionID", sessionID.String()),
		)
		if s.onExpire != nil {
			s.onExpire(sessionID)
		}
	}
}

// deadlineHeap is a min-heap ordered by deadline
type deadlineHeap []*deadlineEntry

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x interface{}) {
	entry := x.(*deadlineEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}
