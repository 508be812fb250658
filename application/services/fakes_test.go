package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"scribe-backend/application/ports"
	"scribe-backend/domain/core/entities"
	"scribe-backend/domain/core/valueobjects"
	"scribe-backend/domain/events"
	pkgerrors "scribe-backend/pkg/errors"
)

// conversationRecord mirrors the persisted shape of one conversation so the
// fake repository can enforce the conditional status update the same way the
// real store does.
type conversationRecord struct {
	userID     string
	status     entities.ConversationStatus
	segments   []valueobjects.TranscriptSegment
	startedAt  time.Time
	finishedAt *time.Time
	summary    *valueobjects.StructuredSummary
	outcomes   map[valueobjects.ExtractionKind]valueobjects.ExtractionOutcome
	source     string
}

type fakeConversationRepo struct {
	mu      sync.Mutex
	records map[string]*conversationRecord

	createErr      error
	appendErr      error
	appendFailures int
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{records: make(map[string]*conversationRecord)}
}

func (f *fakeConversationRepo) Create(_ context.Context, conversation *entities.Conversation) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[conversation.ID().String()] = &conversationRecord{
		userID:    conversation.UserID(),
		status:    conversation.Status(),
		segments:  conversation.Segments(),
		startedAt: conversation.StartedAt(),
		outcomes:  make(map[valueobjects.ExtractionKind]valueobjects.ExtractionOutcome),
		source:    conversation.Source(),
	}
	return nil
}

func (f *fakeConversationRepo) GetByID(_ context.Context, id valueobjects.ConversationID) (*entities.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id.String()]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("conversation")
	}

	segments := make([]valueobjects.TranscriptSegment, len(rec.segments))
	copy(segments, rec.segments)
	outcomes := make(map[valueobjects.ExtractionKind]valueobjects.ExtractionOutcome, len(rec.outcomes))
	for k, v := range rec.outcomes {
		outcomes[k] = v
	}
	return entities.ReconstructConversation(
		id,
		rec.userID,
		rec.status,
		segments,
		rec.startedAt,
		rec.finishedAt,
		rec.summary,
		outcomes,
		rec.source,
	)
}

func (f *fakeConversationRepo) ListByUser(_ context.Context, userID string, _ int) ([]*entities.Conversation, error) {
	return nil, nil
}

func (f *fakeConversationRepo) AppendSegments(_ context.Context, id valueobjects.ConversationID, segments []valueobjects.TranscriptSegment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.appendFailures > 0 {
		f.appendFailures--
		return errors.New("store write rejected")
	}
	if f.appendErr != nil {
		return f.appendErr
	}

	rec, ok := f.records[id.String()]
	if !ok {
		return pkgerrors.NewNotFoundError("conversation")
	}
	rec.segments = append(rec.segments, segments...)
	return nil
}

func (f *fakeConversationRepo) UpdateStatus(_ context.Context, id valueobjects.ConversationID, from, to entities.ConversationStatus, finishedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id.String()]
	if !ok {
		return pkgerrors.NewNotFoundError("conversation")
	}
	if rec.status != from {
		return pkgerrors.NewConflictError("conversation status changed concurrently")
	}
	rec.status = to
	rec.finishedAt = finishedAt
	return nil
}

func (f *fakeConversationRepo) SetSummary(_ context.Context, id valueobjects.ConversationID, summary valueobjects.StructuredSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id.String()]
	if !ok {
		return pkgerrors.NewNotFoundError("conversation")
	}
	rec.summary = &summary
	return nil
}

func (f *fakeConversationRepo) PutExtractionOutcome(_ context.Context, id valueobjects.ConversationID, outcome valueobjects.ExtractionOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id.String()]
	if !ok {
		return pkgerrors.NewNotFoundError("conversation")
	}
	rec.outcomes[outcome.Kind] = outcome
	return nil
}

// failAppendsOnce makes the next AppendSegments call fail, then recover
func (f *fakeConversationRepo) failAppendsOnce() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendFailures = 1
}

// add seeds a record directly, bypassing Create, and returns its ID
func (f *fakeConversationRepo) add(userID string, status entities.ConversationStatus, segments []valueobjects.TranscriptSegment) valueobjects.ConversationID {
	id := valueobjects.NewConversationID()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id.String()] = &conversationRecord{
		userID:    userID,
		status:    status,
		segments:  segments,
		startedAt: time.Now(),
		outcomes:  make(map[valueobjects.ExtractionKind]valueobjects.ExtractionOutcome),
		source:    "test",
	}
	return id
}

func (f *fakeConversationRepo) statusOf(id valueobjects.ConversationID) entities.ConversationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[id.String()]; ok {
		return rec.status
	}
	return ""
}

func (f *fakeConversationRepo) segmentsOf(id valueobjects.ConversationID) []valueobjects.TranscriptSegment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[id.String()]; ok {
		out := make([]valueobjects.TranscriptSegment, len(rec.segments))
		copy(out, rec.segments)
		return out
	}
	return nil
}

func (f *fakeConversationRepo) summaryOf(id valueobjects.ConversationID) *valueobjects.StructuredSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[id.String()]; ok {
		return rec.summary
	}
	return nil
}

func (f *fakeConversationRepo) outcomeOf(id valueobjects.ConversationID, kind valueobjects.ExtractionKind) (valueobjects.ExtractionOutcome, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[id.String()]; ok {
		outcome, found := rec.outcomes[kind]
		return outcome, found
	}
	return valueobjects.ExtractionOutcome{}, false
}

type fakeMemoryRepo struct {
	mu       sync.Mutex
	memories []*entities.Memory
	batchErr error
}

func (f *fakeMemoryRepo) CreateBatch(_ context.Context, memories []*entities.Memory) error {
	if f.batchErr != nil {
		return f.batchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memories = append(f.memories, memories...)
	return nil
}

func (f *fakeMemoryRepo) ListByConversation(_ context.Context, _ valueobjects.ConversationID) ([]*entities.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memories, nil
}

func (f *fakeMemoryRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.memories)
}

type fakeEventBus struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (f *fakeEventBus) Publish(_ context.Context, event events.DomainEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEventBus) PublishBatch(_ context.Context, batch []events.DomainEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, batch...)
	return nil
}

func (f *fakeEventBus) countOf(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.GetEventType() == eventType {
			n++
		}
	}
	return n
}

// fakeGateway returns canned outcomes per kind. Unconfigured kinds answer
// with an inline empty object, which merges as a legitimate empty result.
type fakeGateway struct {
	mu        sync.Mutex
	outcomes  map[valueobjects.ExtractionKind]ports.InvokeOutcome
	fallbacks map[valueobjects.ExtractionKind]ports.InvokeOutcome

	invocations   map[valueobjects.ExtractionKind]int
	fallbackCalls map[valueobjects.ExtractionKind]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		outcomes:      make(map[valueobjects.ExtractionKind]ports.InvokeOutcome),
		fallbacks:     make(map[valueobjects.ExtractionKind]ports.InvokeOutcome),
		invocations:   make(map[valueobjects.ExtractionKind]int),
		fallbackCalls: make(map[valueobjects.ExtractionKind]int),
	}
}

func (f *fakeGateway) Invoke(_ context.Context, kind valueobjects.ExtractionKind, _ ports.ExtractionPayload) ports.InvokeOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invocations[kind]++
	if outcome, ok := f.outcomes[kind]; ok {
		return outcome
	}
	return ports.ResultOutcome([]byte(`{}`))
}

func (f *fakeGateway) InvokeFallback(_ context.Context, kind valueobjects.ExtractionKind, _ ports.ExtractionPayload) ports.InvokeOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallbackCalls[kind]++
	if outcome, ok := f.fallbacks[kind]; ok {
		return outcome
	}
	return ports.ErrorOutcome(pkgerrors.NewAgentUnavailableError(string(kind), nil))
}

func (f *fakeGateway) HasFallback(kind valueobjects.ExtractionKind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.fallbacks[kind]
	return ok
}

func (f *fakeGateway) invocationCount(kind valueobjects.ExtractionKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invocations[kind]
}

func (f *fakeGateway) fallbackCount(kind valueobjects.ExtractionKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fallbackCalls[kind]
}

type fakePolicies struct {
	policies map[valueobjects.ExtractionKind]ports.FailurePolicy
}

func (f *fakePolicies) PolicyFor(kind valueobjects.ExtractionKind) ports.FailurePolicy {
	if f.policies != nil {
		if p, ok := f.policies[kind]; ok {
			return p
		}
	}
	return ports.FailClosed
}

type finalizeCall struct {
	conversationID valueobjects.ConversationID
	userID         string
	reason         string
}

type fakeFinalizer struct {
	mu    sync.Mutex
	calls []finalizeCall
}

func (f *fakeFinalizer) Finalize(_ context.Context, conversationID valueobjects.ConversationID, userID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, finalizeCall{conversationID: conversationID, userID: userID, reason: reason})
}

func (f *fakeFinalizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFinalizer) lastCall() (finalizeCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return finalizeCall{}, false
	}
	return f.calls[len(f.calls)-1], true
}

// mustSegment builds a valid segment or panics; test data only
func mustSegment(text string, start, end float64) valueobjects.TranscriptSegment {
	seg, err := valueobjects.NewTranscriptSegment(text, "Alex", 1, false, start, end, "test")
	if err != nil {
		panic(err)
	}
	return seg
}
