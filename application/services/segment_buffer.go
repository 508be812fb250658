package services

import (
	"sync"

	"scribe-backend/domain/core/valueobjects"
)

// SegmentBuffer accumulates ordered transcript fragments for one session
// between flush cycles. Appends and drains are serialized; the session's
// ingestion path is single-writer so segments leave the buffer in the exact
// order they arrived.
type SegmentBuffer struct {
	mu        sync.Mutex
	segments  []valueobjects.TranscriptSegment
	lastStart float64
	hasAny    bool
}

// NewSegmentBuffer creates an empty buffer
func NewSegmentBuffer() *SegmentBuffer {
	return &SegmentBuffer{lastStart: -1}
}

// Append adds segments in arrival order. It returns the start time of the
// last buffered segment before this append so the caller can detect
// regressions; the segments are appended regardless.
func (b *SegmentBuffer) Append(segments []valueobjects.TranscriptSegment) (prevStart float64, hadPrev bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prevStart, hadPrev = b.lastStart, b.hasAny
	for _, seg := range segments {
		b.segments = append(b.segments, seg)
		if seg.Start() > b.lastStart {
			b.lastStart = seg.Start()
		}
		b.hasAny = true
	}
	return prevStart, hadPrev
}

// Requeue puts a drained batch back at the front of the buffer so a failed
// flush is retried on the next cycle. The high-water mark stays where it
// was; these segments were accounted for when they first arrived.
func (b *SegmentBuffer) Requeue(segments []valueobjects.TranscriptSegment) {
	if len(segments) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.segments = append(segments, b.segments...)
}

// Drain removes and returns all buffered segments in order. It returns nil
// when nothing is buffered, so flush cycles are no-ops on idle sessions.
func (b *SegmentBuffer) Drain() []valueobjects.TranscriptSegment {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.segments) == 0 {
		return nil
	}
	drained := b.segments
	b.segments = nil
	return drained
}

// Len returns the number of buffered segments
func (b *SegmentBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.segments)
}

// LastStart returns the highest start offset seen so far, and whether any
// segment has been buffered
func (b *SegmentBuffer) LastStart() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastStart, b.hasAny
}
