package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
)

func segment(t *testing.T, text string, start, end float64) valueobjects.TranscriptSegment {
	t.Helper()
	seg, err := valueobjects.NewTranscriptSegment(text, "Sam", 1, false, start, end, "")
	require.NoError(t, err)
	return seg
}

func TestNewConversation(t *testing.T) {
	// Act
	conv, err := NewConversation("user-1", "phone")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, ConversationInProgress, conv.Status())
	assert.Equal(t, "user-1", conv.UserID())
	assert.Equal(t, "phone", conv.Source())
	assert.Equal(t, 0, conv.SegmentCount())

	events := conv.GetUncommittedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "conversation.started", events[0].GetEventType())
}

func TestNewConversation_RequiresUser(t *testing.T) {
	// Act
	_, err := NewConversation("", "phone")

	// Assert
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestConversationStatus_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    ConversationStatus
		to      ConversationStatus
		allowed bool
	}{
		{"in_progress to processing", ConversationInProgress, ConversationProcessing, true},
		{"processing to completed", ConversationProcessing, ConversationCompleted, true},
		{"in_progress to discarded", ConversationInProgress, ConversationDiscarded, true},
		{"processing to discarded", ConversationProcessing, ConversationDiscarded, true},
		{"in_progress skips to completed", ConversationInProgress, ConversationCompleted, false},
		{"completed back to processing", ConversationCompleted, ConversationProcessing, false},
		{"completed to discarded", ConversationCompleted, ConversationDiscarded, false},
		{"discarded to processing", ConversationDiscarded, ConversationProcessing, false},
		{"processing back to in_progress", ConversationProcessing, ConversationInProgress, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestConversation_LifecycleHappyPath(t *testing.T) {
	// Arrange
	conv, err := NewConversation("user-1", "phone")
	require.NoError(t, err)
	require.NoError(t, conv.AppendSegments([]valueobjects.TranscriptSegment{segment(t, "hi", 0, 1)}))

	// Act & Assert
	require.NoError(t, conv.BeginProcessing())
	assert.Equal(t, ConversationProcessing, conv.Status())

	require.NoError(t, conv.Complete())
	assert.Equal(t, ConversationCompleted, conv.Status())
	require.NotNil(t, conv.FinishedAt())
	assert.WithinDuration(t, time.Now(), *conv.FinishedAt(), time.Second)

	// Completion is monotonic
	assert.True(t, pkgerrors.IsConflict(conv.Complete()))
	assert.True(t, pkgerrors.IsConflict(conv.BeginProcessing()))
	assert.True(t, pkgerrors.IsConflict(conv.Discard()))
}

func TestConversation_DiscardOnlyPreCompleted(t *testing.T) {
	// Arrange
	conv, err := NewConversation("user-1", "phone")
	require.NoError(t, err)

	// Act
	require.NoError(t, conv.Discard())

	// Assert
	assert.Equal(t, ConversationDiscarded, conv.Status())
	assert.NotNil(t, conv.FinishedAt())
	assert.True(t, pkgerrors.IsConflict(conv.Discard()))
}

func TestConversation_AppendSegmentsKeepsOrder(t *testing.T) {
	// Arrange
	conv, err := NewConversation("user-1", "phone")
	require.NoError(t, err)

	// Act
	err = conv.AppendSegments([]valueobjects.TranscriptSegment{
		segment(t, "one", 0, 1),
		segment(t, "two", 1, 2),
	})

	// Assert
	require.NoError(t, err)
	segments := conv.Segments()
	require.Len(t, segments, 2)
	assert.Equal(t, "one", segments[0].Text())
	assert.Equal(t, "two", segments[1].Text())
}

func TestConversation_OutOfOrderAppendStillAppends(t *testing.T) {
	// Arrange
	conv, err := NewConversation("user-1", "phone")
	require.NoError(t, err)
	require.NoError(t, conv.AppendSegments([]valueobjects.TranscriptSegment{segment(t, "late", 10, 11)}))

	// Act
	err = conv.AppendSegments([]valueobjects.TranscriptSegment{segment(t, "early", 2, 3)})

	// Assert: surfaced but never dropped
	assert.True(t, pkgerrors.IsOutOfOrderSegment(err))
	assert.Equal(t, 2, conv.SegmentCount())
}

func TestConversation_AppendToTerminalConversation(t *testing.T) {
	// Arrange
	conv, err := NewConversation("user-1", "phone")
	require.NoError(t, err)
	require.NoError(t, conv.Discard())

	// Act
	err = conv.AppendSegments([]valueobjects.TranscriptSegment{segment(t, "too late", 0, 1)})

	// Assert
	assert.True(t, pkgerrors.IsConflict(err))
	assert.Equal(t, 0, conv.SegmentCount())
}

func TestConversation_TranscriptAssembly(t *testing.T) {
	// Arrange
	conv, err := NewConversation("user-1", "phone")
	require.NoError(t, err)

	user, err := valueobjects.NewTranscriptSegment("How was the trip?", "", 0, true, 0, 2, "")
	require.NoError(t, err)
	named, err := valueobjects.NewTranscriptSegment("Great, thanks!", "Sam", 1, false, 2, 4, "")
	require.NoError(t, err)
	anon, err := valueobjects.NewTranscriptSegment("Agreed.", "", 2, false, 4, 5, "")
	require.NoError(t, err)
	require.NoError(t, conv.AppendSegments([]valueobjects.TranscriptSegment{user, named, anon}))

	// Act
	transcript := conv.Transcript()

	// Assert
	assert.Equal(t, "User: How was the trip?\nSam: Great, thanks!\nSpeaker 2: Agreed.", transcript)
}

func TestConversation_PrimaryOutcomesGateCompletion(t *testing.T) {
	// Arrange
	conv, err := NewConversation("user-1", "phone")
	require.NoError(t, err)
	assert.False(t, conv.PrimaryOutcomesTerminal())

	// Act: a best-effort outcome alone does not satisfy the gate
	conv.RecordOutcome(valueobjects.ExtractionOutcome{Kind: valueobjects.KindVector, Status: valueobjects.OutcomeSucceeded})
	assert.False(t, conv.PrimaryOutcomesTerminal())

	conv.RecordOutcome(valueobjects.ExtractionOutcome{Kind: valueobjects.KindSummary, Status: valueobjects.OutcomeSucceeded})
	assert.False(t, conv.PrimaryOutcomesTerminal())

	// A failed primary outcome still counts as terminal
	conv.RecordOutcome(valueobjects.ExtractionOutcome{Kind: valueobjects.KindMemory, Status: valueobjects.OutcomeFailed, Error: "agent down"})

	// Assert
	assert.True(t, conv.PrimaryOutcomesTerminal())
}

func TestReconstructConversation(t *testing.T) {
	// Arrange
	id := valueobjects.NewConversationID()
	startedAt := time.Now().Add(-time.Hour)
	outcomes := map[valueobjects.ExtractionKind]valueobjects.ExtractionOutcome{
		valueobjects.KindSummary: {Kind: valueobjects.KindSummary, Status: valueobjects.OutcomeSucceeded, ItemCount: 1},
	}

	// Act
	conv, err := ReconstructConversation(
		id, "user-1", ConversationProcessing,
		[]valueobjects.TranscriptSegment{segment(t, "hi", 0, 1)},
		startedAt, nil, nil, outcomes, "phone",
	)

	// Assert
	require.NoError(t, err)
	assert.True(t, conv.ID().Equals(id))
	assert.Equal(t, ConversationProcessing, conv.Status())
	assert.Equal(t, startedAt, conv.StartedAt())
	assert.Len(t, conv.Outcomes(), 1)
	assert.Empty(t, conv.GetUncommittedEvents())
}
