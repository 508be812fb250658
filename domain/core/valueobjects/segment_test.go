package valueobjects

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "scribe-backend/pkg/errors"
)

func TestNewTranscriptSegment_NormalizesText(t *testing.T) {
	// Act
	seg, err := NewTranscriptSegment("  line one\nline two  ", "Sam", 1, false, 0, 2, "whisper")

	// Assert: newlines collapse so transcripts stay line-oriented
	require.NoError(t, err)
	assert.Equal(t, "line one line two", seg.Text())
	assert.Equal(t, "whisper", seg.STTSource())
}

func TestNewTranscriptSegment_Validation(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		speakerIndex int
		start, end   float64
	}{
		{"empty text", "", 0, 0, 1},
		{"whitespace only", "  \n  ", 0, 0, 1},
		{"negative start", "hi", 0, -1, 1},
		{"end before start", "hi", 0, 5, 4},
		{"negative speaker index", "hi", -1, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTranscriptSegment(tt.text, "", tt.speakerIndex, false, tt.start, tt.end, "")
			assert.True(t, pkgerrors.IsValidation(err))
		})
	}
}

func TestTranscriptSegment_Label(t *testing.T) {
	user, err := NewTranscriptSegment("hi", "Sam", 1, true, 0, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "User", user.Label())

	named, err := NewTranscriptSegment("hi", "Sam", 1, false, 0, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "Sam", named.Label())

	anonymous, err := NewTranscriptSegment("hi", "", 3, false, 0, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "Speaker 3", anonymous.Label())
}

func TestAssembleTranscript(t *testing.T) {
	// Arrange
	first, err := NewTranscriptSegment("How are you?", "", 0, true, 0, 1, "")
	require.NoError(t, err)
	second, err := NewTranscriptSegment("Doing well.", "Sam", 1, false, 1, 2, "")
	require.NoError(t, err)

	// Act
	transcript := AssembleTranscript([]TranscriptSegment{first, second})

	// Assert: one line per segment, recoverable by splitting on newlines
	assert.Equal(t, "User: How are you?\nSam: Doing well.", transcript)
	assert.Len(t, strings.Split(transcript, "\n"), 2)
}

func TestAssembleTranscript_Empty(t *testing.T) {
	assert.Equal(t, "", AssembleTranscript(nil))
}
