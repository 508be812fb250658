package valueobjects

import (
	"fmt"
	"strings"

	pkgerrors "scribe-backend/pkg/errors"
)

// TranscriptSegment is an immutable fragment of a conversation transcript.
// Ordering and content are preserved verbatim through transcript assembly.
type TranscriptSegment struct {
	text         string
	speaker      string
	speakerIndex int
	isUser       bool
	start        float64
	end          float64
	sttSource    string
}

// NewTranscriptSegment creates a validated transcript segment. Text is
// normalized to a single line so transcript assembly stays line-oriented.
func NewTranscriptSegment(
	text string,
	speaker string,
	speakerIndex int,
	isUser bool,
	start, end float64,
	sttSource string,
) (TranscriptSegment, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if text == "" {
		return TranscriptSegment{}, pkgerrors.NewValidationError("segment text cannot be empty")
	}
	if start < 0 {
		return TranscriptSegment{}, pkgerrors.NewValidationError("segment start offset cannot be negative")
	}
	if end < start {
		return TranscriptSegment{}, pkgerrors.NewValidationError("segment end offset cannot precede start")
	}
	if speakerIndex < 0 {
		return TranscriptSegment{}, pkgerrors.NewValidationError("speaker index cannot be negative")
	}

	return TranscriptSegment{
		text:         text,
		speaker:      speaker,
		speakerIndex: speakerIndex,
		isUser:       isUser,
		start:        start,
		end:          end,
		sttSource:    sttSource,
	}, nil
}

// Text returns the segment text
func (s TranscriptSegment) Text() string {
	return s.text
}

// Speaker returns the speaker label
func (s TranscriptSegment) Speaker() string {
	return s.speaker
}

// SpeakerIndex returns the diarization index of the speaker
func (s TranscriptSegment) SpeakerIndex() int {
	return s.speakerIndex
}

// IsUser reports whether the segment was spoken by the session owner
func (s TranscriptSegment) IsUser() bool {
	return s.isUser
}

// Start returns the start offset in seconds from the conversation start
func (s TranscriptSegment) Start() float64 {
	return s.start
}

// End returns the end offset in seconds from the conversation start
func (s TranscriptSegment) End() float64 {
	return s.end
}

// STTSource returns the optional speech-to-text source tag
func (s TranscriptSegment) STTSource() string {
	return s.sttSource
}

// Label returns the deterministic speaker label used in assembled transcripts
func (s TranscriptSegment) Label() string {
	if s.isUser {
		return "User"
	}
	if s.speaker != "" {
		return s.speaker
	}
	return fmt.Sprintf("Speaker %d", s.speakerIndex)
}

// AssembleTranscript concatenates segments into a speaker-labeled transcript,
// one line per segment, in the exact order given. The assembly is lossless:
// the segment count and text are recoverable by splitting on newlines.
func AssembleTranscript(segments []TranscriptSegment) string {
	if len(segments) == 0 {
		return ""
	}

	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(seg.Label())
		b.WriteString(": ")
		b.WriteString(seg.text)
	}
	return b.String()
}
