package ports

import (
	"context"
	"encoding/json"

	"scribe-backend/domain/core/valueobjects"
)

// ExtractionPayload is the request body sent to an external extraction agent
type ExtractionPayload struct {
	UserID         string       `json:"uid"`
	ConversationID string       `json:"conversation_id"`
	Segments       []SegmentDTO `json:"segments"`
	Structured     interface{}  `json:"structured,omitempty"`
}

// SegmentDTO is the wire shape of one transcript segment
type SegmentDTO struct {
	Text         string  `json:"text"`
	Speaker      string  `json:"speaker"`
	SpeakerIndex int     `json:"speaker_index"`
	IsUser       bool    `json:"is_user"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	STTSource    string  `json:"stt_source,omitempty"`
}

// SegmentsToDTO converts domain segments to their wire shape
func SegmentsToDTO(segments []valueobjects.TranscriptSegment) []SegmentDTO {
	out := make([]SegmentDTO, len(segments))
	for i, seg := range segments {
		out[i] = SegmentDTO{
			Text:         seg.Text(),
			Speaker:      seg.Speaker(),
			SpeakerIndex: seg.SpeakerIndex(),
			IsUser:       seg.IsUser(),
			Start:        seg.Start(),
			End:          seg.End(),
			STTSource:    seg.STTSource(),
		}
	}
	return out
}

// PendingJob carries the agent's processing envelope: the job will be
// resolved later by callback, or timed out by the registry sweep.
type PendingJob struct {
	JobID                      valueobjects.JobID
	EstimatedCompletionSeconds int
}

// InvokeOutcome is the closed tagged result of one agent invocation,
// decoded exactly once at the gateway boundary. Exactly one of Result,
// Pending, or Err is set.
type InvokeOutcome struct {
	Result  json.RawMessage
	Pending *PendingJob
	Err     error
}

// ResultOutcome wraps an inline agent result
func ResultOutcome(result json.RawMessage) InvokeOutcome {
	return InvokeOutcome{Result: result}
}

// PendingOutcome wraps a processing envelope
func PendingOutcome(pending PendingJob) InvokeOutcome {
	return InvokeOutcome{Pending: &pending}
}

// ErrorOutcome wraps an agent failure
func ErrorOutcome(err error) InvokeOutcome {
	return InvokeOutcome{Err: err}
}

// IsResult reports whether the agent answered inline
func (o InvokeOutcome) IsResult() bool { return o.Result != nil && o.Err == nil && o.Pending == nil }

// IsPending reports whether the agent answered with a processing envelope
func (o InvokeOutcome) IsPending() bool { return o.Pending != nil && o.Err == nil }

// IsError reports whether the invocation failed
func (o InvokeOutcome) IsError() bool { return o.Err != nil }

// AgentGateway is the uniform capability interface to external extraction
// services. Implementations normalize the two external response shapes
// (inline result, processing envelope) into InvokeOutcome and classify
// empty 200 bodies and transport failures as distinct errors.
type AgentGateway interface {
	Invoke(ctx context.Context, kind valueobjects.ExtractionKind, payload ExtractionPayload) InvokeOutcome

	// InvokeFallback calls the kind's alternate generation endpoint, used
	// only when the kind's policy is fail-open and a fallback is configured
	InvokeFallback(ctx context.Context, kind valueobjects.ExtractionKind, payload ExtractionPayload) InvokeOutcome

	// HasFallback reports whether an alternate endpoint is configured
	HasFallback(kind valueobjects.ExtractionKind) bool
}
