package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"scribe-backend/application/ports"
	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
)

// Endpoints supplies per-kind agent endpoints and timeouts
type Endpoints interface {
	EndpointFor(kind valueobjects.ExtractionKind) string
	FallbackEndpointFor(kind valueobjects.ExtractionKind) (string, bool)
	TimeoutFor(kind valueobjects.ExtractionKind) time.Duration
}

// processingEnvelope is the agent's asynchronous acceptance response
type processingEnvelope struct {
	Status                     string `json:"status"`
	JobID                      string `json:"job_id"`
	EstimatedCompletionSeconds int    `json:"estimated_completion_seconds"`
}

// HTTPGateway invokes external extraction agents over HTTP. It decodes the
// response exactly once and classifies it into the closed set of outcomes:
// inline result, processing envelope, empty response, or unavailable. Each
// kind gets its own circuit breaker so one failing agent does not trip the
// others.
type HTTPGateway struct {
	client    *http.Client
	endpoints Endpoints
	logger    *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewHTTPGateway creates a gateway with per-kind circuit breakers
func NewHTTPGateway(endpoints Endpoints, logger *zap.Logger) *HTTPGateway {
	return &HTTPGateway{
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		endpoints: endpoints,
		logger:    logger,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Invoke calls the kind's primary endpoint
func (g *HTTPGateway) Invoke(ctx context.Context, kind valueobjects.ExtractionKind, payload ports.ExtractionPayload) ports.InvokeOutcome {
	return g.invoke(ctx, kind, g.endpoints.EndpointFor(kind), payload)
}

// InvokeFallback calls the kind's alternate generation endpoint
func (g *HTTPGateway) InvokeFallback(ctx context.Context, kind valueobjects.ExtractionKind, payload ports.ExtractionPayload) ports.InvokeOutcome {
	endpoint, ok := g.endpoints.FallbackEndpointFor(kind)
	if !ok {
		return ports.ErrorOutcome(pkgerrors.NewAgentUnavailableError(string(kind), fmt.Errorf("no fallback endpoint configured")))
	}
	return g.invoke(ctx, kind, endpoint, payload)
}

// HasFallback reports whether an alternate endpoint is configured
func (g *HTTPGateway) HasFallback(kind valueobjects.ExtractionKind) bool {
	_, ok := g.endpoints.FallbackEndpointFor(kind)
	return ok
}

func (g *HTTPGateway) invoke(ctx context.Context, kind valueobjects.ExtractionKind, endpoint string, payload ports.ExtractionPayload) ports.InvokeOutcome {
	breaker := g.breakerFor(endpoint)

	result, err := breaker.Execute(func() (interface{}, error) {
		return g.doRequest(ctx, kind, endpoint, payload)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return ports.ErrorOutcome(pkgerrors.NewAgentUnavailableError(string(kind), err))
		}
		return ports.ErrorOutcome(err)
	}

	return result.(ports.InvokeOutcome)
}

// doRequest performs one agent call and decodes the body exactly once.
// Classification errors are returned so the breaker counts them; the
// outcome wrapping happens in invoke.
func (g *HTTPGateway) doRequest(ctx context.Context, kind valueobjects.ExtractionKind, endpoint string, payload ports.ExtractionPayload) (ports.InvokeOutcome, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return ports.InvokeOutcome{}, pkgerrors.Wrap(err, "failed to encode extraction payload")
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.endpoints.TimeoutFor(kind))
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ports.InvokeOutcome{}, pkgerrors.Wrap(err, "failed to build agent request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return ports.InvokeOutcome{}, pkgerrors.NewAgentUnavailableError(string(kind), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.InvokeOutcome{}, pkgerrors.NewAgentUnavailableError(string(kind), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ports.InvokeOutcome{}, pkgerrors.NewAgentUnavailableError(
			string(kind),
			fmt.Errorf("agent returned status %d", resp.StatusCode),
		)
	}

	// A 200 with no body is distinct from a result that decodes to zero
	// items: the former is an agent defect, the latter a legitimate empty
	// extraction.
	trimmed := bytes.TrimSpace(respBody)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ports.InvokeOutcome{}, pkgerrors.NewAgentEmptyResponseError(string(kind))
	}

	var envelope processingEnvelope
	if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Status == "processing" {
		jobID, err := valueobjects.NewJobID(envelope.JobID)
		if err != nil {
			return ports.InvokeOutcome{}, pkgerrors.NewValidationError("agent processing envelope missing job_id")
		}
		g.logger.Debug("Agent accepted job for asynchronous processing",
			zap.String("kind", string(kind)),
			zap.String("jobID", jobID.String()),
			zap.Int("estimatedSeconds", envelope.EstimatedCompletionSeconds),
		)
		return ports.PendingOutcome(ports.PendingJob{
			JobID:                      jobID,
			EstimatedCompletionSeconds: envelope.EstimatedCompletionSeconds,
		}), nil
	}

	return ports.ResultOutcome(json.RawMessage(trimmed)), nil
}

// breakerFor returns the endpoint's circuit breaker, creating it on first use
func (g *HTTPGateway) breakerFor(endpoint string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[endpoint]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.logger.Warn("Agent circuit breaker state changed",
				zap.String("endpoint", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	g.breakers[endpoint] = cb
	return cb
}
