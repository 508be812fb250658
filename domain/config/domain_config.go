package config

import "time"

// DomainConfig holds all configurable business rules and constraints
type DomainConfig struct {
	// Session constraints
	MinIdleTimeout     time.Duration
	MaxIdleTimeout     time.Duration
	DefaultIdleTimeout time.Duration
	FlushInterval      time.Duration

	// Ingestion limits
	MaxSegmentsPerAppend int
	MaxSegmentTextLength int

	// Job constraints
	DefaultJobDeadline time.Duration
	MaxJobDeadline     time.Duration
	SweepInterval      time.Duration

	// Post-processing
	DispatchWorkers int
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		MinIdleTimeout:     2 * time.Minute,
		MaxIdleTimeout:     4 * time.Hour,
		DefaultIdleTimeout: 5 * time.Minute,
		FlushInterval:      600 * time.Millisecond,

		MaxSegmentsPerAppend: 500,
		MaxSegmentTextLength: 8192,

		DefaultJobDeadline: 30 * time.Second,
		MaxJobDeadline:     120 * time.Second,
		SweepInterval:      3 * time.Second,

		DispatchWorkers: 8,
	}
}

// ClampIdleTimeout bounds a requested idle timeout to the configured range.
// Zero is the explicit "no timeout" sentinel and passes through unchanged.
func (c *DomainConfig) ClampIdleTimeout(requested time.Duration) time.Duration {
	if requested == 0 {
		return 0
	}
	if requested < c.MinIdleTimeout {
		return c.MinIdleTimeout
	}
	if requested > c.MaxIdleTimeout {
		return c.MaxIdleTimeout
	}
	return requested
}

// ClampJobDeadline bounds an agent-estimated completion time to the hard
// ceiling. Non-positive estimates fall back to the default deadline.
func (c *DomainConfig) ClampJobDeadline(estimated time.Duration) time.Duration {
	if estimated <= 0 {
		return c.DefaultJobDeadline
	}
	if estimated > c.MaxJobDeadline {
		return c.MaxJobDeadline
	}
	return estimated
}
