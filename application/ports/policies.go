package ports

import (
	"scribe-backend/domain/core/valueobjects"
)

// FailurePolicy decides what happens when an extraction kind fails
// (agent unavailable, empty response, or timeout)
type FailurePolicy string

const (
	// FailClosed records an explicit empty/failed outcome for the kind.
	// This keeps "nothing worth extracting" and "extraction failed"
	// distinguishable in the record. It is the default.
	FailClosed FailurePolicy = "fail_closed"

	// FailOpenToAlternate retries the kind once against its configured
	// alternate generation endpoint before failing closed
	FailOpenToAlternate FailurePolicy = "fail_open_to_alternate"
)

// PolicyProvider supplies the per-kind failure policy from configuration
type PolicyProvider interface {
	PolicyFor(kind valueobjects.ExtractionKind) FailurePolicy
}
