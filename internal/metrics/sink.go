// Package metrics records engine telemetry.
package metrics

import (
	"time"

	"opportunist/internal/model"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors.
type Sink interface {
	// Run metrics
	RunCompleted(status model.ResultStatus, duration time.Duration)
	DigestAssembled(counts map[model.Category]int, total int)

	// Source metrics
	SourceFetched(source string, listings int, err error)

	// Scorer metrics
	ScorerBatchCompleted(outcome string, duration time.Duration)
	ScorerRetry()
}

// Outcome constants for ScorerBatchCompleted.
const (
	BatchOutcomeScored   = "scored"
	BatchOutcomeDegraded = "degraded"
)
