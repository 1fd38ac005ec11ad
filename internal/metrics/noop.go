package metrics

import (
	"time"

	"opportunist/internal/model"
)

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) RunCompleted(status model.ResultStatus, duration time.Duration) {}
func (n *NoopSink) DigestAssembled(counts map[model.Category]int, total int)       {}
func (n *NoopSink) SourceFetched(source string, listings int, err error)           {}
func (n *NoopSink) ScorerBatchCompleted(outcome string, duration time.Duration)    {}
func (n *NoopSink) ScorerRetry()                                                   {}
