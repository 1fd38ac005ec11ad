package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"opportunist/internal/model"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget. Registration errors are
// logged but never propagated.
type PrometheusSink struct {
	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram

	digestEntries   *prometheus.GaugeVec
	digestSizeTotal prometheus.Histogram

	sourceFetchesTotal *prometheus.CounterVec
	sourceListings     *prometheus.CounterVec

	scorerBatchesTotal *prometheus.CounterVec
	scorerBatchSeconds prometheus.Histogram
	scorerRetriesTotal prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink. Metrics that fail
// to register still work as local collectors.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opportunist_runs_total",
			Help: "Total number of engine runs by outcome.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "opportunist_run_duration_seconds",
			Help:    "Wall-clock duration of each engine run in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		digestEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "opportunist_digest_entries",
			Help: "Entries in the most recent digest per category.",
		}, []string{"category"}),
		digestSizeTotal: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "opportunist_digest_size",
			Help:    "Total entries per assembled digest.",
			Buckets: []float64{0, 5, 10, 20, 35, 50},
		}),
		sourceFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opportunist_source_fetches_total",
			Help: "Total source fetch attempts by source and outcome.",
		}, []string{"source", "outcome"}),
		sourceListings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opportunist_source_listings_total",
			Help: "Total raw listings collected per source.",
		}, []string{"source"}),
		scorerBatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opportunist_scorer_batches_total",
			Help: "Total scoring batches by outcome.",
		}, []string{"outcome"}),
		scorerBatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "opportunist_scorer_batch_duration_seconds",
			Help:    "Scoring batch latency in seconds, including retries.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		scorerRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opportunist_scorer_retries_total",
			Help: "Total scoring retry attempts (excludes first attempt).",
		}),
	}

	s.register(reg, s.runsTotal, "opportunist_runs_total")
	s.register(reg, s.runDuration, "opportunist_run_duration_seconds")
	s.register(reg, s.digestEntries, "opportunist_digest_entries")
	s.register(reg, s.digestSizeTotal, "opportunist_digest_size")
	s.register(reg, s.sourceFetchesTotal, "opportunist_source_fetches_total")
	s.register(reg, s.sourceListings, "opportunist_source_listings_total")
	s.register(reg, s.scorerBatchesTotal, "opportunist_scorer_batches_total")
	s.register(reg, s.scorerBatchSeconds, "opportunist_scorer_batch_duration_seconds")
	s.register(reg, s.scorerRetriesTotal, "opportunist_scorer_retries_total")
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) RunCompleted(status model.ResultStatus, duration time.Duration) {
	s.runsTotal.WithLabelValues(string(status)).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DigestAssembled(counts map[model.Category]int, total int) {
	for _, cat := range model.Categories {
		s.digestEntries.WithLabelValues(string(cat)).Set(float64(counts[cat]))
	}
	s.digestSizeTotal.Observe(float64(total))
}

func (s *PrometheusSink) SourceFetched(source string, listings int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.sourceFetchesTotal.WithLabelValues(source, outcome).Inc()
	s.sourceListings.WithLabelValues(source).Add(float64(listings))
}

func (s *PrometheusSink) ScorerBatchCompleted(outcome string, duration time.Duration) {
	s.scorerBatchesTotal.WithLabelValues(outcome).Inc()
	s.scorerBatchSeconds.Observe(duration.Seconds())
}

func (s *PrometheusSink) ScorerRetry() {
	s.scorerRetriesTotal.Inc()
}
