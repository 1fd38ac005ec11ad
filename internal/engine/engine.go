// Package engine coordinates one digest run end to end: claim the window,
// collect, filter, score, deduplicate, rank, assemble, then mark and
// deliver exactly once.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"opportunist/internal/dedupe"
	"opportunist/internal/filter"
	"opportunist/internal/fingerprint"
	"opportunist/internal/metrics"
	"opportunist/internal/model"
	"opportunist/internal/notify"
	"opportunist/internal/ranker"
	"opportunist/internal/scorer"
	"opportunist/internal/source"
	"opportunist/internal/storage"
)

// ScoreClient is the slice of the scorer the engine needs.
type ScoreClient interface {
	Init(ctx context.Context, interests []string) error
	ScoreAll(ctx context.Context, texts []string) ([]scorer.Result, error)
}

// Options carry the per-run policy knobs.
type Options struct {
	Interests  []string
	Threshold  float64
	Quotas     map[model.Category]int
	Order      []model.Category
	RunTimeout time.Duration // hard ceiling for a whole run
	Lease      time.Duration // how long a claimed run blocks takeover
}

// DefaultRunTimeout bounds a run that would otherwise hang on a slow
// upstream.
const DefaultRunTimeout = 10 * time.Minute

// DefaultLease is how long a running window is protected from takeover.
const DefaultLease = 15 * time.Minute

// Engine executes digest runs. Safe for a single caller; the store's
// check-and-set protects against concurrent engines.
type Engine struct {
	store    storage.Store
	sources  []source.Source
	scorer   ScoreClient
	notifier notify.Notifier
	rank     ranker.Ranker
	assemble ranker.Assembler
	opts     Options
	sink     metrics.Sink
	log      *slog.Logger

	now          func() time.Time
	newAttemptID func() string
}

// New creates an Engine. A nil sink disables metrics.
func New(store storage.Store, sources []source.Source, sc ScoreClient, notifier notify.Notifier, opts Options, sink metrics.Sink, log *slog.Logger) *Engine {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Engine{
		store:        store,
		sources:      sources,
		scorer:       sc,
		notifier:     notifier,
		rank:         ranker.Ranker{Threshold: opts.Threshold, Quotas: opts.Quotas},
		assemble:     ranker.Assembler{Order: opts.Order},
		opts:         opts,
		sink:         sink,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
		newAttemptID: uuid.NewString,
	}
}

// Run executes the digest run for one window. The returned result is
// always meaningful: SKIPPED_ALREADY_RUN when another attempt owns or
// already delivered the window, FAILED with an error when the run could not
// complete, DELIVERED otherwise. An empty digest still counts as delivered.
func (e *Engine) Run(ctx context.Context, window model.Window) (model.RunResult, error) {
	started := e.now()
	attemptID := e.newAttemptID()
	result := model.RunResult{AttemptID: attemptID}
	log := e.log.With("window", window.Date, "attempt", attemptID)

	ctx, cancel := context.WithTimeout(ctx, e.opts.RunTimeout)
	defer cancel()

	prior, acquired, err := e.store.BeginRun(ctx, window, attemptID, e.opts.Lease)
	if err != nil {
		result.Status = model.ResultFailed
		e.sink.RunCompleted(result.Status, e.now().Sub(started))
		return result, fmt.Errorf("claim window: %w", err)
	}
	if !acquired {
		log.Info("window already handled", "prior_status", string(prior))
		result.Status = model.ResultSkippedAlready
		e.sink.RunCompleted(result.Status, e.now().Sub(started))
		return result, nil
	}
	log.Info("run started", "prior_status", string(prior))

	digest, failures, err := e.build(ctx, window, started, log)
	result.Failures = failures
	if err != nil {
		e.fail(window, attemptID, log)
		result.Status = model.ResultFailed
		e.sink.RunCompleted(result.Status, e.now().Sub(started))
		return result, err
	}

	// Point of no return: after the first successful mark, failing the
	// window is the only safe fallback. Marked fingerprints stay marked so
	// a re-run cannot deliver the same listing twice.
	if err := ctx.Err(); err != nil {
		e.fail(window, attemptID, log)
		result.Status = model.ResultFailed
		e.sink.RunCompleted(result.Status, e.now().Sub(started))
		return result, fmt.Errorf("run cancelled before delivery: %w", err)
	}

	for _, entry := range digest.Entries {
		if err := e.store.MarkDelivered(ctx, entry.Fingerprint, window); err != nil {
			e.fail(window, attemptID, log)
			result.Status = model.ResultFailed
			e.sink.RunCompleted(result.Status, e.now().Sub(started))
			return result, fmt.Errorf("mark delivered: %w", err)
		}
	}

	if err := e.notifier.Deliver(ctx, digest); err != nil {
		e.fail(window, attemptID, log)
		result.Status = model.ResultFailed
		e.sink.RunCompleted(result.Status, e.now().Sub(started))
		return result, fmt.Errorf("deliver digest: %w", err)
	}

	if err := e.store.FinishRun(ctx, window, attemptID, model.RunDelivered); err != nil {
		// The digest went out; surface the bookkeeping failure without
		// pretending the delivery failed.
		log.Error("finish run", "error", err)
	}

	result.Status = model.ResultDelivered
	result.Total = digest.Total
	result.CountsByCategory = digest.Counts
	e.sink.RunCompleted(result.Status, e.now().Sub(started))
	e.sink.DigestAssembled(digest.Counts, digest.Total)
	log.Info("run delivered", "total", digest.Total, "source_failures", len(failures))
	return result, nil
}

// build produces the assembled digest for the window. Source failures are
// tolerated and reported; scoring or store failures abort the run.
func (e *Engine) build(ctx context.Context, window model.Window, started time.Time, log *slog.Logger) (model.Digest, []string, error) {
	collected, failures := e.collect(ctx, log)

	fresh := filter.Freshness{Cutoff: window.Cutoff, RunStarted: started}.Apply(collected)
	log.Info("listings collected", "raw", len(collected), "fresh", len(fresh))

	scored, err := e.score(ctx, fresh)
	if err != nil {
		return model.Digest{}, failures, err
	}

	unique := dedupe.Collapse(scored)
	ranked, err := e.rank.Rank(ctx, e.store, unique)
	if err != nil {
		return model.Digest{}, failures, fmt.Errorf("rank: %w", err)
	}

	return e.assemble.Assemble(window, ranked, e.now()), failures, nil
}

// collect fetches every source, accumulating listings and per-source
// failures.
func (e *Engine) collect(ctx context.Context, log *slog.Logger) ([]model.Listing, []string) {
	var (
		collected []model.Listing
		failures  []string
	)
	for _, src := range e.sources {
		listings, err := src.Fetch(ctx)
		e.sink.SourceFetched(src.Name(), len(listings), err)
		if err != nil {
			log.Warn("source fetch failed", "source", src.Name(), "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", src.Name(), err))
			continue
		}
		collected = append(collected, listings...)
	}
	return collected, failures
}

// score fingerprints the listings and scores each distinct fingerprint
// exactly once per run, fanning the result back out.
func (e *Engine) score(ctx context.Context, listings []model.Listing) ([]model.ScoredListing, error) {
	if err := e.scorer.Init(ctx, e.opts.Interests); err != nil {
		return nil, fmt.Errorf("init scorer: %w", err)
	}

	var order []string // distinct fingerprints, first-seen order
	textFor := map[string]string{}
	fps := make([]string, len(listings))
	for i, l := range listings {
		fp := fingerprint.Compute(l.Title, l.Link)
		fps[i] = fp
		if _, ok := textFor[fp]; !ok {
			textFor[fp] = l.Title + " " + l.Description
			order = append(order, fp)
		}
	}

	texts := make([]string, len(order))
	for i, fp := range order {
		texts[i] = textFor[fp]
	}
	results, err := e.scorer.ScoreAll(ctx, texts)
	if err != nil {
		if errors.Is(err, scorer.ErrUnavailable) {
			return nil, fmt.Errorf("scoring unavailable: %w", err)
		}
		return nil, fmt.Errorf("score listings: %w", err)
	}

	byFingerprint := make(map[string]scorer.Result, len(order))
	for i, fp := range order {
		byFingerprint[fp] = results[i]
	}

	scored := make([]model.ScoredListing, len(listings))
	for i, l := range listings {
		r := byFingerprint[fps[i]]
		scored[i] = model.ScoredListing{
			Listing:     l,
			Fingerprint: fps[i],
			Score:       r.Score,
			Embedding:   r.Embedding,
		}
	}
	return scored, nil
}

// fail records the window as failed so a later attempt can retry it.
func (e *Engine) fail(window model.Window, attemptID string, log *slog.Logger) {
	// Best effort with a fresh context: the run context may already be
	// cancelled, and a failed window must not stay "running" for the whole
	// lease. The write is attempt-scoped, so a takeover by a newer attempt
	// is never clobbered.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.FinishRun(ctx, window, attemptID, model.RunFailed); err != nil {
		log.Error("record failed run", "error", err)
	}
}
