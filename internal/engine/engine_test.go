package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"opportunist/internal/model"
	"opportunist/internal/scorer"
	"opportunist/internal/source"
)

// memStore is an in-memory Store with the same claim semantics as the real
// backends.
type memStore struct {
	mu         sync.Mutex
	delivered  map[string]bool
	runs       map[string]model.RunStatus
	holders    map[string]string
	failChecks bool
	failMarks  bool
}

func newMemStore() *memStore {
	return &memStore{
		delivered: map[string]bool{},
		runs:      map[string]model.RunStatus{},
		holders:   map[string]string{},
	}
}

func (m *memStore) IsDelivered(_ context.Context, fp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failChecks {
		return false, errors.New("store down")
	}
	return m.delivered[fp], nil
}

func (m *memStore) MarkDelivered(_ context.Context, fp string, _ model.Window) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMarks {
		return errors.New("store down")
	}
	m.delivered[fp] = true
	return nil
}

func (m *memStore) BeginRun(_ context.Context, w model.Window, attemptID string, _ time.Duration) (model.RunStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prior, ok := m.runs[w.Date]
	if !ok {
		prior = model.RunPending
	}
	if prior == model.RunDelivered || prior == model.RunRunning {
		return prior, false, nil
	}
	m.runs[w.Date] = model.RunRunning
	m.holders[w.Date] = attemptID
	return prior, true, nil
}

func (m *memStore) FinishRun(_ context.Context, w model.Window, attemptID string, status model.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holders[w.Date] != attemptID {
		return nil
	}
	m.runs[w.Date] = status
	return nil
}

func (m *memStore) Close() error { return nil }

type stubSource struct {
	name     string
	listings []model.Listing
	err      error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(_ context.Context) ([]model.Listing, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.listings, nil
}

// stubScorer scores every text at a fixed value and records what it was
// asked to score.
type stubScorer struct {
	score   float64
	initErr error
	allErr  error
	texts   []string
}

func (s *stubScorer) Init(_ context.Context, interests []string) error {
	return s.initErr
}

func (s *stubScorer) ScoreAll(_ context.Context, texts []string) ([]scorer.Result, error) {
	s.texts = texts
	if s.allErr != nil {
		return nil, s.allErr
	}
	results := make([]scorer.Result, len(texts))
	for i := range results {
		results[i] = scorer.Result{Score: s.score}
	}
	return results, nil
}

type stubNotifier struct {
	digests []model.Digest
	err     error
}

func (n *stubNotifier) Deliver(_ context.Context, d model.Digest) error {
	if n.err != nil {
		return n.err
	}
	n.digests = append(n.digests, d)
	return nil
}

func testWindow() model.Window {
	return model.Window{
		Date:   "2026-08-23",
		Cutoff: time.Date(2026, 8, 22, 8, 0, 0, 0, time.UTC),
	}
}

func freshListing(title, link string) model.Listing {
	posted := time.Date(2026, 8, 23, 6, 0, 0, 0, time.UTC)
	return model.Listing{
		Title:     title,
		Link:      link,
		Source:    "test-src",
		Category:  model.CategoryJob,
		PostedAt:  &posted,
		CrawledAt: time.Date(2026, 8, 23, 8, 0, 0, 0, time.UTC),
	}
}

func newTestEngine(store *memStore, sources []*stubSource, sc ScoreClient, n *stubNotifier) *Engine {
	var srcs []source.Source
	for _, s := range sources {
		srcs = append(srcs, s)
	}
	return New(store, srcs, sc, n, Options{
		Interests: []string{"backend engineering"},
		Threshold: 0.5,
		Quotas:    map[model.Category]int{model.CategoryJob: 10, model.CategoryOther: 2},
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunDelivers(t *testing.T) {
	store := newMemStore()
	notifier := &stubNotifier{}
	src := &stubSource{name: "test-src", listings: []model.Listing{
		freshListing("Backend Engineer", "https://example.com/a"),
		freshListing("Platform Engineer", "https://example.com/b"),
	}}
	e := newTestEngine(store, []*stubSource{src}, &stubScorer{score: 0.8}, notifier)

	result, err := e.Run(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != model.ResultDelivered {
		t.Fatalf("status = %q, want DELIVERED", result.Status)
	}
	if result.Total != 2 {
		t.Errorf("total = %d, want 2", result.Total)
	}
	if got := result.CountsByCategory[model.CategoryJob]; got != 2 {
		t.Errorf("job count = %d, want 2", got)
	}
	if len(notifier.digests) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.digests))
	}
	if len(store.delivered) != 2 {
		t.Errorf("marked %d fingerprints, want 2", len(store.delivered))
	}
	if got := store.runs["2026-08-23"]; got != model.RunDelivered {
		t.Errorf("window status = %q, want delivered", got)
	}
}

func TestRunIdempotentPerWindow(t *testing.T) {
	store := newMemStore()
	notifier := &stubNotifier{}
	src := &stubSource{name: "test-src", listings: []model.Listing{
		freshListing("Backend Engineer", "https://example.com/a"),
	}}
	e := newTestEngine(store, []*stubSource{src}, &stubScorer{score: 0.8}, notifier)

	if _, err := e.Run(context.Background(), testWindow()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	result, err := e.Run(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Status != model.ResultSkippedAlready {
		t.Errorf("second run status = %q, want SKIPPED_ALREADY_RUN", result.Status)
	}
	if len(notifier.digests) != 1 {
		t.Errorf("got %d notifications across two runs, want 1", len(notifier.digests))
	}
}

func TestRunExcludesPreviouslyDelivered(t *testing.T) {
	store := newMemStore()
	notifier := &stubNotifier{}
	src := &stubSource{name: "test-src", listings: []model.Listing{
		freshListing("Backend Engineer", "https://example.com/a"),
		freshListing("Platform Engineer", "https://example.com/b"),
	}}
	e := newTestEngine(store, []*stubSource{src}, &stubScorer{score: 0.8}, notifier)

	if _, err := e.Run(context.Background(), testWindow()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// next day's window sees the same listings plus one new one
	src.listings = append(src.listings, freshListing("SRE", "https://example.com/c"))
	nextWindow := model.Window{
		Date:   "2026-08-24",
		Cutoff: time.Date(2026, 8, 23, 8, 0, 0, 0, time.UTC),
	}
	for i := range src.listings {
		posted := time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC)
		src.listings[i].PostedAt = &posted
	}

	result, err := e.Run(context.Background(), nextWindow)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Status != model.ResultDelivered {
		t.Fatalf("status = %q, want DELIVERED", result.Status)
	}
	if result.Total != 1 {
		t.Errorf("total = %d, want only the new listing", result.Total)
	}
	if !strings.Contains(notifier.digests[1].Entries[0].Title, "SRE") {
		t.Errorf("second digest entry = %q, want SRE", notifier.digests[1].Entries[0].Title)
	}
}

func TestRunFailsWhenScoringUnavailable(t *testing.T) {
	store := newMemStore()
	notifier := &stubNotifier{}
	src := &stubSource{name: "test-src", listings: []model.Listing{
		freshListing("Backend Engineer", "https://example.com/a"),
	}}
	sc := &stubScorer{allErr: fmt.Errorf("boom: %w", scorer.ErrUnavailable)}
	e := newTestEngine(store, []*stubSource{src}, sc, notifier)

	result, err := e.Run(context.Background(), testWindow())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if result.Status != model.ResultFailed {
		t.Errorf("status = %q, want FAILED", result.Status)
	}
	if len(notifier.digests) != 0 {
		t.Error("digest delivered despite scoring failure")
	}
	if len(store.delivered) != 0 {
		t.Error("fingerprints marked despite scoring failure")
	}
	if got := store.runs["2026-08-23"]; got != model.RunFailed {
		t.Errorf("window status = %q, want failed", got)
	}
}

func TestRunFailedWindowIsRetryable(t *testing.T) {
	store := newMemStore()
	notifier := &stubNotifier{}
	src := &stubSource{name: "test-src", listings: []model.Listing{
		freshListing("Backend Engineer", "https://example.com/a"),
	}}
	sc := &stubScorer{allErr: fmt.Errorf("boom: %w", scorer.ErrUnavailable)}
	e := newTestEngine(store, []*stubSource{src}, sc, notifier)

	if _, err := e.Run(context.Background(), testWindow()); err == nil {
		t.Fatal("expected first run to fail")
	}

	sc.allErr = nil
	sc.score = 0.8
	result, err := e.Run(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if result.Status != model.ResultDelivered {
		t.Errorf("retry status = %q, want DELIVERED", result.Status)
	}
}

func TestRunToleratesSourceFailures(t *testing.T) {
	store := newMemStore()
	notifier := &stubNotifier{}
	good := &stubSource{name: "good", listings: []model.Listing{
		freshListing("Backend Engineer", "https://example.com/a"),
	}}
	bad := &stubSource{name: "bad", err: errors.New("connection refused")}
	e := newTestEngine(store, []*stubSource{good, bad}, &stubScorer{score: 0.8}, notifier)

	result, err := e.Run(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != model.ResultDelivered {
		t.Errorf("status = %q, want DELIVERED", result.Status)
	}
	if len(result.Failures) != 1 || !strings.Contains(result.Failures[0], "bad") {
		t.Errorf("failures = %v, want one entry for source bad", result.Failures)
	}
	if result.Total != 1 {
		t.Errorf("total = %d, want 1", result.Total)
	}
}

func TestRunDeliversEmptyDigest(t *testing.T) {
	store := newMemStore()
	notifier := &stubNotifier{}
	src := &stubSource{name: "test-src"}
	e := newTestEngine(store, []*stubSource{src}, &stubScorer{score: 0.8}, notifier)

	result, err := e.Run(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != model.ResultDelivered {
		t.Errorf("status = %q, want DELIVERED", result.Status)
	}
	if result.Total != 0 {
		t.Errorf("total = %d, want 0", result.Total)
	}
	if len(notifier.digests) != 1 {
		t.Fatalf("got %d notifications, want 1 empty digest", len(notifier.digests))
	}
	if notifier.digests[0].Total != 0 {
		t.Errorf("digest total = %d, want 0", notifier.digests[0].Total)
	}
}

func TestRunScoresEachFingerprintOnce(t *testing.T) {
	store := newMemStore()
	notifier := &stubNotifier{}
	// same listing from two sources, only tracking params differ
	a := freshListing("Backend Engineer", "https://example.com/a?utm_source=feed1")
	b := freshListing("Backend Engineer", "https://example.com/a?utm_source=feed2")
	b.Source = "other-src"
	src := &stubSource{name: "test-src", listings: []model.Listing{a, b}}
	sc := &stubScorer{score: 0.8}
	e := newTestEngine(store, []*stubSource{src}, sc, notifier)

	result, err := e.Run(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sc.texts) != 1 {
		t.Errorf("scored %d texts, want 1 for duplicate fingerprints", len(sc.texts))
	}
	if result.Total != 1 {
		t.Errorf("total = %d, want deduplicated 1", result.Total)
	}
}

func TestRunFailsWhenNotifierFails(t *testing.T) {
	store := newMemStore()
	notifier := &stubNotifier{err: errors.New("telegram down")}
	src := &stubSource{name: "test-src", listings: []model.Listing{
		freshListing("Backend Engineer", "https://example.com/a"),
	}}
	e := newTestEngine(store, []*stubSource{src}, &stubScorer{score: 0.8}, notifier)

	result, err := e.Run(context.Background(), testWindow())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if result.Status != model.ResultFailed {
		t.Errorf("status = %q, want FAILED", result.Status)
	}
	// fingerprints were marked before delivery: the policy favors a missed
	// digest over a duplicate one
	if len(store.delivered) != 1 {
		t.Errorf("marked %d fingerprints, want 1", len(store.delivered))
	}
	if got := store.runs["2026-08-23"]; got != model.RunFailed {
		t.Errorf("window status = %q, want failed", got)
	}
}

func TestRunCancelledBeforeDelivery(t *testing.T) {
	store := newMemStore()
	notifier := &stubNotifier{}
	src := &stubSource{name: "test-src", listings: []model.Listing{
		freshListing("Backend Engineer", "https://example.com/a"),
	}}
	e := newTestEngine(store, []*stubSource{src}, &stubScorer{score: 0.8}, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := e.Run(ctx, testWindow())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if result.Status != model.ResultFailed {
		t.Errorf("status = %q, want FAILED", result.Status)
	}
	if len(notifier.digests) != 0 {
		t.Error("digest delivered despite cancellation")
	}
}
