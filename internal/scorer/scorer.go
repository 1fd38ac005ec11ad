// Package scorer adapts an external embedding capability into relevance
// scores. It batches requests, retries transient failures with capped
// exponential backoff, and degrades gracefully when individual listings
// cannot be scored.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"opportunist/internal/metrics"
)

// ErrUnavailable is returned when the embedding capability cannot be
// reached within the retry budget, or rejects the configuration outright.
// A run must not deliver anything when scoring is unavailable.
var ErrUnavailable = errors.New("scoring capability unavailable")

// errPermanent marks non-retryable API rejections (bad key, bad model).
var errPermanent = errors.New("scoring request rejected")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tune batching, concurrency, and the retry policy.
type Options struct {
	BatchSize    int           // max texts per embedding call
	Concurrency  int           // max simultaneous outstanding calls
	MaxAttempts  int           // attempts per batch, including the first
	BaseDelay    time.Duration // initial backoff delay
	BatchTimeout time.Duration // per-call deadline
}

// DefaultOptions returns conservative defaults that respect typical
// embedding API rate limits.
func DefaultOptions() Options {
	return Options{
		BatchSize:    16,
		Concurrency:  4,
		MaxAttempts:  4,
		BaseDelay:    500 * time.Millisecond,
		BatchTimeout: 20 * time.Second,
	}
}

// Result is the outcome of scoring one text.
type Result struct {
	Score     float64
	Embedding []float64
	Degraded  bool
}

// Scorer computes relevance scores against a fixed interest profile.
// Scoring is a pure function of the input text: no state carries between
// runs beyond the interest vectors embedded at initialization.
type Scorer struct {
	client   HTTPClient
	endpoint string
	apiKey   string
	model    string
	opts     Options
	sink     metrics.Sink
	log      *slog.Logger

	interests [][]float64
}

// New creates a Scorer. Call Init before scoring to embed the interest
// profile. A nil sink disables metrics.
func New(client HTTPClient, endpoint, apiKey, model string, opts Options, sink metrics.Sink, log *slog.Logger) *Scorer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultOptions().Concurrency
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultOptions().BaseDelay
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = DefaultOptions().BatchTimeout
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Scorer{
		client:   client,
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		opts:     opts,
		sink:     sink,
		log:      log,
	}
}

// Init embeds the interest profile. A failure here means the capability is
// misconfigured or unreachable and the whole run must not proceed.
func (s *Scorer) Init(ctx context.Context, interests []string) error {
	if len(interests) == 0 {
		return fmt.Errorf("%w: empty interest profile", ErrUnavailable)
	}
	vectors, err := s.embedWithRetry(ctx, interests)
	if err != nil {
		return fmt.Errorf("embed interest profile: %w", errors.Join(ErrUnavailable, err))
	}
	s.interests = vectors
	return nil
}

// ScoreAll scores every text and returns results in input order. Texts that
// cannot be scored (empty text, batch retry budget exhausted) come back
// degraded with score 0 instead of failing the run. ErrUnavailable is
// returned only when no batch could be scored at all.
func (s *Scorer) ScoreAll(ctx context.Context, texts []string) ([]Result, error) {
	if s.interests == nil {
		return nil, fmt.Errorf("%w: interest profile not initialized", ErrUnavailable)
	}

	results := make([]Result, len(texts))
	batches := s.partition(texts, results)
	if len(batches) == 0 {
		return results, nil
	}

	var (
		wg       sync.WaitGroup
		work     = make(chan int)
		mu       sync.Mutex
		okCount  int
		degraded int
	)

	for w := 0; w < s.opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				b := batches[idx]
				start := time.Now()
				vectors, err := s.embedWithRetry(ctx, b.texts)
				if err != nil {
					s.sink.ScorerBatchCompleted(metrics.BatchOutcomeDegraded, time.Since(start))
				} else {
					s.sink.ScorerBatchCompleted(metrics.BatchOutcomeScored, time.Since(start))
				}

				mu.Lock()
				if err != nil {
					s.log.Warn("scoring batch degraded", "batch", idx, "size", len(b.texts), "error", err)
					for _, pos := range b.positions {
						results[pos] = Result{Degraded: true}
					}
					degraded++
				} else {
					for i, pos := range b.positions {
						results[pos] = Result{
							Score:     s.relevance(vectors[i]),
							Embedding: vectors[i],
						}
					}
					okCount++
				}
				mu.Unlock()
			}
		}()
	}

	for idx := range batches {
		work <- idx
	}
	close(work)
	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if okCount == 0 && degraded > 0 {
		return nil, fmt.Errorf("%w: all %d batches failed", ErrUnavailable, degraded)
	}
	return results, nil
}

type batch struct {
	texts     []string
	positions []int
}

// partition groups non-empty texts into bounded batches and pre-marks
// empty texts as degraded in place.
func (s *Scorer) partition(texts []string, results []Result) []batch {
	var batches []batch
	cur := batch{}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = Result{Degraded: true}
			continue
		}
		cur.texts = append(cur.texts, text)
		cur.positions = append(cur.positions, i)
		if len(cur.texts) == s.opts.BatchSize {
			batches = append(batches, cur)
			cur = batch{}
		}
	}
	if len(cur.texts) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// embedWithRetry calls the embedding endpoint with capped exponential
// backoff and jitter. Permanent API rejections are not retried.
func (s *Scorer) embedWithRetry(ctx context.Context, texts []string) ([][]float64, error) {
	backoff := retry.NewExponential(s.opts.BaseDelay)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(uint64(s.opts.MaxAttempts-1), backoff)

	var (
		vectors [][]float64
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.sink.ScorerRetry()
		}
		v, err := s.embed(ctx, texts)
		if err != nil {
			if errors.Is(err, errPermanent) {
				return err
			}
			return retry.RetryableError(err)
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// embed performs one embedding call for a batch of texts.
func (s *Scorer) embed(ctx context.Context, texts []string) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.BatchTimeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: s.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("transient status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data))
	}

	vectors := make([][]float64, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// relevance is the maximum cosine similarity between the vector and the
// interest profile, clamped to [0, 1].
func (s *Scorer) relevance(vector []float64) float64 {
	best := 0.0
	for _, interest := range s.interests {
		if sim := cosine(vector, interest); sim > best {
			best = sim
		}
	}
	return math.Min(1, math.Max(0, best))
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
