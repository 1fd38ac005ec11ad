// Package storage defines the persistence interface and its implementations.
//
// Two things persist across runs: the fingerprint index (which listings
// have been delivered) and the per-window run state. Everything else the
// engine touches lives for a single run.
package storage

import (
	"context"
	"errors"
	"time"

	"opportunist/internal/model"
)

// ErrUnavailable wraps backend failures. The engine treats any store error
// as fatal for the run: delivering without a working fingerprint index
// risks duplicate notifications.
var ErrUnavailable = errors.New("store unavailable")

// Store is the interface for all persistence operations.
//
// MarkDelivered must be idempotent: marking the same fingerprint twice is
// a safe no-op. BeginRun must be an atomic check-and-set so that two
// concurrent invocations for the same window cannot both acquire it.
type Store interface {
	// IsDelivered reports whether the fingerprint was delivered in a
	// prior run. False negatives are tolerated (retention eviction);
	// false positives are not.
	IsDelivered(ctx context.Context, fingerprint string) (bool, error)
	// MarkDelivered records the fingerprint as delivered for the window.
	MarkDelivered(ctx context.Context, fingerprint string, window model.Window) error

	// BeginRun attempts to move the window into the running state.
	// It returns the window's prior status and whether this attempt
	// acquired the run. Delivered windows and runs still inside their
	// lease are never acquired; failed or lease-expired runs are.
	BeginRun(ctx context.Context, window model.Window, attemptID string, lease time.Duration) (model.RunStatus, bool, error)
	// FinishRun records the window's terminal status. The write is scoped
	// to the attempt: if another attempt has taken the window over, a
	// stale attempt's FinishRun is a no-op.
	FinishRun(ctx context.Context, window model.Window, attemptID string, status model.RunStatus) error

	Close() error
}
