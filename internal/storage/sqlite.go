package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"opportunist/internal/model"
	"opportunist/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Store backed by a SQLite database. Fingerprint
// retention is enforced here: entries older than the retention horizon are
// pruned when a run finishes, so the eviction horizon stays a store
// concern, not an engine one.
type SQLite struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
}

// NewSQLite opens a SQLite database at dsn, runs pending migrations, and
// keeps delivered fingerprints for the given retention horizon.
func NewSQLite(dsn string, retention time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, retention: retention, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// IsDelivered checks whether a fingerprint has already been delivered.
// Entries past the retention horizon are treated as absent even before
// pruning removes them.
func (s *SQLite) IsDelivered(ctx context.Context, fingerprint string) (bool, error) {
	horizon := s.now().Add(-s.retention).Format(timeLayout)
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivered_listings WHERE fingerprint = ? AND delivered_at >= ?`,
		fingerprint, horizon,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: check delivered: %v", ErrUnavailable, err)
	}
	return count > 0, nil
}

// MarkDelivered records a fingerprint as delivered for the window.
// Duplicate marks are safe no-ops.
func (s *SQLite) MarkDelivered(ctx context.Context, fingerprint string, window model.Window) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO delivered_listings (fingerprint, window_date, delivered_at) VALUES (?, ?, ?)`,
		fingerprint, window.Date, s.now().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("%w: mark delivered: %v", ErrUnavailable, err)
	}
	return nil
}

// BeginRun atomically claims the window for this attempt.
func (s *SQLite) BeginRun(ctx context.Context, window model.Window, attemptID string, lease time.Duration) (model.RunStatus, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("%w: begin tx: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var statusStr, startedStr string
	prior := model.RunPending
	err = tx.QueryRowContext(ctx,
		`SELECT status, started_at FROM digest_runs WHERE window_date = ?`, window.Date,
	).Scan(&statusStr, &startedStr)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first attempt for this window
	case err != nil:
		return "", false, fmt.Errorf("%w: query run: %v", ErrUnavailable, err)
	default:
		prior = model.RunStatus(statusStr)
		if prior == model.RunDelivered {
			return prior, false, nil
		}
		if prior == model.RunRunning {
			started, perr := time.Parse(timeLayout, startedStr)
			if perr == nil && s.now().Sub(started) < lease {
				return prior, false, nil
			}
			// lease expired: the prior attempt died, take over
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO digest_runs (window_date, status, attempt_id, started_at, finished_at)
		 VALUES (?, ?, ?, ?, NULL)
		 ON CONFLICT(window_date) DO UPDATE SET
		   status = excluded.status,
		   attempt_id = excluded.attempt_id,
		   started_at = excluded.started_at,
		   finished_at = NULL`,
		window.Date, string(model.RunRunning), attemptID, s.now().Format(timeLayout),
	)
	if err != nil {
		return "", false, fmt.Errorf("%w: claim run: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return prior, true, nil
}

// FinishRun records the terminal status for the attempt that holds the
// window and prunes fingerprints older than the retention horizon. A stale
// attempt's write matches no row and changes nothing.
func (s *SQLite) FinishRun(ctx context.Context, window model.Window, attemptID string, status model.RunStatus) error {
	now := s.now().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`UPDATE digest_runs SET status = ?, finished_at = ? WHERE window_date = ? AND attempt_id = ?`,
		string(status), now, window.Date, attemptID,
	)
	if err != nil {
		return fmt.Errorf("%w: finish run: %v", ErrUnavailable, err)
	}

	horizon := s.now().Add(-s.retention).Format(timeLayout)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM delivered_listings WHERE delivered_at < ?`, horizon,
	); err != nil {
		return fmt.Errorf("%w: prune delivered: %v", ErrUnavailable, err)
	}
	return nil
}
