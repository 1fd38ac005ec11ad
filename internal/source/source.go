// Package source collects raw listings from external feeds.
package source

import (
	"context"

	"opportunist/internal/model"
)

// Source produces raw listings for one upstream feed. Fetch errors are
// per-source: the engine records the failure and keeps collecting from the
// remaining sources.
type Source interface {
	// Name identifies the source in logs and run results.
	Name() string
	// Fetch downloads and parses the source's current listings.
	Fetch(ctx context.Context) ([]model.Listing, error)
}
