// Package filter implements the freshness admission check for listings.
package filter

import (
	"time"

	"opportunist/internal/model"
)

// Freshness decides whether a listing's effective timestamp falls inside
// the active window. Freshness is a property of the listing's own
// timestamps, never of when the engine first saw it.
type Freshness struct {
	// Cutoff is the window's recency cutoff (now - freshness horizon).
	Cutoff time.Time
	// RunStarted is when the current run began. Listings without a
	// posted date are admitted only if they were crawled by this run.
	RunStarted time.Time
}

// Keep reports whether the listing is fresh enough for the window.
// A listing with a posted date passes when it was posted at or after the
// cutoff. Without a posted date, the crawl time stands in: the source gave
// no explicit date, so only a crawl from the current run counts as fresh.
func (f Freshness) Keep(l model.Listing) bool {
	if l.PostedAt != nil {
		return !l.PostedAt.Before(f.Cutoff)
	}
	return !l.CrawledAt.Before(f.RunStarted)
}

// Apply returns the listings admitted by the filter, preserving order.
func (f Freshness) Apply(listings []model.Listing) []model.Listing {
	var kept []model.Listing
	for _, l := range listings {
		if f.Keep(l) {
			kept = append(kept, l)
		}
	}
	return kept
}
