// Package dedupe collapses listings that share a fingerprint within one
// run's candidate set. Cross-run suppression of already-delivered listings
// is the fingerprint store's job, not this package's.
package dedupe

import (
	"sort"

	"opportunist/internal/model"
)

// Collapse groups scored listings by fingerprint and keeps exactly one
// representative per group: the highest score wins; ties go to the earliest
// posted date (the older posting is likely the canonical source), then to
// the lexicographically smallest source identifier. The winner's category
// is kept as-is, never merged. Output order follows the first appearance
// of each fingerprint in the input, so the result is deterministic.
func Collapse(listings []model.ScoredListing) []model.ScoredListing {
	best := make(map[string]model.ScoredListing, len(listings))
	order := make(map[string]int, len(listings))

	for i, l := range listings {
		cur, seen := best[l.Fingerprint]
		if !seen {
			best[l.Fingerprint] = l
			order[l.Fingerprint] = i
			continue
		}
		if beats(l, cur) {
			best[l.Fingerprint] = l
		}
	}

	out := make([]model.ScoredListing, 0, len(best))
	for _, l := range best {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		return order[out[i].Fingerprint] < order[out[j].Fingerprint]
	})
	return out
}

// beats reports whether a should replace b as the group representative.
func beats(a, b model.ScoredListing) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	switch {
	case a.PostedAt != nil && b.PostedAt == nil:
		return true
	case a.PostedAt == nil && b.PostedAt != nil:
		return false
	case a.PostedAt != nil && b.PostedAt != nil && !a.PostedAt.Equal(*b.PostedAt):
		return a.PostedAt.Before(*b.PostedAt)
	}
	return a.Source < b.Source
}
