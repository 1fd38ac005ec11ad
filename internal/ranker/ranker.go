// Package ranker selects the digest contents: it applies the relevance
// threshold, drops already-delivered fingerprints, and truncates each
// category to its quota under a deterministic ordering.
package ranker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"opportunist/internal/model"
)

// DeliveredIndex answers whether a fingerprint was delivered in a prior
// window. Backed by the fingerprint store.
type DeliveredIndex interface {
	IsDelivered(ctx context.Context, fingerprint string) (bool, error)
}

// Ranker holds the selection policy for one run.
type Ranker struct {
	// Threshold is the minimum relevance score for inclusion.
	Threshold float64
	// Quotas caps each category. A category with no entry gets quota 0
	// and is excluded unless explicitly enabled.
	Quotas map[model.Category]int
}

// Rank partitions the deduplicated candidates into per-category rankings.
// Every enumerated category is present in the result, empty ones included.
// Within a category, ordering is score descending, then posted date
// descending (newer preferred), then fingerprint for full determinism.
func (r Ranker) Rank(ctx context.Context, index DeliveredIndex, listings []model.ScoredListing) (map[model.Category][]model.ScoredListing, error) {
	byCategory := make(map[model.Category][]model.ScoredListing, len(model.Categories))
	for _, c := range model.Categories {
		byCategory[c] = []model.ScoredListing{}
	}

	for _, l := range listings {
		if l.Score < r.Threshold {
			continue
		}
		delivered, err := index.IsDelivered(ctx, l.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("check delivered %s: %w", l.Fingerprint, err)
		}
		if delivered {
			continue
		}
		cat := l.Category
		if !cat.Valid() {
			cat = model.CategoryOther
		}
		byCategory[cat] = append(byCategory[cat], l)
	}

	for cat, group := range byCategory {
		sort.Slice(group, func(i, j int) bool {
			return less(group[i], group[j])
		})
		if quota := r.Quotas[cat]; len(group) > quota {
			group = group[:quota]
		}
		byCategory[cat] = group
	}

	return byCategory, nil
}

// less orders a before b within a category.
func less(a, b model.ScoredListing) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	at, bt := postedOrZero(a), postedOrZero(b)
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.Fingerprint < b.Fingerprint
}

func postedOrZero(l model.ScoredListing) time.Time {
	if l.PostedAt != nil {
		return *l.PostedAt
	}
	return time.Time{}
}
