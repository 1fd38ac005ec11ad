package ranker

import (
	"time"

	"opportunist/internal/model"
)

// Assembler flattens per-category rankings into the final digest payload.
// It is a pure transform: it never touches the fingerprint store.
type Assembler struct {
	// Order is the fixed category display order. Categories missing from
	// Order are appended in canonical order so nothing is silently lost.
	Order []model.Category
}

// Assemble builds the digest for a window. Entries appear in display
// order across categories and in rank order within each; per-category
// counts cover every enumerated category.
func (a Assembler) Assemble(window model.Window, ranked map[model.Category][]model.ScoredListing, now time.Time) model.Digest {
	digest := model.Digest{
		Window:      window,
		ByCategory:  make(map[model.Category][]model.DigestEntry, len(model.Categories)),
		Counts:      make(map[model.Category]int, len(model.Categories)),
		GeneratedAt: now,
	}

	for _, cat := range a.displayOrder() {
		entries := []model.DigestEntry{}
		for _, l := range ranked[cat] {
			entries = append(entries, model.DigestEntry{
				Title:       l.Title,
				Link:        l.Link,
				Description: l.Description,
				Source:      l.Source,
				Category:    cat,
				Deadline:    l.Deadline,
				PostedAt:    l.PostedAt,
				Score:       l.Score,
				Fingerprint: l.Fingerprint,
			})
		}
		digest.ByCategory[cat] = entries
		digest.Counts[cat] = len(entries)
		digest.Total += len(entries)
		digest.Entries = append(digest.Entries, entries...)
	}

	return digest
}

// displayOrder returns Order extended with any enumerated category it
// omits, keeping the result exhaustive.
func (a Assembler) displayOrder() []model.Category {
	seen := make(map[model.Category]bool, len(a.Order))
	order := make([]model.Category, 0, len(model.Categories))
	for _, c := range a.Order {
		if c.Valid() && !seen[c] {
			order = append(order, c)
			seen[c] = true
		}
	}
	for _, c := range model.Categories {
		if !seen[c] {
			order = append(order, c)
		}
	}
	return order
}
