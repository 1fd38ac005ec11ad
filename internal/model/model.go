// Package model defines the domain types used across the application.
package model

import "time"

// Category is the closed set of listing categories.
type Category string

// Supported categories. Anything that cannot be classified maps to CategoryOther.
const (
	CategoryJob         Category = "job"
	CategoryInternship  Category = "internship"
	CategoryScholarship Category = "scholarship"
	CategoryResearch    Category = "research"
	CategoryCompetition Category = "competition"
	CategoryGrant       Category = "grant"
	CategoryOther       Category = "other"
)

// Categories lists every category in canonical order. Consumers that key
// maps by category iterate this slice so all categories are always present,
// including empty ones.
var Categories = []Category{
	CategoryJob,
	CategoryInternship,
	CategoryScholarship,
	CategoryResearch,
	CategoryCompetition,
	CategoryGrant,
	CategoryOther,
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Listing is a normalized candidate record produced by a source.
// Link and CrawledAt are always set; every other field is best-effort.
type Listing struct {
	Title       string
	Description string
	Link        string
	Source      string
	Category    Category
	PostedAt    *time.Time
	CrawledAt   time.Time
	Deadline    *time.Time
}

// ScoredListing is a Listing with its relevance score and embedding attached.
type ScoredListing struct {
	Listing
	Fingerprint string
	Score       float64
	Embedding   []float64
}

// Window identifies one day's delivery cycle in the configured timezone,
// together with the freshness cutoff derived from it.
type Window struct {
	Date   string // YYYY-MM-DD in the delivery timezone
	Cutoff time.Time
}

// WindowFor builds the Window for the given instant: the calendar date in
// loc, with the cutoff set freshness before now.
func WindowFor(now time.Time, loc *time.Location, freshness time.Duration) Window {
	return Window{
		Date:   now.In(loc).Format("2006-01-02"),
		Cutoff: now.Add(-freshness).UTC(),
	}
}

// RunStatus is the lifecycle state of a digest window.
type RunStatus string

// Window states. A window is immutable once Delivered; Failed windows may
// be re-run.
const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunDelivered RunStatus = "delivered"
	RunFailed    RunStatus = "failed"
)

// ResultStatus is the caller-visible outcome of an engine run.
type ResultStatus string

// Run outcomes.
const (
	ResultDelivered      ResultStatus = "DELIVERED"
	ResultFailed         ResultStatus = "FAILED"
	ResultSkippedAlready ResultStatus = "SKIPPED_ALREADY_RUN"
)

// RunResult is the outcome of one engine invocation.
type RunResult struct {
	Status           ResultStatus
	AttemptID        string
	CountsByCategory map[Category]int
	Total            int
	Failures         []string
}

// DigestEntry is one listing reduced to the fields needed for rendering.
type DigestEntry struct {
	Title       string
	Link        string
	Description string
	Source      string
	Category    Category
	Deadline    *time.Time
	PostedAt    *time.Time
	Score       float64
	Fingerprint string
}

// Digest is the final ordered, quota-bounded payload handed to the notifier.
// Entries follow the configured category display order, rank order within
// each category. Never mutated after assembly.
type Digest struct {
	Window      Window
	Entries     []DigestEntry
	ByCategory  map[Category][]DigestEntry
	Counts      map[Category]int
	Total       int
	GeneratedAt time.Time
}
