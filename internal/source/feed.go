package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"opportunist/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FeedSource fetches listings from an RSS or Atom feed.
type FeedSource struct {
	name    string
	url     string
	client  HTTPClient
	now     func() time.Time
	timeout time.Duration
}

// NewFeed creates a FeedSource with the given HTTP client.
func NewFeed(name, url string, client HTTPClient) *FeedSource {
	return &FeedSource{
		name:    name,
		url:     url,
		client:  client,
		now:     func() time.Time { return time.Now().UTC() },
		timeout: 30 * time.Second,
	}
}

// Name identifies the feed in logs and run results.
func (f *FeedSource) Name() string {
	return f.name
}

// Fetch downloads and parses the feed, converting each item into a listing.
// Items are classified by keyword; publication dates missing from the feed
// stay nil and fall through to the crawl-time freshness rule.
func (f *FeedSource) Fetch(ctx context.Context) ([]model.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "OpportunistBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	crawledAt := f.now()
	listings := make([]model.Listing, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.Title == "" || item.Link == "" {
			continue
		}
		var postedAt *time.Time
		if item.PublishedParsed != nil {
			t := item.PublishedParsed.UTC()
			postedAt = &t
		}
		listings = append(listings, model.Listing{
			Title:       item.Title,
			Description: item.Description,
			Link:        item.Link,
			Source:      f.name,
			Category:    Classify(item.Title, item.Description),
			PostedAt:    postedAt,
			CrawledAt:   crawledAt,
		})
	}
	return listings, nil
}
