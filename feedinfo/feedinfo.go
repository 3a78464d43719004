// Package feedinfo fetches a feed once and extracts the metadata needed to
// create a new OPML entry: the feed title and the site URL.
package feedinfo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"
)

// MaxFeedBytes caps how much of a feed body is downloaded.
const MaxFeedBytes = 2 * 1024 * 1024

// Metadata describes a feed well enough to build an outline entry.
type Metadata struct {
	Title   string
	SiteURL string
	FeedURL string
}

// Fetch downloads and parses the feed at feedURL. It returns an error for
// unreachable URLs, oversized payloads and bodies that are not a feed.
func Fetch(ctx context.Context, feedURL string, timeout time.Duration, userAgent string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL %s: %w", feedURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml;q=0.9, */*;q=0.8")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("feed request failed with HTTP %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, MaxFeedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}
	if len(payload) > MaxFeedBytes {
		return nil, fmt.Errorf("feed payload is too large (> %d bytes)", MaxFeedBytes)
	}

	return Parse(payload, feedURL)
}

// Parse extracts metadata from raw feed XML. Missing titles fall back to
// the feed host and missing site links fall back to the feed URL itself.
func Parse(payload []byte, feedURL string) (*Metadata, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	title := feed.Title
	if title == "" {
		if parsed, err := url.Parse(feedURL); err == nil && parsed.Host != "" {
			title = parsed.Host
		} else {
			title = feedURL
		}
	}

	siteURL := resolveSiteURL(feedURL, feed.Link)

	return &Metadata{
		Title:   title,
		SiteURL: siteURL,
		FeedURL: feedURL,
	}, nil
}

// resolveSiteURL joins a possibly relative site link against the feed URL.
func resolveSiteURL(feedURL, link string) string {
	if link == "" {
		return feedURL
	}
	base, err := url.Parse(feedURL)
	if err != nil {
		return link
	}
	resolved, err := base.Parse(link)
	if err != nil {
		return link
	}
	return resolved.String()
}
