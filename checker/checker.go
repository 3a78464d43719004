// Package checker probes feed URLs for reachability and classifies the
// outcome so the sync engine can decide between retry, retain and delete.
package checker

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// DefaultUserAgent identifies the bot to feed servers that block generic
// clients.
const DefaultUserAgent = "Mozilla/5.0 (compatible; CyberSecurityRSSBot/1.0; " +
	"+https://github.com/zer0yu/CyberSecurityRSS)"

type Kind string

const (
	KindAlive         Kind = "alive"
	KindHardFail      Kind = "hard_fail"
	KindTransientFail Kind = "transient_fail"
)

// Result is the final classification of a single feed URL check.
type Result struct {
	Alive      bool
	Kind       Kind
	Reason     string
	StatusCode int
}

func alive(status int) Result {
	return Result{Alive: true, Kind: KindAlive, Reason: "ok", StatusCode: status}
}

func hardFail(reason string, status int) Result {
	return Result{Kind: KindHardFail, Reason: reason, StatusCode: status}
}

func transientFail(reason string, status int) Result {
	return Result{Kind: KindTransientFail, Reason: reason, StatusCode: status}
}

// Checker is implemented by anything that can classify a feed URL.
// Tests substitute a stub for the HTTP checker through this interface.
type Checker interface {
	Check(ctx context.Context, feedURL string) Result
}

// CheckFunc adapts a plain function to the Checker interface.
type CheckFunc func(ctx context.Context, feedURL string) Result

func (f CheckFunc) Check(ctx context.Context, feedURL string) Result {
	return f(ctx, feedURL)
}

// Root tags that identify an RSS, Atom or RDF document.
var feedRootTags = map[string]bool{
	"rss":  true,
	"feed": true,
	"rdf":  true,
}

// HTTPChecker issues GET requests and classifies the response. Soft
// failures are retried with exponential backoff; hard failures and
// successes return immediately.
type HTTPChecker struct {
	client        *http.Client
	retries       int
	userAgent     string
	maxProbeBytes int64
	initialWait   time.Duration
}

func NewHTTPChecker(timeout time.Duration, retries int, userAgent string, maxProbeBytes int64) *HTTPChecker {
	if retries < 1 {
		retries = 1
	}
	if maxProbeBytes < 1024 {
		maxProbeBytes = 1024
	}
	return &HTTPChecker{
		client: &http.Client{
			Timeout: timeout,
		},
		retries:       retries,
		userAgent:     userAgent,
		maxProbeBytes: maxProbeBytes,
		initialWait:   500 * time.Millisecond,
	}
}

func (c *HTTPChecker) Check(ctx context.Context, feedURL string) Result {
	if !isHTTPURL(feedURL) {
		return hardFail("unsupported_url_scheme", 0)
	}

	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = c.initialWait
	wait.MaxInterval = 10 * time.Second
	wait.Multiplier = 2

	var result Result
	for attempt := 1; attempt <= c.retries; attempt++ {
		result = c.attempt(ctx, feedURL)
		if result.Kind != KindTransientFail || attempt == c.retries {
			return result
		}

		log.WithFields(log.Fields{
			"url":     feedURL,
			"attempt": attempt,
			"reason":  result.Reason,
		}).Debug("Retrying feed check after soft failure")

		select {
		case <-ctx.Done():
			return transientFail("context_cancelled", 0)
		case <-time.After(wait.NextBackOff()):
		}
	}
	return result
}

func (c *HTTPChecker) attempt(ctx context.Context, feedURL string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return hardFail(fmt.Sprintf("invalid_request: %v", err), 0)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml;q=0.9, */*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return classifyStatus(resp.StatusCode)
	}

	rootTag, err := firstRootTag(io.LimitReader(resp.Body, c.maxProbeBytes))
	if err == nil && feedRootTags[rootTag] {
		return alive(resp.StatusCode)
	}
	if err == nil && rootTag != "" {
		return hardFail("non_feed_root:"+rootTag, resp.StatusCode)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "html") || strings.Contains(contentType, "json") {
		return hardFail("non_xml_content_type:"+contentType, resp.StatusCode)
	}
	// Unknown body shape: do not feed the delete counter on a single probe.
	return transientFail("root_tag_not_found", resp.StatusCode)
}

// classifyStatus maps HTTP status codes outside 2xx/3xx. Throttling and
// server errors are retryable; every other client error is a hard failure.
func classifyStatus(status int) Result {
	reason := fmt.Sprintf("http_%d", status)
	switch {
	case status == http.StatusTooManyRequests:
		return transientFail(reason, status)
	case status >= 400 && status < 500:
		return hardFail(reason, status)
	default:
		return transientFail(reason, status)
	}
}

// classifyTransportError distinguishes failures that cannot recover on
// their own (DNS, connection refused) from transient network conditions.
func classifyTransportError(err error) Result {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return hardFail("dns_error:"+dnsErr.Name, 0)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return hardFail("connection_refused", 0)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transientFail("timeout", 0)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transientFail("timeout", 0)
	}
	return transientFail(fmt.Sprintf("network_error: %v", err), 0)
}

func isHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// firstRootTag reads the start of an XML body and returns the lowercased
// local name of the first element, with any namespace prefix stripped.
func firstRootTag(body io.Reader) (string, error) {
	decoder := xml.NewDecoder(body)
	decoder.Strict = false
	for {
		token, err := decoder.Token()
		if err != nil {
			return "", err
		}
		if start, ok := token.(xml.StartElement); ok {
			return stripNamespace(start.Name.Local), nil
		}
	}
}

func stripNamespace(tag string) string {
	if idx := strings.LastIndex(tag, ":"); idx >= 0 {
		tag = tag[idx+1:]
	}
	return strings.ToLower(tag)
}
