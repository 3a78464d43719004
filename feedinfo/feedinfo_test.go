package feedinfo_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zer0yu/CyberSecurityRSS/feedinfo"
)

const rssPayload = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Krebs on Security</title>
<link>https://krebsonsecurity.com</link>
<description>In-depth security news</description>
</channel>
</rss>`

const atomPayload = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Project Zero</title>
<link rel="alternate" href="/blog/"/>
<link rel="self" href="https://example.org/feed.xml"/>
</feed>`

func TestParseRSSMetadata(t *testing.T) {
	metadata, err := feedinfo.Parse([]byte(rssPayload), "https://krebsonsecurity.com/feed/")
	require.NoError(t, err)

	assert.Equal(t, "Krebs on Security", metadata.Title)
	assert.Equal(t, "https://krebsonsecurity.com", metadata.SiteURL)
	assert.Equal(t, "https://krebsonsecurity.com/feed/", metadata.FeedURL)
}

func TestParseAtomResolvesRelativeLink(t *testing.T) {
	metadata, err := feedinfo.Parse([]byte(atomPayload), "https://example.org/feed.xml")
	require.NoError(t, err)

	assert.Equal(t, "Project Zero", metadata.Title)
	assert.Equal(t, "https://example.org/blog/", metadata.SiteURL)
}

func TestParseTitleFallsBackToHost(t *testing.T) {
	payload := `<?xml version="1.0"?><rss version="2.0"><channel><link>https://x.example</link></channel></rss>`
	metadata, err := feedinfo.Parse([]byte(payload), "https://feeds.x.example/rss")
	require.NoError(t, err)

	assert.Equal(t, "feeds.x.example", metadata.Title)
}

func TestParseRejectsNonFeed(t *testing.T) {
	_, err := feedinfo.Parse([]byte("<html><body>nope</body></html>"), "https://x.example/rss")
	assert.Error(t, err)
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rssPayload))
	}))
	defer server.Close()

	metadata, err := feedinfo.Fetch(context.Background(), server.URL, 5*time.Second, "test-agent")
	require.NoError(t, err)
	assert.Equal(t, "Krebs on Security", metadata.Title)
	assert.Equal(t, server.URL, metadata.FeedURL)
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := feedinfo.Fetch(context.Background(), server.URL, 5*time.Second, "test-agent")
	assert.ErrorContains(t, err, "HTTP 404")
}
