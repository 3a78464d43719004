package checker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Feed</title></channel></rss>`

const atomBody = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>Feed</title></feed>`

const rdfBody = `<?xml version="1.0" encoding="UTF-8"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"><channel/></rdf:RDF>`

func newChecker(retries int) *HTTPChecker {
	c := NewHTTPChecker(2*time.Second, retries, DefaultUserAgent, 64*1024)
	c.initialWait = time.Millisecond
	return c
}

func TestCheckClassification(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantKind   Kind
		wantAlive  bool
		wantReason string
	}{
		{
			name: "rss root is alive",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/rss+xml")
				w.Write([]byte(rssBody))
			},
			wantKind:   KindAlive,
			wantAlive:  true,
			wantReason: "ok",
		},
		{
			name: "atom root is alive",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(atomBody))
			},
			wantKind:   KindAlive,
			wantAlive:  true,
			wantReason: "ok",
		},
		{
			name: "rdf root is alive",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(rdfBody))
			},
			wantKind:   KindAlive,
			wantAlive:  true,
			wantReason: "ok",
		},
		{
			name: "404 is a hard failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantKind:   KindHardFail,
			wantReason: "http_404",
		},
		{
			name: "410 is a hard failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusGone)
			},
			wantKind:   KindHardFail,
			wantReason: "http_410",
		},
		{
			name: "429 throttling is transient",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantKind:   KindTransientFail,
			wantReason: "http_429",
		},
		{
			name: "500 is transient",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantKind:   KindTransientFail,
			wantReason: "http_500",
		},
		{
			name: "html page is a hard failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.Write([]byte("<html><body>not a feed</body></html>"))
			},
			wantKind:   KindHardFail,
			wantReason: "non_feed_root:html",
		},
		{
			name: "json body is a hard failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"items": []}`))
			},
			wantKind:   KindHardFail,
			wantReason: "non_xml_content_type:application/json",
		},
		{
			name: "unidentifiable body is transient",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.Write([]byte("plain text"))
			},
			wantKind:   KindTransientFail,
			wantReason: "root_tag_not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			result := newChecker(1).Check(context.Background(), server.URL)
			assert.Equal(t, tt.wantKind, result.Kind)
			assert.Equal(t, tt.wantAlive, result.Alive)
			assert.Equal(t, tt.wantReason, result.Reason)
		})
	}
}

func TestCheckUnsupportedScheme(t *testing.T) {
	result := newChecker(3).Check(context.Background(), "ftp://feed.example/rss")
	assert.Equal(t, KindHardFail, result.Kind)
	assert.Equal(t, "unsupported_url_scheme", result.Reason)
}

func TestCheckConnectionRefusedIsHard(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	result := newChecker(3).Check(context.Background(), url)
	assert.Equal(t, KindHardFail, result.Kind)
	assert.Equal(t, "connection_refused", result.Reason)
}

func TestCheckRetriesSoftFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(rssBody))
	}))
	defer server.Close()

	result := newChecker(3).Check(context.Background(), server.URL)
	assert.True(t, result.Alive)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestCheckDoesNotRetryHardFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	result := newChecker(5).Check(context.Background(), server.URL)
	assert.Equal(t, KindHardFail, result.Kind)
	assert.EqualValues(t, 1, attempts.Load())
}

func TestCheckStopsAfterConfiguredRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	result := newChecker(3).Check(context.Background(), server.URL)
	assert.Equal(t, KindTransientFail, result.Kind)
	assert.Equal(t, "http_503", result.Reason)
	assert.EqualValues(t, 3, attempts.Load())
}
