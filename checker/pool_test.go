package checker_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zer0yu/CyberSecurityRSS/checker"
)

func TestPoolChecksEveryURLOnce(t *testing.T) {
	var calls atomic.Int32
	stub := checker.CheckFunc(func(ctx context.Context, feedURL string) checker.Result {
		calls.Add(1)
		if feedURL == "https://dead.example/rss" {
			return checker.Result{Kind: checker.KindHardFail, Reason: "http_404", StatusCode: 404}
		}
		return checker.Result{Alive: true, Kind: checker.KindAlive, Reason: "ok", StatusCode: 200}
	})

	urls := []string{
		"https://a.example/rss",
		"https://dead.example/rss",
		"https://a.example/rss", // duplicate, checked once
		"https://b.example/rss",
	}

	results := checker.NewPool(stub, 8).CheckAll(context.Background(), urls)

	assert.Len(t, results, 3)
	assert.EqualValues(t, 3, calls.Load())
	assert.True(t, results["https://a.example/rss"].Alive)
	assert.True(t, results["https://b.example/rss"].Alive)
	assert.Equal(t, checker.KindHardFail, results["https://dead.example/rss"].Kind)
}

func TestPoolEmptyInput(t *testing.T) {
	stub := checker.CheckFunc(func(ctx context.Context, feedURL string) checker.Result {
		t.Fatal("checker must not be called")
		return checker.Result{}
	})

	results := checker.NewPool(stub, 4).CheckAll(context.Background(), nil)
	assert.Empty(t, results)
}

func TestPoolBoundsWorkers(t *testing.T) {
	var inflight, peak atomic.Int32
	block := make(chan struct{})

	stub := checker.CheckFunc(func(ctx context.Context, feedURL string) checker.Result {
		current := inflight.Add(1)
		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}
		<-block
		inflight.Add(-1)
		return checker.Result{Alive: true, Kind: checker.KindAlive, Reason: "ok"}
	})

	urls := []string{
		"https://1.example/rss",
		"https://2.example/rss",
		"https://3.example/rss",
		"https://4.example/rss",
		"https://5.example/rss",
	}

	done := make(chan map[string]checker.Result)
	go func() {
		done <- checker.NewPool(stub, 2).CheckAll(context.Background(), urls)
	}()

	close(block)
	results := <-done

	assert.Len(t, results, 5)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
