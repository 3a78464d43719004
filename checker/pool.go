package checker

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Pool dispatches feed checks across a bounded set of workers. Results are
// fully aggregated before the caller touches any document state.
type Pool struct {
	checker    Checker
	maxWorkers int
}

func NewPool(checker Checker, maxWorkers int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Pool{checker: checker, maxWorkers: maxWorkers}
}

// CheckAll checks every URL once and returns a map of url to result.
// Duplicate URLs are collapsed and the input order is irrelevant.
func (p *Pool) CheckAll(ctx context.Context, urls []string) map[string]Result {
	unique := lo.Uniq(urls)
	sort.Strings(unique)
	if len(unique) == 0 {
		return map[string]Result{}
	}

	workers := p.maxWorkers
	if workers > len(unique) {
		workers = len(unique)
	}

	type checked struct {
		url    string
		result Result
	}

	jobs := make(chan string)
	out := make(chan checked)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for url := range jobs {
				select {
				case <-ctx.Done():
					log.Debugf("Worker %d: shutting down", id)
					out <- checked{url: url, result: Result{
						Kind:   KindTransientFail,
						Reason: "context_cancelled",
					}}
				default:
					out <- checked{url: url, result: p.checker.Check(ctx, url)}
				}
			}
		}(i)
	}

	go func() {
		defer close(jobs)
		for _, url := range unique {
			jobs <- url
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make(map[string]Result, len(unique))
	for c := range out {
		results[c.url] = c.result
	}
	return results
}
