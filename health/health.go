// Package health persists per-feed failure counts across runs so a feed is
// only deleted after repeated hard failures, not a single network blip.
package health

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zer0yu/CyberSecurityRSS/checker"
)

const StateVersion = 1

// FeedHealth tracks the failure history of a single feed URL.
type FeedHealth struct {
	HardFailures      int    `json:"hard_failures"`
	TransientFailures int    `json:"transient_failures"`
	LastReason        string `json:"last_reason"`
	LastCheckedAt     string `json:"last_checked_at,omitempty"`
}

// State is the on-disk health record, a JSON mapping of feed URL to
// failure counts.
type State struct {
	Version   int                   `json:"version"`
	UpdatedAt string                `json:"updated_at"`
	URLs      map[string]FeedHealth `json:"urls"`
}

func NewState() *State {
	return &State{Version: StateVersion, URLs: map[string]FeedHealth{}}
}

// Load reads the state file. Any read or decode error yields an empty
// state: losing hysteresis for one run is preferable to aborting CI.
func Load(path string) *State {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithFields(log.Fields{
				"path":  path,
				"error": err,
			}).Warn("Could not read health state, starting fresh")
		}
		return NewState()
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		log.WithFields(log.Fields{
			"path":  path,
			"error": err,
		}).Warn("Could not decode health state, starting fresh")
		return NewState()
	}
	if state.URLs == nil {
		state.URLs = map[string]FeedHealth{}
	}
	return &state
}

// Next folds one run's check results into a fresh state and returns the
// set of URLs whose consecutive hard-failure count reached the threshold.
// Success resets both counters; a hard failure increments the hard count
// and clears the transient one, and vice versa.
func (s *State) Next(urls []string, results map[string]checker.Result, threshold int, now time.Time) (*State, map[string]bool) {
	if threshold < 1 {
		threshold = 1
	}

	next := NewState()
	next.UpdatedAt = now.UTC().Format(time.RFC3339)
	removable := map[string]bool{}

	seen := map[string]bool{}
	for _, url := range urls {
		if seen[url] {
			continue
		}
		seen[url] = true

		prev := s.URLs[url]
		result, ok := results[url]
		if !ok {
			result = checker.Result{Kind: checker.KindTransientFail, Reason: "missing_check_result"}
		}

		entry := FeedHealth{
			LastReason:    result.Reason,
			LastCheckedAt: next.UpdatedAt,
		}
		switch {
		case result.Alive:
		case result.Kind == checker.KindHardFail:
			entry.HardFailures = prev.HardFailures + 1
			if entry.HardFailures >= threshold {
				removable[url] = true
			}
		default:
			entry.TransientFailures = prev.TransientFailures + 1
		}
		next.URLs[url] = entry
	}

	return next, removable
}

// Encode serializes the state as indented JSON with a trailing newline.
// Go's JSON encoder writes map keys in sorted order, keeping diffs small.
func (s *State) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode health state: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFile persists the state, creating parent directories as needed.
func (s *State) WriteFile(path string) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write health state: %w", err)
	}
	return nil
}

// SortedURLs returns the tracked URLs in lexical order.
func (s *State) SortedURLs() []string {
	urls := make([]string, 0, len(s.URLs))
	for url := range s.URLs {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}
