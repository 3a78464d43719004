// Package opmlsync cleans the tiny and full OPML files and promotes valid
// tiny entries into the full list. Mutation happens strictly after all
// reachability checks have completed.
package opmlsync

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/zer0yu/CyberSecurityRSS/checker"
	"github.com/zer0yu/CyberSecurityRSS/health"
	"github.com/zer0yu/CyberSecurityRSS/opml"
)

type Mode string

const (
	ModeCheck Mode = "check"
	ModeApply Mode = "apply"
)

// Options configures a single sync run.
type Options struct {
	Mode             Mode
	TinyPath         string
	FullPath         string
	FallbackCategory string
	Timeout          time.Duration
	Retries          int
	Workers          int
	StatePath        string
	DeleteThreshold  int
	MaxProbeBytes    int64
	UserAgent        string

	// Checker overrides the HTTP checker, used by tests.
	Checker checker.Checker
}

// Stats summarizes what a run did or would do.
type Stats struct {
	CheckedURLs            int  `json:"checked_urls"`
	AliveURLs              int  `json:"alive_urls"`
	DeadURLs               int  `json:"dead_urls"`
	HardFailURLs           int  `json:"hard_fail_urls"`
	TransientFailURLs      int  `json:"transient_fail_urls"`
	DeadRemovedTiny        int  `json:"dead_removed_tiny"`
	DeadRemovedFull        int  `json:"dead_removed_full"`
	DuplicatesRemovedTiny  int  `json:"duplicates_removed_tiny"`
	DuplicatesRemovedFull  int  `json:"duplicates_removed_full"`
	RetainedFailedTiny     int  `json:"retained_failed_tiny"`
	RetainedFailedFull     int  `json:"retained_failed_full"`
	MergedAddedFull        int  `json:"merged_added_full"`
	TinyLinksBefore        int  `json:"tiny_links_before"`
	TinyLinksAfter         int  `json:"tiny_links_after"`
	FullLinksBefore        int  `json:"full_links_before"`
	FullLinksAfter         int  `json:"full_links_after"`
	TinyChanged            bool `json:"tiny_changed"`
	FullChanged            bool `json:"full_changed"`
	StateChanged           bool `json:"state_changed"`
	DeadRemovedTotal       int  `json:"dead_removed_total"`
	DuplicatesRemovedTotal int  `json:"duplicates_removed_total"`
	RetainedFailedTotal    int  `json:"retained_failed_total"`
}

// Run performs one sync pass. The returned bool reports whether the run
// found (check) or made (apply) changes.
func Run(ctx context.Context, opts Options) (*Stats, bool, error) {
	if opts.Mode != ModeCheck && opts.Mode != ModeApply {
		return nil, false, fmt.Errorf("unsupported mode: %q", opts.Mode)
	}

	tinyOriginal, err := os.ReadFile(opts.TinyPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", opts.TinyPath, err)
	}
	fullOriginal, err := os.ReadFile(opts.FullPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", opts.FullPath, err)
	}
	stateOriginal, _ := os.ReadFile(opts.StatePath)

	tinyDoc, err := opml.Parse(tinyOriginal, opts.TinyPath)
	if err != nil {
		return nil, false, err
	}
	fullDoc, err := opml.Parse(fullOriginal, opts.FullPath)
	if err != nil {
		return nil, false, err
	}

	stats := &Stats{
		TinyLinksBefore: len(tinyDoc.FeedURLs()),
		FullLinksBefore: len(fullDoc.FeedURLs()),
	}

	allURLs := lo.Uniq(append(tinyDoc.FeedURLs(), fullDoc.FeedURLs()...))
	sort.Strings(allURLs)

	chk := opts.Checker
	if chk == nil {
		userAgent := opts.UserAgent
		if userAgent == "" {
			userAgent = checker.DefaultUserAgent
		}
		chk = checker.NewHTTPChecker(opts.Timeout, opts.Retries, userAgent, opts.MaxProbeBytes)
	}

	log.WithFields(log.Fields{
		"urls":    len(allURLs),
		"workers": opts.Workers,
	}).Info("Checking feed reachability")
	results := checker.NewPool(chk, opts.Workers).CheckAll(ctx, allURLs)

	stats.CheckedURLs = len(results)
	for _, result := range results {
		switch {
		case result.Alive:
			stats.AliveURLs++
		case result.Kind == checker.KindHardFail:
			stats.HardFailURLs++
		default:
			stats.TransientFailURLs++
		}
	}
	stats.DeadURLs = stats.CheckedURLs - stats.AliveURLs

	previous := health.Load(opts.StatePath)
	nextState, removable := previous.Next(allURLs, results, opts.DeleteThreshold, time.Now())

	stats.DeadRemovedTiny, stats.DuplicatesRemovedTiny, stats.RetainedFailedTiny = clean(tinyDoc, results, removable)
	stats.DeadRemovedFull, stats.DuplicatesRemovedFull, stats.RetainedFailedFull = clean(fullDoc, results, removable)

	stats.MergedAddedFull = merge(tinyDoc, fullDoc, opts.FallbackCategory, results)

	stats.TinyLinksAfter = len(tinyDoc.FeedURLs())
	stats.FullLinksAfter = len(fullDoc.FeedURLs())

	tinyNew, err := tinyDoc.Marshal()
	if err != nil {
		return nil, false, err
	}
	fullNew, err := fullDoc.Marshal()
	if err != nil {
		return nil, false, err
	}
	stateNew, err := nextState.Encode()
	if err != nil {
		return nil, false, err
	}

	stats.TinyChanged = !bytes.Equal(tinyNew, tinyOriginal)
	stats.FullChanged = !bytes.Equal(fullNew, fullOriginal)
	stats.StateChanged = !bytes.Equal(stateNew, stateOriginal)
	stats.DeadRemovedTotal = stats.DeadRemovedTiny + stats.DeadRemovedFull
	stats.DuplicatesRemovedTotal = stats.DuplicatesRemovedTiny + stats.DuplicatesRemovedFull
	stats.RetainedFailedTotal = stats.RetainedFailedTiny + stats.RetainedFailedFull

	changedForCheck := stats.TinyChanged || stats.FullChanged
	changedForApply := changedForCheck || stats.StateChanged

	if opts.Mode == ModeApply {
		if stats.TinyChanged {
			if err := os.WriteFile(opts.TinyPath, tinyNew, 0o644); err != nil {
				return nil, false, fmt.Errorf("failed to write %s: %w", opts.TinyPath, err)
			}
		}
		if stats.FullChanged {
			if err := os.WriteFile(opts.FullPath, fullNew, 0o644); err != nil {
				return nil, false, fmt.Errorf("failed to write %s: %w", opts.FullPath, err)
			}
		}
		if stats.StateChanged {
			if err := nextState.WriteFile(opts.StatePath); err != nil {
				return nil, false, err
			}
		}
	}

	if opts.Mode == ModeCheck {
		return stats, changedForCheck, nil
	}
	return stats, changedForApply, nil
}

// clean removes feed entries with empty URLs, entries past the delete
// threshold that are still failing, and duplicates by xmlUrl (first
// occurrence wins, document order).
func clean(doc *opml.Document, results map[string]checker.Result, removable map[string]bool) (dead, dups, retained int) {
	seen := map[string]bool{}
	doc.Body.Outlines = cleanNodes(doc.Body.Outlines, results, removable, seen, &dead, &dups, &retained)
	return dead, dups, retained
}

func cleanNodes(nodes []*opml.Outline, results map[string]checker.Result, removable map[string]bool, seen map[string]bool, dead, dups, retained *int) []*opml.Outline {
	kept := make([]*opml.Outline, 0, len(nodes))
	for _, node := range nodes {
		if !node.IsFeed() {
			node.Outlines = cleanNodes(node.Outlines, results, removable, seen, dead, dups, retained)
			kept = append(kept, node)
			continue
		}

		url := opml.NormalizeURL(node.XMLURL)
		if url == "" {
			*dead++
			continue
		}
		if url != node.XMLURL {
			node.XMLURL = url
		}

		result, ok := results[url]
		if !ok {
			result = checker.Result{Kind: checker.KindTransientFail, Reason: "missing_check_result"}
		}

		if !result.Alive && removable[url] {
			log.WithFields(log.Fields{
				"url":    url,
				"reason": result.Reason,
			}).Info("Removing dead feed")
			*dead++
			continue
		}
		if !result.Alive {
			*retained++
		}
		if seen[url] {
			*dups++
			continue
		}
		seen[url] = true
		kept = append(kept, node)
	}
	return kept
}

type tinyEntry struct {
	category string
	feed     *opml.Outline
}

func collectTinyEntries(tiny *opml.Document) []tinyEntry {
	var entries []tinyEntry
	for _, top := range tiny.Body.Outlines {
		if top.IsFeed() {
			entries = append(entries, tinyEntry{feed: top})
			continue
		}
		name := top.CategoryName()
		top.WalkFeeds(func(feed *opml.Outline) {
			entries = append(entries, tinyEntry{category: name, feed: feed})
		})
	}
	return entries
}

// merge copies every alive tiny entry missing from full into full, under
// the source category when full has one of that exact name, otherwise
// under the fallback category.
func merge(tiny, full *opml.Document, fallback string, results map[string]checker.Result) int {
	fullURLs := map[string]bool{}
	for _, url := range full.FeedURLs() {
		fullURLs[url] = true
	}

	added := 0
	for _, entry := range collectTinyEntries(tiny) {
		url := opml.NormalizeURL(entry.feed.XMLURL)
		if url == "" {
			continue
		}
		result, ok := results[url]
		if !ok || !result.Alive {
			continue
		}
		if fullURLs[url] {
			continue
		}

		target := entry.category
		if target == "" || full.FindCategory(target) == nil {
			target = fallback
		}
		category := full.EnsureCategory(target)

		clone := entry.feed.Clone()
		clone.XMLURL = url
		category.Outlines = append(category.Outlines, clone)
		fullURLs[url] = true
		added++

		log.WithFields(log.Fields{
			"url":      url,
			"category": target,
		}).Info("Merged tiny feed into full list")
	}
	return added
}
