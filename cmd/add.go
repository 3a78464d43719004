package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cqroot/prompt"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/zer0yu/CyberSecurityRSS/checker"
	"github.com/zer0yu/CyberSecurityRSS/feedinfo"
	"github.com/zer0yu/CyberSecurityRSS/opml"
)

func addCmd() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Add one RSS/Atom feed to tiny.opml",
		Description: `Fetches the feed once to pick up its title and site URL,
	then appends it to tiny.opml under the chosen category.

	The feed URL and category are prompted for interactively when the
	corresponding flags are omitted. Duplicate URLs are refused.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "tiny",
				Value:   "tiny.opml",
				Usage:   "Path to the curated tiny OPML file",
				EnvVars: []string{"OPMLSYNC_TINY"},
			},
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Usage:   "RSS/Atom feed URL; prompted for if omitted",
			},
			&cli.StringFlag{
				Name:  "category",
				Usage: "Target category; prompted for if omitted",
			},
			&cli.Float64Flag{
				Name:    "timeout",
				Value:   12,
				Usage:   "HTTP timeout in seconds",
				EnvVars: []string{"OPMLSYNC_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "user-agent",
				Value:   checker.DefaultUserAgent,
				Usage:   "User agent for the feed request",
				EnvVars: []string{"OPMLSYNC_USER_AGENT"},
			},
		},
		Action: runAdd,
	}
}

func runAdd(ctx *cli.Context) error {
	tinyPath := ctx.String("tiny")
	doc, err := opml.ParseFile(tinyPath)
	if err != nil {
		return err
	}

	feedURL := strings.TrimSpace(ctx.String("url"))
	if feedURL == "" {
		feedURL, err = prompt.New().Ask("RSS/Atom feed URL:").Input("https://example.com/rss")
		if err != nil {
			return err
		}
		feedURL = strings.TrimSpace(feedURL)
	}
	if !isHTTPURL(feedURL) {
		return errors.New("invalid feed URL; must be http or https")
	}

	if existing, found := categoryOfURL(doc, feedURL); found {
		fmt.Printf("Feed already exists in category: %s\n", existing)
		fmt.Printf("RSS: %s\n", feedURL)
		return nil
	}

	timeout := time.Duration(ctx.Float64("timeout") * float64(time.Second))
	metadata, err := feedinfo.Fetch(ctx.Context, feedURL, timeout, ctx.String("user-agent"))
	if err != nil {
		return err
	}

	categories := categoryNames(doc)
	chosen := strings.TrimSpace(ctx.String("category"))
	if chosen == "" {
		if len(categories) > 0 {
			fmt.Println("Current categories in tiny.opml:")
			for _, name := range categories {
				fmt.Printf("- %s\n", name)
			}
		}
		chosen, err = prompt.New().Ask("Category:").Input("Misc")
		if err != nil {
			return err
		}
		chosen = strings.TrimSpace(chosen)
	}
	if chosen == "" {
		return errors.New("category name must not be empty")
	}

	// A typed name that only differs in case from an existing category
	// reuses the existing one.
	if match, ok := lo.Find(categories, func(name string) bool {
		return strings.EqualFold(name, chosen)
	}); ok {
		chosen = match
	}

	category := doc.EnsureCategory(chosen)
	category.Outlines = append(category.Outlines, &opml.Outline{
		Text:    metadata.Title,
		Title:   metadata.Title,
		Type:    "rss",
		XMLURL:  metadata.FeedURL,
		HTMLURL: metadata.SiteURL,
	})

	payload, err := doc.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(tinyPath, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tinyPath, err)
	}

	fmt.Println("Feed added into tiny.opml successfully:")
	fmt.Printf("- Category: %s\n", chosen)
	fmt.Printf("- Title: %s\n", metadata.Title)
	fmt.Printf("- Site: %s\n", metadata.SiteURL)
	fmt.Printf("- RSS: %s\n", metadata.FeedURL)
	return nil
}

func categoryNames(doc *opml.Document) []string {
	return lo.FilterMap(doc.Categories(), func(category *opml.Outline, _ int) (string, bool) {
		name := category.CategoryName()
		return name, name != ""
	})
}

// categoryOfURL reports which category already holds the URL, if any.
func categoryOfURL(doc *opml.Document, feedURL string) (string, bool) {
	wanted := opml.NormalizeURL(feedURL)
	for _, top := range doc.Body.Outlines {
		if top.IsFeed() {
			if opml.NormalizeURL(top.XMLURL) == wanted {
				return "(top-level)", true
			}
			continue
		}
		found := false
		top.WalkFeeds(func(feed *opml.Outline) {
			if opml.NormalizeURL(feed.XMLURL) == wanted {
				found = true
			}
		})
		if found {
			name := top.CategoryName()
			if name == "" {
				name = "(unnamed)"
			}
			return name, true
		}
	}
	return "", false
}

func isHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
