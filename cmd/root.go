package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/zer0yu/CyberSecurityRSS/checker"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "opml_sync",
		Usage: "Validate, clean and sync the CyberSecurityRSS OPML feed lists",
		Description: `Checks every feed URL in tiny.opml and CyberSecurityRSS.opml for
		reachability, removes entries that keep hard-failing across runs,
		deduplicates by feed URL and promotes valid tiny entries into the
		full list.

		In check mode nothing is written and a non-zero exit code signals
		drift; in apply mode the OPML files and the health state file are
		rewritten in place.

		Flags can generally be set via environment variables, e.g.:

		--tiny => OPMLSYNC_TINY=tiny.opml
		--mode => OPMLSYNC_MODE=check
		`,
		Flags: syncFlags(),
		Commands: []*cli.Command{
			addCmd(),
		},
		Action: runSync,
	}
}

func syncFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "mode",
			Aliases: []string{"m"},
			Usage:   "Run mode: check (report drift, write nothing) or apply (rewrite files)",
			EnvVars: []string{"OPMLSYNC_MODE"},
		},
		&cli.StringFlag{
			Name:    "tiny",
			Value:   "tiny.opml",
			Usage:   "Path to the curated tiny OPML file",
			EnvVars: []string{"OPMLSYNC_TINY"},
		},
		&cli.StringFlag{
			Name:    "full",
			Value:   "CyberSecurityRSS.opml",
			Usage:   "Path to the full OPML file",
			EnvVars: []string{"OPMLSYNC_FULL"},
		},
		&cli.StringFlag{
			Name:    "fallback-category",
			Value:   "Misc",
			Usage:   "Category used when a tiny entry's category is missing from the full list",
			EnvVars: []string{"OPMLSYNC_FALLBACK_CATEGORY"},
		},
		&cli.Float64Flag{
			Name:    "timeout",
			Value:   10,
			Usage:   "Per-request timeout in seconds",
			EnvVars: []string{"OPMLSYNC_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "retries",
			Value:   3,
			Usage:   "Attempts per feed before a soft failure is final",
			EnvVars: []string{"OPMLSYNC_RETRIES"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Value:   20,
			Usage:   "Maximum parallel feed checks",
			EnvVars: []string{"OPMLSYNC_WORKERS"},
		},
		&cli.StringFlag{
			Name:    "state-file",
			Value:   ".github/opml-health-state.json",
			Usage:   "Path to the persisted health state JSON file",
			EnvVars: []string{"OPMLSYNC_STATE_FILE"},
		},
		&cli.IntFlag{
			Name:    "delete-threshold",
			Value:   2,
			Usage:   "Consecutive hard failures before a feed is removed",
			EnvVars: []string{"OPMLSYNC_DELETE_THRESHOLD"},
		},
		&cli.Int64Flag{
			Name:    "max-probe-bytes",
			Value:   2 * 1024 * 1024,
			Usage:   "Maximum bytes read when probing a feed body",
			EnvVars: []string{"OPMLSYNC_MAX_PROBE_BYTES"},
		},
		&cli.StringFlag{
			Name:    "user-agent",
			Value:   checker.DefaultUserAgent,
			Usage:   "User agent for feed requests",
			EnvVars: []string{"OPMLSYNC_USER_AGENT"},
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a TOML file with run defaults",
			EnvVars: []string{"OPMLSYNC_CONFIG"},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Usage:   "Enable debug logging",
			EnvVars: []string{"OPMLSYNC_VERBOSE"},
		},
	}
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
