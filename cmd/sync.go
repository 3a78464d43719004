package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/zer0yu/CyberSecurityRSS/config"
	"github.com/zer0yu/CyberSecurityRSS/opmlsync"
)

func runSync(ctx *cli.Context) error {
	if ctx.Bool("verbose") {
		log.SetLevel(log.DebugLevel)
	}
	if ctx.String("mode") == "" {
		return cli.Exit("Error: --mode is required (check or apply)", 2)
	}

	opts, err := buildOptions(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}

	stats, changed, err := opmlsync.Run(ctx.Context, opts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}

	log.WithFields(log.Fields{
		"checked":         stats.CheckedURLs,
		"alive":           stats.AliveURLs,
		"dead":            stats.DeadURLs,
		"hard_fail":       stats.HardFailURLs,
		"transient_fail":  stats.TransientFailURLs,
		"removed_dead":    stats.DeadRemovedTotal,
		"retained_failed": stats.RetainedFailedTotal,
		"removed_dups":    stats.DuplicatesRemovedTotal,
		"merged_added":    stats.MergedAddedFull,
		"tiny_before":     stats.TinyLinksBefore,
		"tiny_after":      stats.TinyLinksAfter,
		"full_before":     stats.FullLinksBefore,
		"full_after":      stats.FullLinksAfter,
	}).Info("Sync run finished")

	// Machine-readable summary for the CI logs, one JSON object per line.
	if payload, err := json.Marshal(stats); err == nil {
		fmt.Println(string(payload))
	}

	if opts.Mode == opmlsync.ModeCheck && changed {
		return cli.Exit("Detected OPML drift: run in apply mode to update files "+
			"(or merge to master and let the workflow auto-fix).", 1)
	}
	return nil
}

// buildOptions resolves the effective options: explicit flags and env vars
// win, then TOML config values, then flag defaults.
func buildOptions(ctx *cli.Context) (opmlsync.Options, error) {
	fileCfg := &config.TomlConfig{}
	if path := ctx.String("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return opmlsync.Options{}, err
		}
		fileCfg = loaded
	} else {
		loaded, err := config.LoadDefault()
		if err != nil {
			log.WithField("error", err).Warn("Ignoring unreadable default config file")
		} else {
			fileCfg = loaded
		}
	}

	opts := opmlsync.Options{
		Mode:             opmlsync.Mode(ctx.String("mode")),
		TinyPath:         stringOption(ctx, "tiny", fileCfg.Tiny),
		FullPath:         stringOption(ctx, "full", fileCfg.Full),
		FallbackCategory: stringOption(ctx, "fallback-category", fileCfg.FallbackCategory),
		Retries:          intOption(ctx, "retries", fileCfg.Retries),
		Workers:          intOption(ctx, "workers", fileCfg.Workers),
		StatePath:        stringOption(ctx, "state-file", fileCfg.StateFile),
		DeleteThreshold:  intOption(ctx, "delete-threshold", fileCfg.DeleteThreshold),
		MaxProbeBytes:    int64Option(ctx, "max-probe-bytes", fileCfg.MaxProbeBytes),
		UserAgent:        stringOption(ctx, "user-agent", fileCfg.UserAgent),
	}

	timeoutSeconds := ctx.Float64("timeout")
	if !ctx.IsSet("timeout") && fileCfg.TimeoutSeconds > 0 {
		timeoutSeconds = fileCfg.TimeoutSeconds
	}
	opts.Timeout = time.Duration(timeoutSeconds * float64(time.Second))

	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.DeleteThreshold < 1 {
		opts.DeleteThreshold = 1
	}
	return opts, nil
}

func stringOption(ctx *cli.Context, name, fromFile string) string {
	if !ctx.IsSet(name) && fromFile != "" {
		return fromFile
	}
	return ctx.String(name)
}

func intOption(ctx *cli.Context, name string, fromFile int) int {
	if !ctx.IsSet(name) && fromFile != 0 {
		return fromFile
	}
	return ctx.Int(name)
}

func int64Option(ctx *cli.Context, name string, fromFile int64) int64 {
	if !ctx.IsSet(name) && fromFile != 0 {
		return fromFile
	}
	return ctx.Int64(name)
}
