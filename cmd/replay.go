package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"sentinel/bootstrap"
	"sentinel/config"
	"sentinel/ingest"

	"github.com/spf13/cobra"
)

const (
	maxReplayFileSize = 512 * 1024 * 1024
	defaultTimeout    = 30 * time.Minute
)

type replayResult struct {
	File   string             `json:"file"`
	Stats  ingest.ReplayStats `json:"stats"`
	Alerts int                `json:"alerts_raised"`
}

func newReplayCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay FILE",
		Short: "Run newline-delimited JSON process events through detection",
		Long: `Replay reads one JSON process event per line and ingests each into the
detection engine using the configured case store. Blank lines and lines
starting with '#' are skipped. Use --ephemeral for a dry run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if err := checkInputFile(path, maxReplayFileSize); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			cfg, err := bootstrap.InitConfig(opts.configFile)
			if err != nil {
				return err
			}
			cfg.API.Enabled = false
			cfg.Collector.Enabled = false
			if opts.ephemeral {
				cfg.Storage.Backend = config.BackendMemory
			}
			logger, _, err := bootstrap.InitCLILogger("warn")
			if err != nil {
				return err
			}

			app, err := bootstrap.NewAppWithConfig(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			before := len(app.Cases.ListAlerts())
			stats, err := ingest.NewReplayer(app.Engine, app.Sugar.Named("replay")).ReplayFile(ctx, path)
			result := replayResult{File: path, Stats: stats, Alerts: len(app.Cases.ListAlerts()) - before}
			if err != nil {
				return fmt.Errorf("replay aborted after %d lines: %w", stats.Lines, err)
			}

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return outputAsJSON(out, result)
			}
			renderReplayResult(out, result)
			return nil
		},
	}
}

// checkInputFile rejects missing, non-regular and oversized input files
func checkInputFile(path string, maxSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > maxSize {
		return fmt.Errorf("%s is too large (%d bytes, max %d)", path, info.Size(), maxSize)
	}
	return nil
}
