// Package cmd provides the command-line interface for Sentinel.
package cmd

import (
	"encoding/json"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Version is stamped at build time with -ldflags "-X sentinel/cmd.Version=..."
var Version = "dev"

// globalOptions holds the persistent flags shared by every subcommand
type globalOptions struct {
	configFile string
	outputJSON bool
	noColor    bool
	ephemeral  bool
}

// NewRootCmd builds the sentinel command tree. Running it without a
// subcommand starts the server.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	serve := newServeCmd(opts)

	root := &cobra.Command{
		Use:   "sentinel",
		Short: "Process telemetry detection and case tracking",
		Long: `Sentinel ingests process-execution telemetry, matches it against a table of
PowerShell and Office abuse rules, and tracks the resulting alerts, analyst
notes and artifacts as a single investigation case.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
		RunE: serve.RunE,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	root.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&opts.ephemeral, "ephemeral", false, "Keep case data in memory only")

	root.AddCommand(serve)
	root.AddCommand(newReplayCmd(opts))
	root.AddCommand(newRulesCmd(opts))

	return root
}

func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
