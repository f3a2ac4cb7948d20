package cmd

import (
	"fmt"

	"sentinel/bootstrap"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var noCollector, noAPI bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection engine, case store and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := bootstrap.NewApp(ctx, bootstrap.Options{
				ConfigPath:       opts.configFile,
				Ephemeral:        opts.ephemeral,
				DisableCollector: noCollector,
				DisableAPI:       noAPI,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return app.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&noCollector, "no-collector", false, "Disable the simulated telemetry collector")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "Disable the HTTP API")
	return cmd
}
