package cmd

import (
	"fmt"

	"sentinel/bootstrap"
	"sentinel/detect"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const maxRulesFileSize = 10 * 1024 * 1024

func newRulesCmd(opts *globalOptions) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate detection rules",
	}
	rulesCmd.AddCommand(newRulesListCmd(opts))
	rulesCmd.AddCommand(newRulesValidateCmd(opts))
	rulesCmd.AddCommand(newRulesExportCmd())
	return rulesCmd
}

func newRulesListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show the rules the engine would load",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap.InitConfig(opts.configFile)
			if err != nil {
				return err
			}
			rules, err := bootstrap.InitRuleSet(cfg, zap.NewNop().Sugar())
			if err != nil {
				return err
			}
			if opts.outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), rules.Info())
			}
			renderRulesTable(cmd.OutOrStdout(), rules.Info())
			return nil
		},
	}
}

func newRulesValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a YAML rules file without starting the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := args[0]
			if err := checkInputFile(path, maxRulesFileSize); err != nil {
				return err
			}

			defs, err := detect.LoadRuleFile(path)
			if err == nil {
				var rules *detect.RuleSet
				rules, err = detect.NewRuleSet(defs, detect.RuleSetOptions{})
				if err == nil {
					if opts.outputJSON {
						return outputAsJSON(out, rules.Info())
					}
					renderRulesTable(out, rules.Info())
					successColor.Fprintf(out, "✓ %s: %d rules defined, %d enabled\n", path, len(defs), rules.Len())
					return nil
				}
			}

			errorColor.Fprintf(out, "✗ %s: %v\n", path, err)
			return fmt.Errorf("rules file %s is invalid", path)
		},
	}
}

func newRulesExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the built-in rule table as YAML",
		Long:  "Print the built-in rule table in rules-file format, as a starting point for engine.rules_file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := detect.MarshalRuleDefinitions(detect.DefaultRuleDefinitions())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
