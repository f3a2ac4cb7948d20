package bootstrap

import (
	"fmt"

	"sentinel/config"
	"sentinel/detect"
	"sentinel/notify"
	"sentinel/service"

	"go.uber.org/zap"
)

// InitRuleSet compiles the rule table, from engine.rules_file when set and
// from the built-in PowerShell table otherwise.
func InitRuleSet(cfg *config.Config, sugar *zap.SugaredLogger) (*detect.RuleSet, error) {
	opts := detect.RuleSetOptions{RegexTimeout: cfg.Engine.RegexTimeout}

	if cfg.Engine.RulesFile == "" {
		rules, err := detect.DefaultRuleSet(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in rules: %w", err)
		}
		sugar.Infow("Loaded built-in detection rules", "count", rules.Len())
		return rules, nil
	}

	defs, err := detect.LoadRuleFile(cfg.Engine.RulesFile)
	if err != nil {
		return nil, err
	}
	rules, err := detect.NewRuleSet(defs, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", cfg.Engine.RulesFile, err)
	}
	sugar.Infow("Loaded detection rules from file",
		"path", cfg.Engine.RulesFile,
		"defined", len(defs),
		"enabled", rules.Len())
	return rules, nil
}

// InitEngine creates the detection engine on top of the case store.
func InitEngine(rules *detect.RuleSet, cases *service.CaseStore, bus *notify.Bus, cfg *config.Config, source string, sugar *zap.SugaredLogger) (*detect.Engine, error) {
	engine, err := detect.NewEngine(rules, cases, bus, detect.EngineConfig{
		BufferSize: cfg.Engine.BufferSize,
		Source:     source,
	}, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection engine: %w", err)
	}
	return engine, nil
}
