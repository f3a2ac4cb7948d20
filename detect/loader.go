package detect

import (
	"fmt"
	"os"
	"strings"

	"sentinel/core"

	"gopkg.in/yaml.v3"
)

// RuleDefinition is the declarative form of a rule, as read from a rule file
type RuleDefinition struct {
	Name            string   `yaml:"name" json:"name" validate:"required,max=128"`
	Severity        string   `yaml:"severity" json:"severity" validate:"required"`
	Confidence      int      `yaml:"confidence" json:"confidence" validate:"gte=0,lte=100"`
	Field           string   `yaml:"field" json:"field" validate:"omitempty,oneof=command_line parent_image image user host"`
	Pattern         string   `yaml:"pattern,omitempty" json:"pattern" validate:"required_without=Keywords"`
	Keywords        []string `yaml:"keywords,omitempty" json:"keywords" validate:"required_without=Pattern"`
	OnlyIfUnalerted bool     `yaml:"only_if_unalerted,omitempty" json:"only_if_unalerted"`
	Enabled         *bool    `yaml:"enabled,omitempty" json:"enabled"`
}

// IsEnabled treats an unset enabled flag as true
func (d *RuleDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

func (d *RuleDefinition) field() Field {
	if d.Field == "" {
		return FieldCommandLine
	}
	return Field(d.Field)
}

func (d *RuleDefinition) compile(opts RuleSetOptions) (Rule, error) {
	severity, err := core.ParseSeverity(d.Severity)
	if err != nil {
		return Rule{}, err
	}

	var matcher Matcher
	if d.Pattern != "" {
		matcher, err = NewRegexMatcher(d.field(), d.Pattern, opts.RegexTimeout)
	} else {
		matcher, err = NewKeywordMatcher(d.field(), d.Keywords)
	}
	if err != nil {
		return Rule{}, err
	}

	return Rule{
		Name:            d.Name,
		Severity:        severity,
		Confidence:      d.Confidence,
		Field:           d.field(),
		OnlyIfUnalerted: d.OnlyIfUnalerted,
		Matcher:         matcher,
	}, nil
}

// ruleFile is the top-level document of a YAML rule file
type ruleFile struct {
	Rules []RuleDefinition `yaml:"rules"`
}

// ParseRuleDefinitions decodes a YAML rule document, rejecting unknown keys
func ParseRuleDefinitions(data []byte) ([]RuleDefinition, error) {
	var doc ruleFile
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, core.NewValidationError("rules", "rule file defines no rules")
	}
	if err := validateDefinitions(doc.Rules); err != nil {
		return nil, err
	}
	return doc.Rules, nil
}

// LoadRuleFile reads and validates a YAML rule file
func LoadRuleFile(path string) ([]RuleDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	defs, err := ParseRuleDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// MarshalRuleDefinitions renders definitions in rule file form
func MarshalRuleDefinitions(defs []RuleDefinition) ([]byte, error) {
	return yaml.Marshal(ruleFile{Rules: defs})
}

func validateDefinitions(defs []RuleDefinition) error {
	seen := make(map[string]int, len(defs))
	for i := range defs {
		def := &defs[i]
		if err := core.ValidateStruct(def); err != nil {
			return fmt.Errorf("rule %d: %w", i+1, err)
		}
		if def.Pattern != "" && len(def.Keywords) > 0 {
			return fmt.Errorf("rule %q: %w", def.Name,
				core.NewValidationError("pattern", "pattern and keywords are mutually exclusive"))
		}
		if _, err := core.ParseSeverity(def.Severity); err != nil {
			return fmt.Errorf("rule %q: %w", def.Name, err)
		}
		key := strings.ToLower(strings.TrimSpace(def.Name))
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("rule %d: %w", i+1,
				core.NewValidationError("name", fmt.Sprintf("duplicate rule name %q (first defined as rule %d)", def.Name, prev)))
		}
		seen[key] = i + 1
	}
	return nil
}
