package detect

import (
	"fmt"
	"time"

	"sentinel/core"
)

// Rule is one independent detector. A matching rule proposes a single alert
// carrying its fixed name, severity and confidence.
type Rule struct {
	Name       string
	Severity   core.Severity
	Confidence int
	Field      Field
	// OnlyIfUnalerted rules run only while the event has no alert, stored or
	// proposed earlier in the same pass.
	OnlyIfUnalerted bool
	Matcher         Matcher
}

// RuleInfo is the read-only view of a rule exposed to operators
type RuleInfo struct {
	Name            string        `json:"name"`
	Severity        core.Severity `json:"severity"`
	Confidence      int           `json:"confidence"`
	Field           Field         `json:"field"`
	Condition       string        `json:"condition"`
	OnlyIfUnalerted bool          `json:"only_if_unalerted"`
}

// RuleSet is an ordered, immutable collection of rules
type RuleSet struct {
	rules []Rule
}

// RuleSetOptions tunes rule compilation
type RuleSetOptions struct {
	RegexTimeout time.Duration
}

// NewRuleSet compiles definitions in order. Disabled definitions are skipped;
// any invalid definition fails the whole set.
func NewRuleSet(defs []RuleDefinition, opts RuleSetOptions) (*RuleSet, error) {
	if err := validateDefinitions(defs); err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		if !def.IsEnabled() {
			continue
		}
		rule, err := def.compile(opts)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", def.Name, err)
		}
		rules = append(rules, rule)
	}
	return &RuleSet{rules: rules}, nil
}

// NewRuleSetFromRules wraps already built rules, keeping their order
func NewRuleSetFromRules(rules ...Rule) *RuleSet {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return &RuleSet{rules: out}
}

// DefaultRuleSet compiles the built-in rule table
func DefaultRuleSet(opts RuleSetOptions) (*RuleSet, error) {
	return NewRuleSet(DefaultRuleDefinitions(), opts)
}

func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Info returns rule metadata in evaluation order
func (rs *RuleSet) Info() []RuleInfo {
	out := make([]RuleInfo, 0, len(rs.rules))
	for _, r := range rs.rules {
		condition := ""
		if s, ok := r.Matcher.(fmt.Stringer); ok {
			condition = s.String()
		}
		out = append(out, RuleInfo{
			Name:            r.Name,
			Severity:        r.Severity,
			Confidence:      r.Confidence,
			Field:           r.Field,
			Condition:       condition,
			OnlyIfUnalerted: r.OnlyIfUnalerted,
		})
	}
	return out
}

// DefaultRuleDefinitions is the built-in PowerShell and Office abuse table
func DefaultRuleDefinitions() []RuleDefinition {
	return []RuleDefinition{
		{
			Name:       "Encoded PowerShell Command",
			Severity:   string(core.SeverityCritical),
			Confidence: 95,
			Field:      string(FieldCommandLine),
			Pattern:    `-(enc|encodedcommand)\s+[a-z0-9+/=]{10,}`,
		},
		{
			Name:       "Stealth PowerShell Execution",
			Severity:   string(core.SeverityHigh),
			Confidence: 85,
			Field:      string(FieldCommandLine),
			Pattern:    `-(noprofile|nop)\s+.*-(w|windowstyle)\s+hidden`,
		},
		{
			Name:       "Suspicious Download Cradle",
			Severity:   string(core.SeverityCritical),
			Confidence: 90,
			Field:      string(FieldCommandLine),
			Pattern:    `(iex|invoke-expression|downloadstring|webclient|downloadfile)`,
		},
		{
			Name:       "Suspicious Office Child Process",
			Severity:   string(core.SeverityHigh),
			Confidence: 80,
			Field:      string(FieldParentImage),
			Pattern:    `(winword|excel|outlook|powerpnt)\.exe`,
		},
		{
			Name:            "Heuristic: Long Base64 Block",
			Severity:        string(core.SeverityMedium),
			Confidence:      70,
			Field:           string(FieldCommandLine),
			Pattern:         `[a-z0-9+/=]{100,}`,
			OnlyIfUnalerted: true,
		},
	}
}
