package cmd

import (
	"fmt"
	"io"
	"strings"

	"sentinel/core"
	"sentinel/detect"
)

// renderRulesTable displays rules in evaluation order
func renderRulesTable(w io.Writer, rules []detect.RuleInfo) {
	if len(rules) == 0 {
		warningColor.Fprintln(w, "No rules enabled")
		return
	}

	headerColor.Fprintln(w, "RULES")
	headerColor.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "%-3s %-36s %-9s %-5s %-13s %s\n", "#", "Name", "Severity", "Conf", "Field", "Condition")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for i, rule := range rules {
		name := rule.Name
		if rule.OnlyIfUnalerted {
			name += " *"
		}
		fmt.Fprintf(w, "%-3d %-36s %s %-5d %-13s %s\n",
			i+1, truncate(name, 36), formatSeverity(rule.Severity), rule.Confidence, rule.Field, truncate(rule.Condition, 40))
	}

	fmt.Fprintln(w, strings.Repeat("=", 110))
	for _, rule := range rules {
		if rule.OnlyIfUnalerted {
			infoColor.Fprintln(w, "* fires only when no earlier rule matched the event")
			break
		}
	}
}

// renderReplayResult summarises a replay run
func renderReplayResult(w io.Writer, r replayResult) {
	headerColor.Fprintf(w, "REPLAY %s\n", r.File)
	fmt.Fprintf(w, "  %-10s %d\n", "Lines", r.Stats.Lines)
	successColor.Fprintf(w, "  %-10s %d\n", "Ingested", r.Stats.Ingested)
	fmt.Fprintf(w, "  %-10s %d\n", "Skipped", r.Stats.Skipped)
	if r.Stats.Rejected > 0 {
		warningColor.Fprintf(w, "  %-10s %d\n", "Rejected", r.Stats.Rejected)
	}
	if r.Stats.Failed > 0 {
		errorColor.Fprintf(w, "  %-10s %d\n", "Failed", r.Stats.Failed)
	}
	infoColor.Fprintf(w, "  %-10s %d\n", "Alerts", r.Alerts)
}

// formatSeverity pads before colouring so escape codes do not break alignment
func formatSeverity(s core.Severity) string {
	padded := fmt.Sprintf("%-9s", s)
	switch s {
	case core.SeverityCritical:
		return errorColor.Sprint(padded)
	case core.SeverityHigh:
		return warningColor.Sprint(padded)
	default:
		return padded
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
