package core

import "strings"

// AlertFilters narrows an alert listing. Zero values match everything.
type AlertFilters struct {
	Limit int `json:"limit"`

	Search      string        `json:"search"` // Case-insensitive match on rule name, command line or process name
	Severities  []Severity    `json:"severities"`
	MinSeverity Severity      `json:"min_severity"`
	Statuses    []AlertStatus `json:"statuses"`
	Hostname    string        `json:"hostname"`
	EventID     string        `json:"event_id"`
}

// Matches reports whether alert satisfies every populated filter
func (f *AlertFilters) Matches(alert *Alert) bool {
	if f == nil {
		return true
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, alert.Severity) {
		return false
	}
	if f.MinSeverity != "" && alert.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, alert.Status) {
		return false
	}
	if f.Hostname != "" && !strings.EqualFold(f.Hostname, alert.Hostname) {
		return false
	}
	if f.EventID != "" && f.EventID != alert.EventID {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(alert.RuleTriggered), needle) &&
			!strings.Contains(strings.ToLower(alert.CommandLine), needle) &&
			!strings.Contains(strings.ToLower(alert.ProcessName), needle) {
			return false
		}
	}
	return true
}

// Apply filters alerts in order and truncates to Limit
func (f *AlertFilters) Apply(alerts []Alert) []Alert {
	out := make([]Alert, 0, len(alerts))
	for i := range alerts {
		if !f.Matches(&alerts[i]) {
			continue
		}
		out = append(out, alerts[i])
		if f != nil && f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

func containsSeverity(list []Severity, s Severity) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsStatus(list []AlertStatus, s AlertStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
