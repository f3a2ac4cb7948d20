package core

import (
	"fmt"
	"strings"
)

// Severity represents the severity of an alert
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// AllSeverities lists severities from most to least severe
var AllSeverities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// Rank orders severities for filtering. Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// ParseSeverity parses a severity name case-insensitively
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", NewValidationError("severity", fmt.Sprintf("invalid severity %q", s))
	}
	return sev, nil
}

// AlertStatus represents the status of an alert
type AlertStatus string

const (
	// AlertStatusNew indicates an alert that hasn't been reviewed
	AlertStatusNew AlertStatus = "NEW"
	// AlertStatusAcknowledged indicates an alert that an analyst has seen
	AlertStatusAcknowledged AlertStatus = "ACK"
	// AlertStatusResolved is reserved for external case workflow
	AlertStatusResolved AlertStatus = "RESOLVED"
	// AlertStatusIgnored is reserved for external case workflow
	AlertStatusIgnored AlertStatus = "IGNORED"
)

// String returns the string representation
func (s AlertStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusNew, AlertStatusAcknowledged, AlertStatusResolved, AlertStatusIgnored:
		return true
	default:
		return false
	}
}
