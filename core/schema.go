package core

import (
	"strings"
	"time"
)

// ProcessEvent is a single process-execution observation produced by a
// telemetry source. Events are immutable once created.
type ProcessEvent struct {
	ID              string    `json:"id" validate:"required"`
	Timestamp       time.Time `json:"timestamp"`
	Image           string    `json:"image" validate:"required"`
	CommandLine     string    `json:"command_line" validate:"required"`
	ParentImage     string    `json:"parent_image"`
	ProcessID       int       `json:"process_id" validate:"gte=0"`
	ParentProcessID int       `json:"parent_process_id" validate:"gte=0"`
	User            string    `json:"user"`
	Host            string    `json:"host"`
}

// Validate checks the fields a detection needs before the event may be ingested
func (e *ProcessEvent) Validate() error {
	if e == nil {
		return NewValidationError("event", "event is nil")
	}
	return ValidateStruct(e)
}

// Alert is a detection result for one (event, rule) pair
type Alert struct {
	ID              string      `json:"id"`
	Timestamp       time.Time   `json:"timestamp"`
	Hostname        string      `json:"hostname"`
	Severity        Severity    `json:"severity"`
	RuleTriggered   string      `json:"rule_triggered"`
	Confidence      int         `json:"confidence"`
	CommandLine     string      `json:"command_line"`
	ProcessID       int         `json:"process_id"`
	ParentProcessID int         `json:"parent_process_id"`
	ProcessName     string      `json:"process_name"`
	Status          AlertStatus `json:"status"`
	EventID         string      `json:"event_id"`
}

// NewAlertFromEvent builds a NEW alert for the given event and rule outcome
func NewAlertFromEvent(id string, event *ProcessEvent, ruleName string, severity Severity, confidence int) Alert {
	return Alert{
		ID:              id,
		Timestamp:       event.Timestamp,
		Hostname:        event.Host,
		Severity:        severity,
		RuleTriggered:   ruleName,
		Confidence:      confidence,
		CommandLine:     event.CommandLine,
		ProcessID:       event.ProcessID,
		ParentProcessID: event.ParentProcessID,
		ProcessName:     ProcessNameFromImage(event.Image),
		Status:          AlertStatusNew,
		EventID:         event.ID,
	}
}

// ProcessNameFromImage returns the final path segment of an image path.
// Both Windows and POSIX separators are honoured; an image without a
// separator (or ending in one) is returned unchanged.
func ProcessNameFromImage(image string) string {
	idx := strings.LastIndexAny(image, `\/`)
	if idx < 0 || idx == len(image)-1 {
		return image
	}
	return image[idx+1:]
}

// CaseNote is a free-text analyst annotation
type CaseNote struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
}

// Artifact is a tracked forensic object attached to the case
type Artifact struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
}
