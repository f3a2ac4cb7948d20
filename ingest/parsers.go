package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sentinel/core"
)

// MaxEventSize bounds a single encoded event
const MaxEventSize = 64 * 1024

const maxFieldLength = 32768

// wireEvent accepts both snake_case and the camelCase names used by older
// collectors. snake_case wins when both are present.
type wireEvent struct {
	ID             string     `json:"id"`
	Timestamp      *time.Time `json:"timestamp"`
	Image          string     `json:"image"`
	CommandLine    string     `json:"command_line"`
	CommandLineAlt string     `json:"commandLine"`
	ParentImage    string     `json:"parent_image"`
	ParentImageAlt string     `json:"parentImage"`
	ProcessID      *int       `json:"process_id"`
	ProcessIDAlt   *int       `json:"processId"`
	ParentPID      *int       `json:"parent_process_id"`
	ParentPIDAlt   *int       `json:"parentProcessId"`
	User           string     `json:"user"`
	Host           string     `json:"host"`
	Hostname       string     `json:"hostname"`
}

// ParseProcessEvent decodes one JSON-encoded process event and validates it.
// A missing timestamp is stamped with now. Unknown fields are ignored.
func ParseProcessEvent(raw []byte, now time.Time) (*core.ProcessEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, core.NewValidationError("event", "empty payload")
	}
	if len(raw) > MaxEventSize {
		return nil, core.NewValidationError("event", fmt.Sprintf("payload exceeds %d bytes", MaxEventSize))
	}

	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, core.NewValidationError("event", fmt.Sprintf("invalid JSON: %v", err))
	}

	event := &core.ProcessEvent{
		ID:              strings.TrimSpace(w.ID),
		Image:           w.Image,
		CommandLine:     firstNonEmpty(w.CommandLine, w.CommandLineAlt),
		ParentImage:     firstNonEmpty(w.ParentImage, w.ParentImageAlt),
		ProcessID:       firstInt(w.ProcessID, w.ProcessIDAlt),
		ParentProcessID: firstInt(w.ParentPID, w.ParentPIDAlt),
		User:            w.User,
		Host:            firstNonEmpty(w.Host, w.Hostname),
	}
	if w.Timestamp != nil && !w.Timestamp.IsZero() {
		event.Timestamp = w.Timestamp.UTC()
	} else {
		event.Timestamp = now.UTC()
	}

	if len(event.CommandLine) > maxFieldLength {
		return nil, core.NewValidationError("command_line", fmt.Sprintf("must be at most %d long", maxFieldLength))
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstInt(values ...*int) int {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 0
}
