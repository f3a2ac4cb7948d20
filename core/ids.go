package core

import "github.com/google/uuid"

// IDGenerator produces identifiers for new records
type IDGenerator func() string

// NewAlertID returns a fresh alert identifier
func NewAlertID() string {
	return "AL-" + uuid.NewString()
}

// NewNoteID returns a fresh case note identifier
func NewNoteID() string {
	return "note-" + uuid.NewString()
}

// NewArtifactID returns a fresh artifact identifier
func NewArtifactID() string {
	return "art-" + uuid.NewString()
}

// NewEventID returns a fresh event identifier for locally produced telemetry
func NewEventID() string {
	return "evt-" + uuid.NewString()
}
