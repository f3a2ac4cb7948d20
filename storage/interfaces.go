package storage

import (
	"context"

	"sentinel/core"
)

// Persisted collection names
const (
	CollectionAlerts    = "alerts"
	CollectionNotes     = "case_notes"
	CollectionArtifacts = "artifacts"
)

// CaseRepository persists the three case collections independently. Every
// Save replaces the whole collection and must preserve element order; Load
// returns an empty slice for a collection that was never saved.
type CaseRepository interface {
	LoadAlerts(ctx context.Context) ([]core.Alert, error)
	SaveAlerts(ctx context.Context, alerts []core.Alert) error

	LoadNotes(ctx context.Context) ([]core.CaseNote, error)
	SaveNotes(ctx context.Context, notes []core.CaseNote) error

	LoadArtifacts(ctx context.Context) ([]core.Artifact, error)
	SaveArtifacts(ctx context.Context, artifacts []core.Artifact) error

	Ping(ctx context.Context) error
	Close() error
}
