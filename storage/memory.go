package storage

import (
	"context"
	"sync"

	"sentinel/core"
)

// MemoryRepository is a process-local CaseRepository. Failures can be
// injected per collection to exercise persistence error paths.
type MemoryRepository struct {
	mu        sync.Mutex
	alerts    []core.Alert
	notes     []core.CaseNote
	artifacts []core.Artifact
	saveErrs  map[string]error
	saves     map[string]int
	closed    bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		saveErrs: make(map[string]error),
		saves:    make(map[string]int),
	}
}

// FailSaves makes every Save of collection return err until cleared with nil
func (m *MemoryRepository) FailSaves(collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.saveErrs, collection)
		return
	}
	m.saveErrs[collection] = err
}

// SaveCount returns how many Save calls reached collection, failed ones included
func (m *MemoryRepository) SaveCount(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[collection]
}

func (m *MemoryRepository) LoadAlerts(context.Context) ([]core.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append(make([]core.Alert, 0, len(m.alerts)), m.alerts...), nil
}

func (m *MemoryRepository) SaveAlerts(_ context.Context, alerts []core.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beforeSave(CollectionAlerts); err != nil {
		return err
	}
	m.alerts = append(make([]core.Alert, 0, len(alerts)), alerts...)
	return nil
}

func (m *MemoryRepository) LoadNotes(context.Context) ([]core.CaseNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append(make([]core.CaseNote, 0, len(m.notes)), m.notes...), nil
}

func (m *MemoryRepository) SaveNotes(_ context.Context, notes []core.CaseNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beforeSave(CollectionNotes); err != nil {
		return err
	}
	m.notes = append(make([]core.CaseNote, 0, len(notes)), notes...)
	return nil
}

func (m *MemoryRepository) LoadArtifacts(context.Context) ([]core.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append(make([]core.Artifact, 0, len(m.artifacts)), m.artifacts...), nil
}

func (m *MemoryRepository) SaveArtifacts(_ context.Context, artifacts []core.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beforeSave(CollectionArtifacts); err != nil {
		return err
	}
	m.artifacts = append(make([]core.Artifact, 0, len(artifacts)), artifacts...)
	return nil
}

func (m *MemoryRepository) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *MemoryRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// beforeSave must be called with mu held
func (m *MemoryRepository) beforeSave(collection string) error {
	m.saves[collection]++
	if m.closed {
		return ErrClosed
	}
	return m.saveErrs[collection]
}

var _ CaseRepository = (*MemoryRepository)(nil)
