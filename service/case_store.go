package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sentinel/core"
	"sentinel/metrics"
	"sentinel/storage"

	"go.uber.org/zap"
)

// Publisher announces that case state changed
type Publisher interface {
	Publish()
}

// CaseStoreConfig holds case store settings
type CaseStoreConfig struct {
	// Analyst is recorded as the author of every note
	Analyst string
	// SeedNote is written when the persisted notes collection is empty.
	// Empty disables seeding.
	SeedNote string

	WriteTimeout time.Duration
	WriteRetries int
	RetryBackoff time.Duration
}

// AlertCounts summarizes alerts for dashboards
type AlertCounts struct {
	Total      int                      `json:"total"`
	Open       int                      `json:"open"`
	BySeverity map[core.Severity]int    `json:"by_severity"`
	ByStatus   map[core.AlertStatus]int `json:"by_status"`
}

// CaseStore owns alerts, analyst notes and artifacts. Collections are kept
// most recent first and every mutation is persisted before it becomes
// visible. One RWMutex guards all three collections and is held across the
// persistence write; notifications go out after it is released.
type CaseStore struct {
	mu            sync.RWMutex
	alerts        []core.Alert
	notes         []core.CaseNote
	artifacts     []core.Artifact
	alertPairs    map[string]struct{} // event id + rule name
	alertsByEvent map[string]int

	repo   storage.CaseRepository
	bus    Publisher
	cfg    CaseStoreConfig
	logger *zap.SugaredLogger

	now           func() time.Time
	newAlertID    core.IDGenerator
	newNoteID     core.IDGenerator
	newArtifactID core.IDGenerator
}

// Option customizes a CaseStore
type Option func(*CaseStore)

// WithClock overrides the time source for note and artifact timestamps
func WithClock(now func() time.Time) Option {
	return func(s *CaseStore) { s.now = now }
}

// WithIDGenerators overrides id generation. Nil generators keep the default.
func WithIDGenerators(alert, note, artifact core.IDGenerator) Option {
	return func(s *CaseStore) {
		if alert != nil {
			s.newAlertID = alert
		}
		if note != nil {
			s.newNoteID = note
		}
		if artifact != nil {
			s.newArtifactID = artifact
		}
	}
}

// OpenCaseStore loads the persisted collections and seeds the initial case
// note when none exist.
//
// ERRORS:
//   - load failures from the repository, wrapped
//   - *core.PersistenceError when the seed note cannot be saved
func OpenCaseStore(ctx context.Context, repo storage.CaseRepository, bus Publisher, cfg CaseStoreConfig, logger *zap.SugaredLogger, opts ...Option) (*CaseStore, error) {
	if repo == nil {
		return nil, fmt.Errorf("case repository is required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.WriteRetries < 0 {
		cfg.WriteRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}

	s := &CaseStore{
		alertPairs:    make(map[string]struct{}),
		alertsByEvent: make(map[string]int),
		repo:          repo,
		bus:           bus,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
		newAlertID:    core.NewAlertID,
		newNoteID:     core.NewNoteID,
		newArtifactID: core.NewArtifactID,
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.alerts, err = repo.LoadAlerts(ctx); err != nil {
		return nil, fmt.Errorf("failed to load alerts: %w", err)
	}
	if s.notes, err = repo.LoadNotes(ctx); err != nil {
		return nil, fmt.Errorf("failed to load case notes: %w", err)
	}
	if s.artifacts, err = repo.LoadArtifacts(ctx); err != nil {
		return nil, fmt.Errorf("failed to load artifacts: %w", err)
	}
	for i := range s.alerts {
		s.index(&s.alerts[i])
	}

	if len(s.notes) == 0 && strings.TrimSpace(cfg.SeedNote) != "" {
		seed := []core.CaseNote{{
			ID:        s.newNoteID(),
			Timestamp: s.now(),
			Author:    cfg.Analyst,
			Text:      cfg.SeedNote,
		}}
		if err := s.persist(ctx, storage.CollectionNotes, func(ctx context.Context) error {
			return repo.SaveNotes(ctx, seed)
		}); err != nil {
			return nil, err
		}
		s.notes = seed
		logger.Infow("Seeded case notes", "author", cfg.Analyst)
	}

	logger.Infow("Case store opened",
		"alerts", len(s.alerts),
		"notes", len(s.notes),
		"artifacts", len(s.artifacts))
	return s, nil
}

// RecordAlerts stores the proposals whose (event id, rule name) pair is new
// and returns them in proposal order. Duplicates are dropped silently. No
// change notification is published; the caller owns that.
func (s *CaseStore) RecordAlerts(ctx context.Context, proposals []core.Alert) ([]core.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]struct{}, len(proposals))
	recorded := make([]core.Alert, 0, len(proposals))
	for _, p := range proposals {
		key := pairKey(p.EventID, p.RuleTriggered)
		if _, dup := s.alertPairs[key]; dup {
			metrics.AlertsDeduplicated.Inc()
			continue
		}
		if _, dup := batch[key]; dup {
			metrics.AlertsDeduplicated.Inc()
			continue
		}
		batch[key] = struct{}{}
		if p.ID == "" {
			p.ID = s.newAlertID()
		}
		if p.Status == "" {
			p.Status = core.AlertStatusNew
		}
		recorded = append(recorded, p)
	}
	if len(recorded) == 0 {
		return nil, nil
	}

	next := make([]core.Alert, 0, len(s.alerts)+len(recorded))
	for i := len(recorded) - 1; i >= 0; i-- {
		next = append(next, recorded[i])
	}
	next = append(next, s.alerts...)

	if err := s.persist(ctx, storage.CollectionAlerts, func(ctx context.Context) error {
		return s.repo.SaveAlerts(ctx, next)
	}); err != nil {
		return nil, err
	}

	s.alerts = next
	for i := range recorded {
		s.index(&recorded[i])
		metrics.AlertsGenerated.WithLabelValues(string(recorded[i].Severity), recorded[i].RuleTriggered).Inc()
	}
	return recorded, nil
}

// HasAlertForEvent reports whether any alert references eventID
func (s *CaseStore) HasAlertForEvent(eventID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alertsByEvent[eventID] > 0
}

// AcknowledgeAlert moves a NEW alert to ACK. Unknown ids and alerts in any
// other status are left alone without error or notification.
func (s *CaseStore) AcknowledgeAlert(ctx context.Context, id string) error {
	changed, err := s.acknowledge(ctx, id)
	if err != nil {
		return err
	}
	if changed {
		s.publish()
	}
	return nil
}

func (s *CaseStore) acknowledge(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findAlert(id)
	if idx < 0 {
		s.logger.Debugw("Acknowledge ignored for unknown alert", "alert_id", id)
		return false, nil
	}
	if !s.alerts[idx].CanTransitionTo(core.AlertStatusAcknowledged) {
		return false, nil
	}

	next := make([]core.Alert, len(s.alerts))
	copy(next, s.alerts)
	if err := next[idx].TransitionTo(core.AlertStatusAcknowledged); err != nil {
		return false, err
	}

	if err := s.persist(ctx, storage.CollectionAlerts, func(ctx context.Context) error {
		return s.repo.SaveAlerts(ctx, next)
	}); err != nil {
		return false, err
	}

	s.alerts = next
	s.logger.Infow("Alert acknowledged",
		"alert_id", id,
		"rule", next[idx].RuleTriggered)
	return true, nil
}

// AddNote appends an analyst note authored by the configured analyst.
//
// ERRORS:
//   - *core.ValidationError when text is empty or whitespace
//   - *core.PersistenceError when the notes collection cannot be saved
func (s *CaseStore) AddNote(ctx context.Context, text string) (core.CaseNote, error) {
	if strings.TrimSpace(text) == "" {
		return core.CaseNote{}, core.NewValidationError("text", "cannot be empty")
	}

	note, err := s.addNote(ctx, text)
	if err != nil {
		return core.CaseNote{}, err
	}
	s.publish()
	return note, nil
}

func (s *CaseStore) addNote(ctx context.Context, text string) (core.CaseNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	note := core.CaseNote{
		ID:        s.newNoteID(),
		Timestamp: s.now(),
		Author:    s.cfg.Analyst,
		Text:      text,
	}
	next := make([]core.CaseNote, 0, len(s.notes)+1)
	next = append(next, note)
	next = append(next, s.notes...)

	if err := s.persist(ctx, storage.CollectionNotes, func(ctx context.Context) error {
		return s.repo.SaveNotes(ctx, next)
	}); err != nil {
		return core.CaseNote{}, err
	}
	s.notes = next
	return note, nil
}

// AddArtifact records a forensic artifact. Names need not be unique.
//
// ERRORS:
//   - *core.ValidationError when name is blank
//   - *core.PersistenceError when the artifacts collection cannot be saved
func (s *CaseStore) AddArtifact(ctx context.Context, name, artifactType string) (core.Artifact, error) {
	if strings.TrimSpace(name) == "" {
		return core.Artifact{}, core.NewValidationError("name", "cannot be empty")
	}

	artifact, err := s.addArtifact(ctx, name, artifactType)
	if err != nil {
		return core.Artifact{}, err
	}
	s.publish()
	return artifact, nil
}

func (s *CaseStore) addArtifact(ctx context.Context, name, artifactType string) (core.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	artifact := core.Artifact{
		ID:        s.newArtifactID(),
		Timestamp: s.now(),
		Name:      name,
		Type:      artifactType,
	}
	next := make([]core.Artifact, 0, len(s.artifacts)+1)
	next = append(next, artifact)
	next = append(next, s.artifacts...)

	if err := s.persist(ctx, storage.CollectionArtifacts, func(ctx context.Context) error {
		return s.repo.SaveArtifacts(ctx, next)
	}); err != nil {
		return core.Artifact{}, err
	}
	s.artifacts = next
	return artifact, nil
}

// GetAlert returns the alert with the given id or a *core.NotFoundError
func (s *CaseStore) GetAlert(id string) (core.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.findAlert(id)
	if idx < 0 {
		return core.Alert{}, core.NewNotFoundError("alert", id)
	}
	return s.alerts[idx], nil
}

// ListAlerts returns a snapshot, most recent first
func (s *CaseStore) ListAlerts() []core.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(make([]core.Alert, 0, len(s.alerts)), s.alerts...)
}

// FilterAlerts returns the alerts matching filters, most recent first
func (s *CaseStore) FilterAlerts(filters *core.AlertFilters) []core.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filters.Apply(s.alerts)
}

// ListNotes returns a snapshot, most recent first
func (s *CaseStore) ListNotes() []core.CaseNote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(make([]core.CaseNote, 0, len(s.notes)), s.notes...)
}

// ListArtifacts returns a snapshot, most recent first
func (s *CaseStore) ListArtifacts() []core.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(make([]core.Artifact, 0, len(s.artifacts)), s.artifacts...)
}

// AlertCounts tallies alerts by severity and status
func (s *CaseStore) AlertCounts() AlertCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := AlertCounts{
		Total:      len(s.alerts),
		BySeverity: make(map[core.Severity]int, len(core.AllSeverities)),
		ByStatus:   make(map[core.AlertStatus]int, 4),
	}
	for _, sev := range core.AllSeverities {
		counts.BySeverity[sev] = 0
	}
	for _, a := range s.alerts {
		counts.BySeverity[a.Severity]++
		counts.ByStatus[a.Status]++
		if a.Status == core.AlertStatusNew {
			counts.Open++
		}
	}
	return counts
}

// persist retries write with a per-attempt timeout. The final failure is
// counted and returned as a *core.PersistenceError.
func (s *CaseStore) persist(ctx context.Context, collection string, write func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.WriteRetries; attempt++ {
		if attempt > 0 {
			if waitErr := sleepContext(ctx, time.Duration(attempt)*s.cfg.RetryBackoff); waitErr != nil {
				err = fmt.Errorf("%w (last error: %v)", waitErr, err)
				break
			}
		}

		writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
		err = write(writeCtx)
		cancel()
		if err == nil {
			return nil
		}
		s.logger.Warnw("Case store write failed",
			"collection", collection,
			"attempt", attempt+1,
			"error", err)
	}

	metrics.PersistenceFailures.WithLabelValues(collection).Inc()
	s.logger.Errorw("Case store write abandoned",
		"collection", collection,
		"error", err)
	return core.NewPersistenceError(collection, "save", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *CaseStore) publish() {
	if s.bus != nil {
		s.bus.Publish()
	}
}

// findAlert must be called with mu held
func (s *CaseStore) findAlert(id string) int {
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			return i
		}
	}
	return -1
}

// index must be called with mu held
func (s *CaseStore) index(a *core.Alert) {
	s.alertPairs[pairKey(a.EventID, a.RuleTriggered)] = struct{}{}
	s.alertsByEvent[a.EventID]++
}

func pairKey(eventID, rule string) string {
	return eventID + "\x00" + rule
}
