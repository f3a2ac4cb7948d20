package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sentinel/core"
	"sentinel/metrics"
	"sentinel/util/goroutine"

	"go.uber.org/zap"
)

// DefaultBufferSize is the number of recent events kept for observers
const DefaultBufferSize = 200

// AlertRecorder is the case store's dedup gate. RecordAlerts drops proposals
// whose (event id, rule name) pair already exists and returns what was
// stored; it must not publish change notifications.
type AlertRecorder interface {
	RecordAlerts(ctx context.Context, proposals []core.Alert) ([]core.Alert, error)
	HasAlertForEvent(eventID string) bool
}

// Publisher announces that observable state changed
type Publisher interface {
	Publish()
}

// EngineConfig holds engine tuning
type EngineConfig struct {
	BufferSize int
	// Source labels the ingested-events metric
	Source string
}

// Engine evaluates process events against a rule set, records alerts and
// keeps a bounded buffer of recent events. Ingests are serialized.
type Engine struct {
	mu       sync.Mutex
	rules    *RuleSet
	alerts   AlertRecorder
	bus      Publisher
	buffer   []core.ProcessEvent // oldest first
	capacity int
	source   string
	logger   *zap.SugaredLogger
}

// NewEngine wires an engine. bus may be nil when nobody observes changes.
func NewEngine(rules *RuleSet, alerts AlertRecorder, bus Publisher, cfg EngineConfig, logger *zap.SugaredLogger) (*Engine, error) {
	if rules == nil {
		return nil, fmt.Errorf("rule set is required")
	}
	if alerts == nil {
		return nil, fmt.Errorf("alert recorder is required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	capacity := cfg.BufferSize
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	source := cfg.Source
	if source == "" {
		source = "unknown"
	}
	return &Engine{
		rules:    rules,
		alerts:   alerts,
		bus:      bus,
		buffer:   make([]core.ProcessEvent, 0, capacity),
		capacity: capacity,
		source:   source,
		logger:   logger,
	}, nil
}

// Ingest validates and evaluates one event, records any new alerts, buffers
// the event and publishes exactly one change notification. When alerts
// cannot be persisted nothing is buffered or published and the
// PersistenceError is returned.
func (e *Engine) Ingest(ctx context.Context, event *core.ProcessEvent) error {
	if err := event.Validate(); err != nil {
		metrics.EventsRejected.WithLabelValues("validation").Inc()
		return err
	}
	if err := ctx.Err(); err != nil {
		metrics.EventsRejected.WithLabelValues("cancelled").Inc()
		return err
	}

	start := time.Now()
	recorded, size, err := e.ingestLocked(ctx, *event)
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EventsRejected.WithLabelValues("persistence").Inc()
		e.logger.Errorw("Event ingest failed",
			"event_id", event.ID,
			"error", err)
		return err
	}

	metrics.EventsIngested.WithLabelValues(e.source).Inc()
	metrics.EventBufferSize.Set(float64(size))
	for _, alert := range recorded {
		e.logger.Infow("Alert raised",
			"alert_id", alert.ID,
			"rule", alert.RuleTriggered,
			"severity", alert.Severity,
			"host", alert.Hostname,
			"event_id", alert.EventID)
	}

	if e.bus != nil {
		e.bus.Publish()
	}
	return nil
}

func (e *Engine) ingestLocked(ctx context.Context, event core.ProcessEvent) ([]core.Alert, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	proposals := e.evaluate(&event)

	var recorded []core.Alert
	if len(proposals) > 0 {
		var err error
		recorded, err = e.alerts.RecordAlerts(ctx, proposals)
		if err != nil {
			return nil, len(e.buffer), fmt.Errorf("failed to record alerts for event %s: %w", event.ID, err)
		}
	}

	if len(e.buffer) == e.capacity {
		copy(e.buffer, e.buffer[1:])
		e.buffer = e.buffer[:len(e.buffer)-1]
	}
	e.buffer = append(e.buffer, event)
	return recorded, len(e.buffer), nil
}

// evaluate runs every rule in order and returns alert proposals without ids
func (e *Engine) evaluate(event *core.ProcessEvent) []core.Alert {
	var proposals []core.Alert
	for i := range e.rules.rules {
		rule := &e.rules.rules[i]
		if rule.OnlyIfUnalerted && (len(proposals) > 0 || e.alerts.HasAlertForEvent(event.ID)) {
			continue
		}
		if !e.match(rule, event) {
			continue
		}
		proposals = append(proposals, core.NewAlertFromEvent("", event, rule.Name, rule.Severity, rule.Confidence))
	}
	return proposals
}

// match contains matcher faults: an error or panic counts as no match
func (e *Engine) match(rule *Rule, event *core.ProcessEvent) bool {
	var (
		matched bool
		err     error
	)
	if goroutine.SafeCall("rule:"+rule.Name, e.logger, func() {
		matched, err = rule.Matcher.Match(event)
	}) {
		metrics.RuleEvaluationErrors.WithLabelValues(rule.Name).Inc()
		return false
	}
	if err != nil {
		metrics.RuleEvaluationErrors.WithLabelValues(rule.Name).Inc()
		e.logger.Warnw("Rule evaluation failed",
			"rule", rule.Name,
			"event_id", event.ID,
			"timeout", errors.Is(err, ErrRegexTimeout),
			"error", err)
		return false
	}
	return matched
}

// ListEvents returns the buffered events, most recent first
func (e *Engine) ListEvents() []core.ProcessEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]core.ProcessEvent, len(e.buffer))
	for i, ev := range e.buffer {
		out[len(e.buffer)-1-i] = ev
	}
	return out
}

// BufferSize returns the number of buffered events
func (e *Engine) BufferSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffer)
}

// Capacity returns the buffer bound
func (e *Engine) Capacity() int {
	return e.capacity
}

// Rules returns metadata for the active rules in evaluation order
func (e *Engine) Rules() []RuleInfo {
	return e.rules.Info()
}
