package detect

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"sentinel/core"
)

// memoryRecorder is an AlertRecorder for engine tests
type memoryRecorder struct {
	mu      sync.Mutex
	alerts  []core.Alert
	seen    map[string]bool
	byEvent map[string]int
	nextID  int
	failErr error
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{
		seen:    make(map[string]bool),
		byEvent: make(map[string]int),
	}
}

func (r *memoryRecorder) RecordAlerts(_ context.Context, proposals []core.Alert) ([]core.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	var stored []core.Alert
	for _, p := range proposals {
		key := p.EventID + "|" + p.RuleTriggered
		if r.seen[key] {
			continue
		}
		r.nextID++
		p.ID = fmt.Sprintf("AL-%d", r.nextID)
		r.seen[key] = true
		r.byEvent[p.EventID]++
		r.alerts = append(r.alerts, p)
		stored = append(stored, p)
	}
	return stored, nil
}

func (r *memoryRecorder) HasAlertForEvent(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byEvent[eventID] > 0
}

func (r *memoryRecorder) all() []core.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

func (r *memoryRecorder) failWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

type countingPublisher struct {
	n int32
}

func (p *countingPublisher) Publish() {
	atomic.AddInt32(&p.n, 1)
}

func (p *countingPublisher) count() int {
	return int(atomic.LoadInt32(&p.n))
}
