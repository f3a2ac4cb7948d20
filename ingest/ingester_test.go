package ingest

import (
	"context"
	"sync"

	"sentinel/core"
)

type recordingIngester struct {
	mu     sync.Mutex
	events []*core.ProcessEvent
	failOn map[string]error
}

func newRecordingIngester() *recordingIngester {
	return &recordingIngester{failOn: make(map[string]error)}
}

func (r *recordingIngester) Ingest(ctx context.Context, event *core.ProcessEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failOn[event.ID]; ok {
		return err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingIngester) Events() []*core.ProcessEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*core.ProcessEvent, len(r.events))
	copy(out, r.events)
	return out
}
