package callback

import (
	"context"
	"fmt"

	"github.com/seantiz/bulkq/internal/model"
)

// Event carries a downloaded result to the host.
type Event struct {
	EntryID   string            `json:"entry_id"`
	Kind      model.Kind        `json:"kind"`
	Content   []byte            `json:"-"`
	Size      int               `json:"size"`
	Region    string            `json:"region"`
	AccountID string            `json:"account_id"`
	ResultID  string            `json:"result_id"`
	WorkType  string            `json:"work_type"`
	Context   map[string]string `json:"context,omitempty"`
}

// EventFromEntry builds the event for a callback-ready entry.
func EventFromEntry(e *model.WorkEntry) Event {
	ev := Event{
		EntryID:   e.ID,
		Kind:      e.Kind,
		Content:   e.Content,
		Size:      len(e.Content),
		Region:    e.Region,
		AccountID: e.AccountID,
		ResultID:  e.RemoteResultID,
		WorkType:  e.WorkType,
	}
	if e.Callback != nil {
		ev.Context = e.Callback.Context
	}
	return ev
}

// EventSink consumes result events. A returned error leaves the entry in
// place for a later attempt.
type EventSink interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerSink adapts a function to EventSink.
type HandlerSink func(ctx context.Context, ev Event) error

// Handle calls f.
func (f HandlerSink) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// MultiSink delivers each event to its sinks in order and stops at the first
// failure, so sinks after a failing one see the event only once it is
// retried and succeeds. Put the sink that must accept the event first.
type MultiSink []EventSink

// Handle implements EventSink.
func (m MultiSink) Handle(ctx context.Context, ev Event) error {
	for _, s := range m {
		if err := s.Handle(ctx, ev); err != nil {
			return fmt.Errorf("deliver event %s: %w", ev.EntryID, err)
		}
	}
	return nil
}
