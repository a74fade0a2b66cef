package callback

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/bulkq/internal/model"
)

// ErrNoSink is returned when an event callback is due but no sink is set.
var ErrNoSink = errors.New("no event sink configured")

// Dispatcher delivers callback-ready entries.
type Dispatcher struct {
	registry *Registry
	sink     EventSink
}

// NewDispatcher creates a dispatcher. Either argument may be nil; entries
// needing the missing half fail to dispatch.
func NewDispatcher(registry *Registry, sink EventSink) *Dispatcher {
	return &Dispatcher{registry: registry, sink: sink}
}

// Dispatch delivers the entry's content through its callback.
func (d *Dispatcher) Dispatch(ctx context.Context, e *model.WorkEntry) error {
	if e.Callback != nil && e.Callback.Kind == model.CallbackMethod {
		if d.registry == nil {
			return fmt.Errorf("resolve callback %q: %w", e.Callback.Key, ErrUnknownCallback)
		}
		fn, err := d.registry.Resolve(e.Callback.Key)
		if err != nil {
			return fmt.Errorf("resolve callback: %w", err)
		}
		if err := fn(ctx, e.Content, e.Callback.Payload); err != nil {
			return fmt.Errorf("invoke callback %q: %w", e.Callback.Key, err)
		}
		return nil
	}

	if d.sink == nil {
		return ErrNoSink
	}
	if err := d.sink.Handle(ctx, EventFromEntry(e)); err != nil {
		return fmt.Errorf("raise event: %w", err)
	}
	return nil
}
