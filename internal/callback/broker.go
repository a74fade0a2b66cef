package callback

import (
	"context"
	"sync"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// AllKinds subscribes to events of every kind.
const AllKinds = ""

// Broker fans result events out to in-process subscribers. It is safe for
// concurrent use. Events carry metadata only; Content is stripped so slow
// subscribers do not pin large results in memory.
//
// Once closed, Subscribe returns a closed channel.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
	closed bool
}

type topic struct {
	subs   map[int]chan Event
	nextID int
}

var _ EventSink = (*Broker)(nil)

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
	}
}

// Subscribe returns a channel receiving events of the given kind (AllKinds
// for every kind) and an unsubscribe function.
func (b *Broker) Subscribe(kind string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	t, ok := b.topics[kind]
	if !ok {
		t = &topic{subs: make(map[int]chan Event)}
		b.topics[kind] = t
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
}

// Handle publishes the event. It never fails: events are dropped for
// subscribers whose buffers are full.
func (b *Broker) Handle(_ context.Context, ev Event) error {
	ev.Content = nil

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	for _, key := range []string{string(ev.Kind), AllKinds} {
		t, ok := b.topics[key]
		if !ok {
			continue
		}
		for _, ch := range t.subs {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return nil
}

// Close closes every subscriber channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, t := range b.topics {
		for id, ch := range t.subs {
			close(ch)
			delete(t.subs, id)
		}
	}
}
