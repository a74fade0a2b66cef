package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownCallback is returned when no method is registered under a key.
var ErrUnknownCallback = errors.New("unknown callback")

// MethodFunc receives a downloaded result and the raw payload stored with
// the entry when it was queued.
type MethodFunc func(ctx context.Context, content []byte, payload json.RawMessage) error

// Registry holds the method callbacks the host can name when queueing work.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]MethodFunc
}

// NewRegistry creates an empty callback registry.
func NewRegistry() *Registry {
	return &Registry{
		methods: make(map[string]MethodFunc),
	}
}

// Register adds a method under the given key, replacing any previous one.
func (r *Registry) Register(key string, fn MethodFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[key] = fn
}

// RegisterFunc registers a method whose payload is decoded into T before the
// call. An empty payload yields the zero T.
func RegisterFunc[T any](r *Registry, key string, fn func(ctx context.Context, content []byte, data T) error) {
	r.Register(key, func(ctx context.Context, content []byte, payload json.RawMessage) error {
		var data T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &data); err != nil {
				return fmt.Errorf("decode payload for %q: %w", key, err)
			}
		}
		return fn(ctx, content, data)
	})
}

// Resolve returns the method registered under key.
func (r *Registry) Resolve(key string) (MethodFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.methods[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCallback, key)
	}
	return fn, nil
}

// Has reports whether a method is registered under key.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.methods[key]
	return ok
}

// Keys returns the registered keys, sorted for a stable API response.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.methods))
	for k := range r.methods {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
