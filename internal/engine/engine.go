package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/bulkq/internal/callback"
	"github.com/seantiz/bulkq/internal/model"
	"github.com/seantiz/bulkq/internal/remote"
	"github.com/seantiz/bulkq/internal/retry"
	"github.com/seantiz/bulkq/internal/store"
	"github.com/seantiz/bulkq/internal/tracing"
)

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultLockTTL          = 5 * time.Minute
	DefaultExpirationWindow = 3 * 24 * time.Hour
)

// ErrInvalidEntry is returned by Queue when required data is missing.
// Nothing is persisted.
var ErrInvalidEntry = errors.New("invalid entry")

// Options configures an Engine.
type Options struct {
	Submission retry.Policy
	Processing retry.Policy
	Download   retry.Policy
	Callback   retry.Policy

	// ExpirationWindow bounds an entry's age regardless of its retry counters.
	ExpirationWindow time.Duration

	// LockTTL is how long a lease taken before a remote call stays live. It
	// must exceed the longest remote call.
	LockTTL time.Duration

	// InstanceID identifies this host. Queued entries record it.
	InstanceID string

	// RestrictCallbacksToOrigin limits callback dispatch to entries queued by
	// this instance.
	RestrictCallbacksToOrigin bool

	// Now overrides the clock. It defaults to time.Now in UTC.
	Now func() time.Time
}

// Workflow binds an engine to one scope and its remote service.
type Workflow struct {
	Scope   model.Scope
	Service remote.Service

	// Vocabulary maps raw statuses. It defaults to the scope kind's vocabulary.
	Vocabulary remote.Vocabulary
}

// Engine runs poll cycles for one scope.
type Engine struct {
	scope      model.Scope
	service    remote.Service
	vocab      remote.Vocabulary
	store      store.Store
	dispatcher *callback.Dispatcher
	opts       Options
	owner      string
	logger     *slog.Logger

	// mu serializes cycles of this engine.
	mu sync.Mutex
}

// New creates an engine for the workflow's scope.
func New(wf Workflow, s store.Store, d *callback.Dispatcher, opts Options, logger *slog.Logger) *Engine {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.ExpirationWindow <= 0 {
		opts.ExpirationWindow = DefaultExpirationWindow
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if d == nil {
		d = callback.NewDispatcher(nil, nil)
	}
	vocab := wf.Vocabulary
	if vocab == nil {
		vocab = remote.VocabularyFor(wf.Scope.Kind)
	}

	return &Engine{
		scope:      wf.Scope,
		service:    wf.Service,
		vocab:      vocab,
		store:      s,
		dispatcher: d,
		opts:       opts,
		owner:      opts.InstanceID + "/" + model.NewID(),
		logger: logger.With(
			"kind", string(wf.Scope.Kind),
			"region", wf.Scope.Region,
			"account_id", wf.Scope.AccountID,
		),
	}
}

// Scope returns the scope this engine serves.
func (e *Engine) Scope() model.Scope {
	return e.scope
}

// QueueRequest describes new work.
type QueueRequest struct {
	WorkType        string
	Payload         []byte
	ScopeParameters map[string]string

	// Callback selects delivery. Nil means an event without context.
	Callback *model.Callback
}

// Validate reports missing required data as an error wrapping
// ErrInvalidEntry.
func (r QueueRequest) Validate(kind model.Kind) error {
	if r.WorkType == "" {
		return fmt.Errorf("%w: work_type is required", ErrInvalidEntry)
	}
	if kind == model.KindFeed && len(r.Payload) == 0 {
		return fmt.Errorf("%w: payload is required for feeds", ErrInvalidEntry)
	}
	if cb := r.Callback; cb != nil {
		switch cb.Kind {
		case model.CallbackEvent:
		case model.CallbackMethod:
			if cb.Key == "" {
				return fmt.Errorf("%w: callback.key is required for method callbacks", ErrInvalidEntry)
			}
			if len(cb.Payload) == 0 {
				return fmt.Errorf("%w: callback.payload is required for method callbacks", ErrInvalidEntry)
			}
		default:
			return fmt.Errorf("%w: unknown callback kind %q", ErrInvalidEntry, cb.Kind)
		}
	}
	return nil
}

// Queue validates and stores new work. The entry starts ready to submit with
// all counters at zero.
func (e *Engine) Queue(ctx context.Context, req QueueRequest) (*model.WorkEntry, error) {
	if err := req.Validate(e.scope.Kind); err != nil {
		return nil, err
	}

	entry := &model.WorkEntry{
		ID:              model.NewID(),
		Kind:            e.scope.Kind,
		Region:          e.scope.Region,
		AccountID:       e.scope.AccountID,
		WorkType:        req.WorkType,
		Payload:         req.Payload,
		ScopeParameters: req.ScopeParameters,
		InstanceID:      e.opts.InstanceID,
		Callback:        req.Callback,
		DateCreated:     e.opts.Now(),
	}
	if err := e.store.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("queue entry: %w", err)
	}

	entriesQueuedTotal.WithLabelValues(string(e.scope.Kind)).Inc()
	e.logger.Info("entry queued", "entry_id", entry.ID, "work_type", entry.WorkType)
	return entry, nil
}

// PollResult summarizes one cycle.
type PollResult struct {
	Scope          model.Scope `json:"scope"`
	Swept          int         `json:"swept"`
	Submitted      int         `json:"submitted"`
	SubmitFailed   int         `json:"submit_failed"`
	StatusesPolled int         `json:"statuses_polled"`
	Downloaded     int         `json:"downloaded"`
	DownloadFailed int         `json:"download_failed"`
	Dispatched     int         `json:"dispatched"`
	DispatchFailed int         `json:"dispatch_failed"`
	Deleted        int         `json:"deleted"`
	LockConflicts  int         `json:"lock_conflicts"`

	// AbortedAt names the step whose store failure ended the cycle.
	AbortedAt string `json:"aborted_at,omitempty"`
}

// Aborted reports whether a store failure cut the cycle short.
func (r PollResult) Aborted() bool {
	return r.AbortedAt != ""
}

// cycle is the state of one Poll call.
type cycle struct {
	now time.Time

	// touched holds entries that already went through a step this cycle.
	touched map[string]bool
	result  PollResult
}

type step struct {
	name string
	run  func(ctx context.Context, c *cycle) error
}

// Poll runs one cycle. It never returns an error: remote failures are
// recorded on the entries and a store failure ends the cycle early, logged
// and reported in the result.
func (e *Engine) Poll(ctx context.Context) PollResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	ctx, span := tracing.StartCycleSpan(ctx, e.scope)

	c := &cycle{
		now:     e.opts.Now(),
		touched: make(map[string]bool),
		result:  PollResult{Scope: e.scope},
	}

	steps := []step{
		{"cleanup", e.sweep},
		{"submit", e.submit},
		{"poll_statuses", e.pollStatuses},
		{"download", e.download},
		{"callback", e.deliver},
	}

	var err error
	for _, s := range steps {
		if err = s.run(ctx, c); err != nil {
			c.result.AbortedAt = s.name
			pollCyclesAbortedTotal.WithLabelValues(string(e.scope.Kind)).Inc()
			e.logger.Error("poll cycle aborted", "step", s.name, "error", err)
			break
		}
	}

	tracing.End(span, err)
	pollCycleDuration.WithLabelValues(string(e.scope.Kind)).Observe(time.Since(start).Seconds())
	return c.result
}

// entryLogger returns the logger annotated with the entry's identity.
func (e *Engine) entryLogger(en *model.WorkEntry) *slog.Logger {
	log := e.logger.With("entry_id", en.ID, "work_type", en.WorkType)
	if en.RemoteRequestID != "" {
		log = log.With("remote_request_id", en.RemoteRequestID)
	}
	return log
}

// candidates returns unlocked entries of the stage in queue order, excluding
// entries already handled this cycle.
func (e *Engine) candidates(ctx context.Context, c *cycle, stage model.Stage) ([]*model.WorkEntry, error) {
	q := store.ScopeQuery(e.scope)
	q.Stage = stage
	q.UnlockedAt = &c.now

	entries, err := e.store.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find %s entries: %w", stage, err)
	}

	out := entries[:0]
	for _, en := range entries {
		if !c.touched[en.ID] {
			out = append(out, en)
		}
	}
	return out, nil
}

// claim takes the lease on en. It returns false when another poller won.
func (e *Engine) claim(ctx context.Context, c *cycle, en *model.WorkEntry) (bool, error) {
	until := c.now.Add(e.opts.LockTTL)
	ok, err := e.store.TryLock(ctx, en.ID, e.owner, until, c.now)
	if err != nil {
		return false, fmt.Errorf("lock entry %s: %w", en.ID, err)
	}
	if !ok {
		c.result.LockConflicts++
		lockConflictsTotal.WithLabelValues(string(e.scope.Kind)).Inc()
		e.logger.Debug("entry held by another poller, skipping", "entry_id", en.ID)
		return false, nil
	}

	en.IsLocked = true
	en.LockOwner = e.owner
	en.LockExpiresAt = &until
	c.touched[en.ID] = true
	e.logger.Debug("entry locked", "entry_id", en.ID, "lock_expires_at", until)
	return true, nil
}

// commit applies b, wrapping failures for the cycle log.
func (e *Engine) commit(ctx context.Context, b *store.Batch) error {
	if err := e.store.Commit(ctx, b); err != nil {
		return fmt.Errorf("commit changes: %w", err)
	}
	return nil
}

func (e *Engine) observeRemote(op string, start time.Time) {
	remoteRequestDuration.WithLabelValues(string(e.scope.Kind), op).Observe(time.Since(start).Seconds())
}

func (e *Engine) countAttempt(stage, outcome string) {
	transitionsTotal.WithLabelValues(string(e.scope.Kind), stage, outcome).Inc()
}

func (e *Engine) countDelete(reason string) {
	entriesDeletedTotal.WithLabelValues(string(e.scope.Kind), reason).Inc()
}
