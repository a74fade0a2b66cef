package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/bulkq/internal/model"
)

// ErrNotFound is returned when an entry is not found.
var ErrNotFound = errors.New("entry not found")

// Query filters entries. Zero-valued fields match everything. Results are
// always in insertion order.
type Query struct {
	Kind      model.Kind
	Region    string
	AccountID string
	Stage     model.Stage

	// UnlockedAt, when set, excludes entries holding a live lease at that time.
	UnlockedAt *time.Time

	Limit  int
	Offset int
}

// ScopeQuery returns a query matching every entry of the scope.
func ScopeQuery(s model.Scope) Query {
	return Query{Kind: s.Kind, Region: s.Region, AccountID: s.AccountID}
}

// Stats holds entry counts grouped by kind and stage.
type Stats struct {
	Total        int                                `json:"total"`
	CountByStage map[model.Kind]map[model.Stage]int `json:"count_by_stage"`
	LockedCount  int                                `json:"locked"`
}

// Store defines the persistence operations for work entries.
//
// Create is applied immediately. Updates and deletes are staged in a Batch
// and applied together by Commit in a single transaction.
type Store interface {
	Create(ctx context.Context, e *model.WorkEntry) error
	Get(ctx context.Context, id string) (*model.WorkEntry, error)
	Find(ctx context.Context, q Query) ([]*model.WorkEntry, error)

	// TryLock atomically takes a lease on the entry for owner until the given
	// time, succeeding only if no live lease is held at now. It returns false
	// when another owner holds the entry or the entry no longer exists.
	TryLock(ctx context.Context, id, owner string, until, now time.Time) (bool, error)

	Commit(ctx context.Context, b *Batch) error
	Stats(ctx context.Context, now time.Time) (*Stats, error)
	Close() error
}

type opKind int

const (
	opUpdate opKind = iota
	opDelete
)

type op struct {
	kind  opKind
	entry *model.WorkEntry
}

// Batch collects entry updates and deletes for a single Commit. Deleting the
// same entry twice records one delete, and updates staged after a delete of
// the same entry are dropped.
type Batch struct {
	ops     []op
	deleted map[string]bool
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{deleted: make(map[string]bool)}
}

// Update stages a full update of e.
func (b *Batch) Update(e *model.WorkEntry) {
	if b.deleted[e.ID] {
		return
	}
	b.ops = append(b.ops, op{kind: opUpdate, entry: e})
}

// Delete stages the removal of e. It reports whether the delete was newly
// staged.
func (b *Batch) Delete(e *model.WorkEntry) bool {
	if b.deleted == nil {
		b.deleted = make(map[string]bool)
	}
	if b.deleted[e.ID] {
		return false
	}
	b.deleted[e.ID] = true
	b.ops = append(b.ops, op{kind: opDelete, entry: e})
	return true
}

// Len returns the number of staged operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Deletes returns the number of staged deletes.
func (b *Batch) Deletes() int {
	return len(b.deleted)
}
