package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seantiz/bulkq/internal/model"
)

const createEntriesTablePg = `
CREATE TABLE IF NOT EXISTS entries (
    seq                    BIGSERIAL PRIMARY KEY,
    id                     TEXT NOT NULL UNIQUE,
    kind                   TEXT NOT NULL,
    region                 TEXT NOT NULL,
    account_id             TEXT NOT NULL,
    work_type              TEXT NOT NULL,
    payload                BYTEA,
    scope_parameters       TEXT,
    instance_id            TEXT NOT NULL DEFAULT '',
    remote_request_id      TEXT NOT NULL DEFAULT '',
    submission_retry_count INTEGER NOT NULL DEFAULT 0,
    remote_result_id       TEXT NOT NULL DEFAULT '',
    last_remote_status     TEXT NOT NULL DEFAULT '',
    processing_retry_count INTEGER NOT NULL DEFAULT 0,
    content                BYTEA,
    has_content            BOOLEAN NOT NULL DEFAULT FALSE,
    download_retry_count   INTEGER NOT NULL DEFAULT 0,
    callback               TEXT,
    callback_retry_count   INTEGER NOT NULL DEFAULT 0,
    is_locked              BOOLEAN NOT NULL DEFAULT FALSE,
    lock_owner             TEXT NOT NULL DEFAULT '',
    lock_expires_at        TIMESTAMPTZ,
    last_attempt_at        TIMESTAMPTZ,
    created_at             TIMESTAMPTZ NOT NULL
)`

var _ Store = (*PostgresStore)(nil)

var postgresDialect = dialect{
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	timeArg:     func(t time.Time) any { return t },
}

// PostgresStore implements Store using PostgreSQL, so several pollers on
// different hosts can share one queue.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn and runs migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createEntriesTablePg); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create entries table: %w", err)
	}
	if _, err := pool.Exec(ctx, createEntriesScopeIndex); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create scope index: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Create inserts a new entry.
func (s *PostgresStore) Create(ctx context.Context, e *model.WorkEntry) error {
	params, cb, err := encodeJSONColumns(e)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO entries (
			id, kind, region, account_id, work_type, payload, scope_parameters, instance_id,
			remote_request_id, submission_retry_count, remote_result_id, last_remote_status,
			processing_retry_count, content, has_content, download_retry_count, callback,
			callback_retry_count, is_locked, lock_owner, lock_expires_at, last_attempt_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		e.ID, string(e.Kind), e.Region, e.AccountID, e.WorkType, e.Payload, params, e.InstanceID,
		e.RemoteRequestID, e.SubmissionRetryCount, e.RemoteResultID, string(e.LastKnownRemoteStatus),
		e.ProcessingRetryCount, e.Content, e.Content != nil, e.DownloadRetryCount, cb,
		e.CallbackRetryCount, e.IsLocked, e.LockOwner, e.LockExpiresAt, e.LastAttemptTimestamp,
		e.DateCreated,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Get retrieves an entry by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.WorkEntry, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+entryColumns+" FROM entries WHERE id = $1", id)
	e, err := scanPostgresEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// Find returns the entries matching q in insertion order.
func (s *PostgresStore) Find(ctx context.Context, q Query) ([]*model.WorkEntry, error) {
	query, args := postgresDialect.buildFind(q)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.WorkEntry
	for rows.Next() {
		e, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// TryLock takes a lease on the entry with a conditional update.
func (s *PostgresStore) TryLock(ctx context.Context, id, owner string, until, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE entries SET is_locked = TRUE, lock_owner = $1, lock_expires_at = $2
		WHERE id = $3 AND (is_locked = FALSE OR (lock_expires_at IS NOT NULL AND lock_expires_at <= $4))`,
		owner, until, id, now,
	)
	if err != nil {
		return false, fmt.Errorf("lock entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Commit applies the batch in a single transaction. Updates and deletes of
// entries that no longer exist are ignored.
func (s *PostgresStore) Commit(ctx context.Context, b *Batch) error {
	if b == nil || b.Len() == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, o := range b.ops {
		switch o.kind {
		case opDelete:
			if _, err := tx.Exec(ctx, "DELETE FROM entries WHERE id = $1", o.entry.ID); err != nil {
				return fmt.Errorf("delete entry %s: %w", o.entry.ID, err)
			}
		case opUpdate:
			if err := updatePg(ctx, tx, o.entry); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func updatePg(ctx context.Context, tx pgx.Tx, e *model.WorkEntry) error {
	params, cb, err := encodeJSONColumns(e)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE entries SET
			work_type = $1, payload = $2, scope_parameters = $3, instance_id = $4,
			remote_request_id = $5, submission_retry_count = $6, remote_result_id = $7,
			last_remote_status = $8, processing_retry_count = $9, content = $10, has_content = $11,
			download_retry_count = $12, callback = $13, callback_retry_count = $14, is_locked = $15,
			lock_owner = $16, lock_expires_at = $17, last_attempt_at = $18
		WHERE id = $19`,
		e.WorkType, e.Payload, params, e.InstanceID,
		e.RemoteRequestID, e.SubmissionRetryCount, e.RemoteResultID,
		string(e.LastKnownRemoteStatus), e.ProcessingRetryCount, e.Content, e.Content != nil,
		e.DownloadRetryCount, cb, e.CallbackRetryCount, e.IsLocked,
		e.LockOwner, e.LockExpiresAt, e.LastAttemptTimestamp,
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("update entry %s: %w", e.ID, err)
	}
	return nil
}

// Stats returns entry counts by kind and stage.
func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT kind, "+stageCase+" AS stage, COUNT(*) FROM entries GROUP BY kind, stage")
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := newStats()
	for rows.Next() {
		var kind, stage string
		var n int64
		if err := rows.Scan(&kind, &stage, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.add(model.Kind(kind), model.Stage(stage), int(n))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}

	var locked int64
	err = s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM entries WHERE is_locked = TRUE AND (lock_expires_at IS NULL OR lock_expires_at > $1)",
		now,
	).Scan(&locked)
	if err != nil {
		return nil, fmt.Errorf("count locked: %w", err)
	}
	stats.LockedCount = int(locked)
	return stats, nil
}

func scanPostgresEntry(row pgx.Row) (*model.WorkEntry, error) {
	var (
		e          model.WorkEntry
		kind       string
		status     string
		params     *string
		cb         *string
		hasContent bool
	)
	err := row.Scan(
		&e.ID, &kind, &e.Region, &e.AccountID, &e.WorkType, &e.Payload, &params, &e.InstanceID,
		&e.RemoteRequestID, &e.SubmissionRetryCount, &e.RemoteResultID, &status,
		&e.ProcessingRetryCount, &e.Content, &hasContent, &e.DownloadRetryCount, &cb,
		&e.CallbackRetryCount, &e.IsLocked, &e.LockOwner, &e.LockExpiresAt, &e.LastAttemptTimestamp,
		&e.DateCreated,
	)
	if err != nil {
		return nil, err
	}
	e.Kind = model.Kind(kind)
	e.LastKnownRemoteStatus = model.RemoteStatus(status)
	e.DateCreated = e.DateCreated.UTC()
	var p, c string
	if params != nil {
		p = *params
	}
	if cb != nil {
		c = *cb
	}
	if err := decodeJSONColumns(&e, p, c); err != nil {
		return nil, err
	}
	normalizeContent(&e, hasContent)
	return &e, nil
}
