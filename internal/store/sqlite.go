package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/bulkq/internal/model"

	_ "modernc.org/sqlite"
)

// Timestamps are stored as unix nanoseconds so lease expiry can be compared
// in SQL.
const createEntriesTable = `
CREATE TABLE IF NOT EXISTS entries (
    seq                    INTEGER PRIMARY KEY AUTOINCREMENT,
    id                     TEXT NOT NULL UNIQUE,
    kind                   TEXT NOT NULL,
    region                 TEXT NOT NULL,
    account_id             TEXT NOT NULL,
    work_type              TEXT NOT NULL,
    payload                BLOB,
    scope_parameters       TEXT,
    instance_id            TEXT NOT NULL DEFAULT '',
    remote_request_id      TEXT NOT NULL DEFAULT '',
    submission_retry_count INTEGER NOT NULL DEFAULT 0,
    remote_result_id       TEXT NOT NULL DEFAULT '',
    last_remote_status     TEXT NOT NULL DEFAULT '',
    processing_retry_count INTEGER NOT NULL DEFAULT 0,
    content                BLOB,
    has_content            INTEGER NOT NULL DEFAULT 0,
    download_retry_count   INTEGER NOT NULL DEFAULT 0,
    callback               TEXT,
    callback_retry_count   INTEGER NOT NULL DEFAULT 0,
    is_locked              INTEGER NOT NULL DEFAULT 0,
    lock_owner             TEXT NOT NULL DEFAULT '',
    lock_expires_at        INTEGER,
    last_attempt_at        INTEGER,
    created_at             INTEGER NOT NULL
)`

const createEntriesScopeIndex = `
CREATE INDEX IF NOT EXISTS entries_scope_idx ON entries (kind, region, account_id)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	timeArg:     func(t time.Time) any { return t.UnixNano() },
	noLimit:     "LIMIT -1",
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createEntriesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create entries table: %w", err)
	}
	if _, err := db.Exec(createEntriesScopeIndex); err != nil {
		db.Close()
		return nil, fmt.Errorf("create scope index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create inserts a new entry.
func (s *SQLiteStore) Create(ctx context.Context, e *model.WorkEntry) error {
	params, cb, err := encodeJSONColumns(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (
			id, kind, region, account_id, work_type, payload, scope_parameters, instance_id,
			remote_request_id, submission_retry_count, remote_result_id, last_remote_status,
			processing_retry_count, content, has_content, download_retry_count, callback,
			callback_retry_count, is_locked, lock_owner, lock_expires_at, last_attempt_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.Region, e.AccountID, e.WorkType, e.Payload, params, e.InstanceID,
		e.RemoteRequestID, e.SubmissionRetryCount, e.RemoteResultID, string(e.LastKnownRemoteStatus),
		e.ProcessingRetryCount, e.Content, e.Content != nil, e.DownloadRetryCount, cb,
		e.CallbackRetryCount, e.IsLocked, e.LockOwner, nanos(e.LockExpiresAt), nanos(e.LastAttemptTimestamp),
		e.DateCreated.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Get retrieves an entry by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.WorkEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	e, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// Find returns the entries matching q in insertion order.
func (s *SQLiteStore) Find(ctx context.Context, q Query) ([]*model.WorkEntry, error) {
	query, args := sqliteDialect.buildFind(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.WorkEntry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
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
func (s *SQLiteStore) TryLock(ctx context.Context, id, owner string, until, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE entries SET is_locked = 1, lock_owner = ?, lock_expires_at = ?
		WHERE id = ? AND (is_locked = 0 OR (lock_expires_at IS NOT NULL AND lock_expires_at <= ?))`,
		owner, until.UnixNano(), id, now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("lock entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// Commit applies the batch in a single transaction. Updates and deletes of
// entries that no longer exist are ignored.
func (s *SQLiteStore) Commit(ctx context.Context, b *Batch) error {
	if b == nil || b.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, o := range b.ops {
		switch o.kind {
		case opDelete:
			if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", o.entry.ID); err != nil {
				return fmt.Errorf("delete entry %s: %w", o.entry.ID, err)
			}
		case opUpdate:
			if err := s.updateTx(ctx, tx, o.entry); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) updateTx(ctx context.Context, tx *sql.Tx, e *model.WorkEntry) error {
	params, cb, err := encodeJSONColumns(e)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE entries SET
			work_type = ?, payload = ?, scope_parameters = ?, instance_id = ?,
			remote_request_id = ?, submission_retry_count = ?, remote_result_id = ?,
			last_remote_status = ?, processing_retry_count = ?, content = ?, has_content = ?,
			download_retry_count = ?, callback = ?, callback_retry_count = ?, is_locked = ?,
			lock_owner = ?, lock_expires_at = ?, last_attempt_at = ?
		WHERE id = ?`,
		e.WorkType, e.Payload, params, e.InstanceID,
		e.RemoteRequestID, e.SubmissionRetryCount, e.RemoteResultID,
		string(e.LastKnownRemoteStatus), e.ProcessingRetryCount, e.Content, e.Content != nil,
		e.DownloadRetryCount, cb, e.CallbackRetryCount, e.IsLocked,
		e.LockOwner, nanos(e.LockExpiresAt), nanos(e.LastAttemptTimestamp),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("update entry %s: %w", e.ID, err)
	}
	return nil
}

// Stats returns entry counts by kind and stage.
func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT kind, "+stageCase+" AS stage, COUNT(*) FROM entries GROUP BY kind, stage")
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := newStats()
	for rows.Next() {
		var kind, stage string
		var n int
		if err := rows.Scan(&kind, &stage, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.add(model.Kind(kind), model.Stage(stage), n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE is_locked = 1 AND (lock_expires_at IS NULL OR lock_expires_at > ?)",
		now.UnixNano(),
	).Scan(&stats.LockedCount)
	if err != nil {
		return nil, fmt.Errorf("count locked: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (*model.WorkEntry, error) {
	var (
		e           model.WorkEntry
		kind        string
		status      string
		params      sql.NullString
		cb          sql.NullString
		hasContent  bool
		lockExpires sql.NullInt64
		lastAttempt sql.NullInt64
		created     int64
	)
	err := row.Scan(
		&e.ID, &kind, &e.Region, &e.AccountID, &e.WorkType, &e.Payload, &params, &e.InstanceID,
		&e.RemoteRequestID, &e.SubmissionRetryCount, &e.RemoteResultID, &status,
		&e.ProcessingRetryCount, &e.Content, &hasContent, &e.DownloadRetryCount, &cb,
		&e.CallbackRetryCount, &e.IsLocked, &e.LockOwner, &lockExpires, &lastAttempt, &created,
	)
	if err != nil {
		return nil, err
	}
	e.Kind = model.Kind(kind)
	e.LastKnownRemoteStatus = model.RemoteStatus(status)
	e.DateCreated = time.Unix(0, created).UTC()
	if lockExpires.Valid {
		t := time.Unix(0, lockExpires.Int64).UTC()
		e.LockExpiresAt = &t
	}
	if lastAttempt.Valid {
		t := time.Unix(0, lastAttempt.Int64).UTC()
		e.LastAttemptTimestamp = &t
	}
	if err := decodeJSONColumns(&e, params.String, cb.String); err != nil {
		return nil, err
	}
	normalizeContent(&e, hasContent)
	return &e, nil
}

func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
