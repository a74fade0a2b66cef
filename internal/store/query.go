package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/bulkq/internal/model"
)

// entryColumns is the column list shared by every SELECT in both dialects.
const entryColumns = `id, kind, region, account_id, work_type, payload, scope_parameters, instance_id,
	remote_request_id, submission_retry_count, remote_result_id, last_remote_status,
	processing_retry_count, content, has_content, download_retry_count, callback,
	callback_retry_count, is_locked, lock_owner, lock_expires_at, last_attempt_at, created_at`

// dialect captures the differences between the SQL backends.
type dialect struct {
	placeholder func(n int) string
	timeArg     func(t time.Time) any
	// noLimit is the LIMIT clause required before a bare OFFSET, if any.
	noLimit string
}

// stageCondition returns the WHERE fragment selecting entries of the stage.
// It mirrors model.WorkEntry.Stage.
func stageCondition(s model.Stage) string {
	switch s {
	case model.StageReadyToSubmit:
		return "remote_request_id = ''"
	case model.StageReadyForCallback:
		return "remote_request_id <> '' AND (has_content = TRUE OR last_remote_status = 'done_no_data')"
	case model.StageReadyToDownload:
		return "remote_request_id <> '' AND has_content = FALSE AND last_remote_status = 'done'"
	case model.StageAwaitingResult:
		return "remote_request_id <> '' AND has_content = FALSE AND last_remote_status NOT IN ('done', 'done_no_data')"
	default:
		return ""
	}
}

// stageCase is a CASE expression deriving the stage name in SQL.
var stageCase = func() string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, s := range model.Stages {
		fmt.Fprintf(&b, " WHEN %s THEN '%s'", stageCondition(s), s)
	}
	b.WriteString(" END")
	return b.String()
}()

// buildWhere renders the WHERE clause and arguments for q.
func (d dialect) buildWhere(q Query) (string, []any) {
	var conds []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	if q.Kind != "" {
		conds = append(conds, "kind = "+next(string(q.Kind)))
	}
	if q.Region != "" {
		conds = append(conds, "region = "+next(q.Region))
	}
	if q.AccountID != "" {
		conds = append(conds, "account_id = "+next(q.AccountID))
	}
	if c := stageCondition(q.Stage); c != "" {
		conds = append(conds, "("+c+")")
	}
	if q.UnlockedAt != nil {
		conds = append(conds, "(is_locked = FALSE OR (lock_expires_at IS NOT NULL AND lock_expires_at <= "+next(d.timeArg(*q.UnlockedAt))+"))")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// buildFind renders the full SELECT for q.
func (d dialect) buildFind(q Query) (string, []any) {
	where, args := d.buildWhere(q)
	query := "SELECT " + entryColumns + " FROM entries" + where + " ORDER BY seq ASC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += " LIMIT " + d.placeholder(len(args))
	}
	if q.Offset > 0 {
		if q.Limit <= 0 && d.noLimit != "" {
			query += " " + d.noLimit
		}
		args = append(args, q.Offset)
		query += " OFFSET " + d.placeholder(len(args))
	}
	return query, args
}
