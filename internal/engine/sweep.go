package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/seantiz/bulkq/internal/model"
	"github.com/seantiz/bulkq/internal/store"
)

// expiryReason returns why en must be removed, or "" if it may stay.
func (e *Engine) expiryReason(en *model.WorkEntry, now time.Time) string {
	switch {
	case en.RemoteRequestID == "" && e.opts.Submission.Exhausted(en.SubmissionRetryCount):
		return reasonSubmissionExhausted
	case e.opts.Download.Exhausted(en.DownloadRetryCount):
		return reasonDownloadExhausted
	case e.opts.Callback.Exhausted(en.CallbackRetryCount):
		return reasonCallbackExhausted
	case e.opts.Processing.Exhausted(en.ProcessingRetryCount):
		return reasonProcessingExhausted
	case now.Sub(en.DateCreated) > e.opts.ExpirationWindow:
		return reasonExpired
	}
	return ""
}

// sweep deletes every entry of the scope that ran out of retries or outlived
// the expiration window, in one commit.
func (e *Engine) sweep(ctx context.Context, c *cycle) error {
	entries, err := e.store.Find(ctx, store.ScopeQuery(e.scope))
	if err != nil {
		return fmt.Errorf("list scope entries: %w", err)
	}

	b := store.NewBatch()
	reasons := make(map[string]int)
	for _, en := range entries {
		reason := e.expiryReason(en, c.now)
		if reason == "" || !b.Delete(en) {
			continue
		}
		c.touched[en.ID] = true
		reasons[reason]++
		e.entryLogger(en).Warn("removing entry",
			"reason", reason,
			"submission_retry_count", en.SubmissionRetryCount,
			"processing_retry_count", en.ProcessingRetryCount,
			"download_retry_count", en.DownloadRetryCount,
			"callback_retry_count", en.CallbackRetryCount,
			"date_created", en.DateCreated,
		)
	}
	if b.Len() == 0 {
		return nil
	}

	if err := e.commit(ctx, b); err != nil {
		return err
	}
	for reason, n := range reasons {
		entriesDeletedTotal.WithLabelValues(string(e.scope.Kind), reason).Add(float64(n))
	}
	c.result.Swept += b.Deletes()
	c.result.Deleted += b.Deletes()
	return nil
}
