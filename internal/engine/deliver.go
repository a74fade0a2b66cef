package engine

import (
	"context"

	"github.com/seantiz/bulkq/internal/model"
	"github.com/seantiz/bulkq/internal/store"
)

const stageCallback = "callback"

// deliver hands over the oldest due result and removes its entry.
func (e *Engine) deliver(ctx context.Context, c *cycle) error {
	entries, err := e.candidates(ctx, c, model.StageReadyForCallback)
	if err != nil {
		return err
	}

	for _, en := range entries {
		if e.opts.RestrictCallbacksToOrigin && en.InstanceID != e.opts.InstanceID {
			continue
		}
		if !e.opts.Callback.Due(c.now, en.LastAttempt(), en.CallbackRetryCount) {
			continue
		}
		ok, err := e.claim(ctx, c, en)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		return e.dispatchEntry(ctx, c, en)
	}
	return nil
}

func (e *Engine) dispatchEntry(ctx context.Context, c *cycle, en *model.WorkEntry) error {
	log := e.entryLogger(en)

	attempt := c.now
	en.LastAttemptTimestamp = &attempt

	b := store.NewBatch()
	if err := e.dispatcher.Dispatch(ctx, en); err != nil {
		en.CallbackRetryCount++
		en.Unlock()
		b.Update(en)
		e.countAttempt(stageCallback, outcomeRetry)
		log.Warn("callback failed", "error", err, "callback_retry_count", en.CallbackRetryCount)
		c.result.DispatchFailed++
		return e.commit(ctx, b)
	}

	b.Delete(en)
	e.countAttempt(stageCallback, outcomeSuccess)
	e.countDelete(reasonDelivered)
	log.Info("result delivered", "size", len(en.Content))
	c.result.Dispatched++
	c.result.Deleted++
	return e.commit(ctx, b)
}
