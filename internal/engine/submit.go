package engine

import (
	"context"
	"time"

	"github.com/seantiz/bulkq/internal/integrity"
	"github.com/seantiz/bulkq/internal/model"
	"github.com/seantiz/bulkq/internal/remote"
	"github.com/seantiz/bulkq/internal/store"
)

const stageSubmit = "submit"

// submit sends the oldest due entry that is ready to submit.
func (e *Engine) submit(ctx context.Context, c *cycle) error {
	entries, err := e.candidates(ctx, c, model.StageReadyToSubmit)
	if err != nil {
		return err
	}

	for _, en := range entries {
		if !e.opts.Submission.Due(c.now, en.LastAttempt(), en.SubmissionRetryCount) {
			continue
		}
		ok, err := e.claim(ctx, c, en)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		return e.submitEntry(ctx, c, en)
	}
	return nil
}

func (e *Engine) submitEntry(ctx context.Context, c *cycle, en *model.WorkEntry) error {
	log := e.entryLogger(en)

	req := remote.SubmitRequest{
		WorkType:   en.WorkType,
		Content:    en.Payload,
		Parameters: en.ScopeParameters,
	}
	if len(en.Payload) > 0 {
		req.Checksum = integrity.ChecksumBytes(en.Payload)
	}

	attempt := c.now
	en.LastAttemptTimestamp = &attempt

	start := time.Now()
	id, err := e.service.Submit(ctx, req)
	e.observeRemote("submit", start)

	b := store.NewBatch()
	switch {
	case err != nil && remote.IsFatal(err):
		b.Delete(en)
		e.countAttempt(stageSubmit, outcomeFatal)
		e.countDelete(reasonFatal)
		log.Warn("submission rejected, removing entry", "error", err, "code", remote.ErrorCode(err))
		c.result.SubmitFailed++
		c.result.Deleted++

	case err != nil || id == "":
		en.SubmissionRetryCount++
		en.Unlock()
		b.Update(en)
		e.countAttempt(stageSubmit, outcomeRetry)
		if err == nil {
			log.Warn("submission returned no request id", "submission_retry_count", en.SubmissionRetryCount)
		} else {
			log.Warn("submission failed", "error", err, "code", remote.ErrorCode(err), "submission_retry_count", en.SubmissionRetryCount)
		}
		c.result.SubmitFailed++

	default:
		en.RemoteRequestID = id
		en.SubmissionRetryCount = 0
		en.RemoteResultID = ""
		en.LastKnownRemoteStatus = model.StatusNone
		en.Unlock()
		b.Update(en)
		e.countAttempt(stageSubmit, outcomeSuccess)
		log.Info("entry submitted", "remote_request_id", id)
		c.result.Submitted++
	}

	return e.commit(ctx, b)
}
