package engine

import (
	"context"
	"time"

	"github.com/seantiz/bulkq/internal/model"
	"github.com/seantiz/bulkq/internal/store"
)

const stageProcessing = "processing"

// pollStatuses asks the remote side about every awaiting entry in one call
// and applies the reported statuses.
func (e *Engine) pollStatuses(ctx context.Context, c *cycle) error {
	entries, err := e.candidates(ctx, c, model.StageAwaitingResult)
	if err != nil {
		return err
	}

	byRequest := make(map[string]*model.WorkEntry)
	var claimed []*model.WorkEntry
	for _, en := range entries {
		ok, err := e.claim(ctx, c, en)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		claimed = append(claimed, en)
		byRequest[en.RemoteRequestID] = en
	}
	if len(claimed) == 0 {
		return nil
	}

	ids := make([]string, len(claimed))
	for i, en := range claimed {
		ids[i] = en.RemoteRequestID
	}

	start := time.Now()
	infos, err := e.service.PollStatuses(ctx, ids)
	e.observeRemote("poll_statuses", start)

	b := store.NewBatch()
	if err != nil {
		e.logger.Warn("status poll failed", "error", err, "requests", len(ids))
		for _, en := range claimed {
			en.Unlock()
			b.Update(en)
		}
		return e.commit(ctx, b)
	}

	for _, info := range infos {
		en, ok := byRequest[info.RequestID]
		if !ok {
			continue
		}
		e.applyStatus(en, info.Status, info.ResultID)
		c.result.StatusesPolled++
	}
	for _, en := range claimed {
		en.Unlock()
		b.Update(en)
	}
	return e.commit(ctx, b)
}

// applyStatus moves en according to a reported raw status.
func (e *Engine) applyStatus(en *model.WorkEntry, raw, resultID string) {
	log := e.entryLogger(en)
	status := e.vocab.Map(raw)

	if status == model.StatusDone && resultID == "" {
		// Feed results are fetched by their submission id.
		resultID = en.RemoteRequestID
	}

	switch {
	case status == model.StatusDone:
		en.LastKnownRemoteStatus = status
		en.RemoteResultID = resultID
		en.ProcessingRetryCount = 0
		e.countAttempt(stageProcessing, outcomeSuccess)
		log.Info("remote processing done", "remote_result_id", resultID)

	case status == model.StatusDoneNoData:
		en.LastKnownRemoteStatus = status
		en.RemoteResultID = resultID
		en.ProcessingRetryCount = 0
		en.Content = []byte{}
		en.Payload = nil
		e.countAttempt(stageProcessing, outcomeSuccess)
		log.Info("remote processing done without data")

	case status.Pending():
		en.LastKnownRemoteStatus = status
		en.ProcessingRetryCount = 0
		log.Debug("remote processing pending", "status", raw)

	case status == model.StatusCancelled:
		en.LastKnownRemoteStatus = status
		en.RemoteRequestID = ""
		en.RemoteResultID = ""
		en.ProcessingRetryCount++
		e.countAttempt(stageProcessing, outcomeRetry)
		log.Warn("remote request cancelled, resubmitting", "processing_retry_count", en.ProcessingRetryCount)

	default:
		en.LastKnownRemoteStatus = model.StatusUnknown
		en.ProcessingRetryCount++
		e.countAttempt(stageProcessing, outcomeRetry)
		log.Warn("unexpected remote status", "status", raw, "remote_result_id", resultID, "processing_retry_count", en.ProcessingRetryCount)
	}
}
