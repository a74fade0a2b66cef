package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/seantiz/bulkq/internal/integrity"
	"github.com/seantiz/bulkq/internal/model"
	"github.com/seantiz/bulkq/internal/remote"
	"github.com/seantiz/bulkq/internal/store"
)

const stageDownload = "download"

// download fetches and verifies the result of the oldest due entry whose
// remote processing is done.
func (e *Engine) download(ctx context.Context, c *cycle) error {
	entries, err := e.candidates(ctx, c, model.StageReadyToDownload)
	if err != nil {
		return err
	}

	for _, en := range entries {
		if !e.opts.Download.Due(c.now, en.LastAttempt(), en.DownloadRetryCount) {
			continue
		}
		ok, err := e.claim(ctx, c, en)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		return e.downloadEntry(ctx, c, en)
	}
	return nil
}

func (e *Engine) downloadEntry(ctx context.Context, c *cycle, en *model.WorkEntry) error {
	log := e.entryLogger(en).With("remote_result_id", en.RemoteResultID)

	attempt := c.now
	en.LastAttemptTimestamp = &attempt

	start := time.Now()
	content, err := e.fetch(ctx, en.RemoteResultID)
	e.observeRemote("download", start)

	b := store.NewBatch()
	switch {
	case err != nil && remote.IsFatal(err):
		b.Delete(en)
		e.countAttempt(stageDownload, outcomeFatal)
		e.countDelete(reasonFatal)
		log.Warn("result unavailable, removing entry", "error", err, "code", remote.ErrorCode(err))
		c.result.DownloadFailed++
		c.result.Deleted++

	case err != nil:
		en.DownloadRetryCount++
		en.Unlock()
		b.Update(en)
		e.countAttempt(stageDownload, outcomeRetry)
		log.Warn("download failed", "error", err, "code", remote.ErrorCode(err), "download_retry_count", en.DownloadRetryCount)
		c.result.DownloadFailed++

	default:
		en.Content = content
		en.DownloadRetryCount = 0
		en.Payload = nil
		en.Unlock()
		b.Update(en)
		e.countAttempt(stageDownload, outcomeSuccess)
		log.Info("result downloaded", "size", len(content))
		c.result.Downloaded++
	}

	return e.commit(ctx, b)
}

// fetch downloads a result and checks it against the declared checksum. The
// returned content is never nil on success.
func (e *Engine) fetch(ctx context.Context, resultID string) ([]byte, error) {
	body, declared, err := e.service.Download(ctx, resultID)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	content, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read result %s: %w", resultID, err)
	}
	if err := integrity.Verify(content, declared); err != nil {
		return nil, fmt.Errorf("verify result %s: %w", resultID, err)
	}
	if content == nil {
		content = []byte{}
	}
	return content, nil
}
