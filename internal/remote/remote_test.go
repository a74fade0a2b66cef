package remote_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/bulkq/internal/integrity"
	"github.com/seantiz/bulkq/internal/model"
	"github.com/seantiz/bulkq/internal/remote"
	"github.com/seantiz/bulkq/internal/remote/remotetest"
)

func TestIsFatal(t *testing.T) {
	fatal := []string{
		"AccessToFeedProcessingResultDenied",
		"FeedCanceled",
		"FeedProcessingResultNoLongerAvailable",
		"InputDataError",
		"InvalidFeedType",
		"InvalidRequest",
	}
	for _, code := range fatal {
		assert.True(t, remote.IsFatal(&remote.Error{Code: code}), code)
		assert.True(t, remote.IsFatal(fmt.Errorf("wrapped: %w", &remote.Error{Code: code})), "wrapped "+code)
	}

	transient := []string{
		"ContentMD5Missing",
		"ContentMD5DoesNotMatch",
		"FeedProcessingResultNotReady",
		"InvalidFeedSubmissionId",
		"SomethingNobodyHasSeen",
		"",
	}
	for _, code := range transient {
		assert.False(t, remote.IsFatal(&remote.Error{Code: code}), code)
	}
	assert.False(t, remote.IsFatal(errors.New("connection reset")))
	assert.False(t, remote.IsFatal(nil))
}

func TestErrorCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", &remote.Error{Code: "InputDataError"})
	assert.Equal(t, "InputDataError", remote.ErrorCode(err))
	assert.Equal(t, "", remote.ErrorCode(errors.New("plain")))
}

func TestVocabularies(t *testing.T) {
	tests := []struct {
		kind model.Kind
		raw  string
		want model.RemoteStatus
	}{
		{model.KindFeed, "_DONE_", model.StatusDone},
		{model.KindFeed, "_IN_SAFETY_NET_", model.StatusInSafetyNet},
		{model.KindFeed, "_CANCELLED_", model.StatusCancelled},
		{model.KindFeed, "_DONE_NO_DATA_", model.StatusUnknown},
		{model.KindReport, "_DONE_NO_DATA_", model.StatusDoneNoData},
		{model.KindReport, "_SUBMITTED_", model.StatusSubmitted},
		{model.KindReport, "_WEIRD_", model.StatusUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, remote.VocabularyFor(tt.kind).Map(tt.raw), "%s %s", tt.kind, tt.raw)
	}
	assert.Equal(t, "_DONE_", remote.FeedVocabulary.Raw(model.StatusDone))
	assert.Equal(t, "", remote.FeedVocabulary.Raw(model.StatusDoneNoData))
}

func newHTTPClient(t *testing.T, kind model.Kind) (*remote.HTTPClient, *remotetest.Fake) {
	t.Helper()
	fake := remotetest.NewFake()
	srv := httptest.NewServer(remotetest.Handler(map[string]*remotetest.Fake{string(kind) + "s": fake}))
	t.Cleanup(srv.Close)

	scope := model.Scope{Kind: kind, Region: "eu", AccountID: "acct-1"}
	return remote.NewHTTPClient(remote.HTTPConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, scope), fake
}

func TestHTTPClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, fake := newHTTPClient(t, model.KindFeed)

	content := []byte("<feed/>")
	id, err := c.Submit(ctx, remote.SubmitRequest{
		WorkType:   "_POST_PRODUCT_DATA_",
		Content:    content,
		Checksum:   integrity.ChecksumBytes(content),
		Parameters: map[string]string{"marketplace": "m1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "R1", id)

	got := fake.Submitted()
	require.Len(t, got, 1)
	assert.Equal(t, content, got[0].Content)
	assert.Equal(t, "m1", got[0].Parameters["marketplace"])

	fake.SetStatus("R1", "_DONE_", "res-1")
	infos, err := c.PollStatuses(ctx, []string{"R1", "R9"})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, remote.StatusInfo{RequestID: "R1", Status: "_DONE_", ResultID: "res-1"}, infos[0])

	fake.SetResult("res-1", []byte("result-bytes"))
	body, declared, err := c.Download(ctx, "res-1")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "result-bytes", string(data))
	assert.NoError(t, integrity.Verify(data, declared))
}

func TestHTTPClientRemoteErrors(t *testing.T) {
	ctx := context.Background()
	c, fake := newHTTPClient(t, model.KindReport)

	fake.FailSubmit(&remote.Error{Code: "InvalidRequest", Message: "bad type", StatusCode: http.StatusBadRequest})
	_, err := c.Submit(ctx, remote.SubmitRequest{WorkType: "x"})
	require.Error(t, err)
	assert.True(t, remote.IsFatal(err))
	var re *remote.Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadRequest, re.StatusCode)
	assert.Equal(t, "bad type", re.Message)

	_, _, err = c.Download(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, remote.CodeResultNotReady, remote.ErrorCode(err))
	assert.False(t, remote.IsFatal(err))

	fake.FailPoll(errors.New("backend down"))
	_, err = c.PollStatuses(ctx, []string{"R1"})
	require.Error(t, err)
	assert.Equal(t, "InternalError", remote.ErrorCode(err))
}

func TestHTTPClientTransportErrorIsTransient(t *testing.T) {
	scope := model.Scope{Kind: model.KindFeed, Region: "eu", AccountID: "a"}
	c := remote.NewHTTPClient(remote.HTTPConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, scope)

	_, err := c.Submit(context.Background(), remote.SubmitRequest{WorkType: "x"})
	require.Error(t, err)
	assert.False(t, remote.IsFatal(err))
}

func TestHTTPClientPollNoIDs(t *testing.T) {
	c, fake := newHTTPClient(t, model.KindFeed)
	infos, err := c.PollStatuses(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, infos)
	assert.Empty(t, fake.Polls())
}

func TestHTTPClientRateLimitHonorsContext(t *testing.T) {
	scope := model.Scope{Kind: model.KindFeed, Region: "eu", AccountID: "a"}
	c := remote.NewHTTPClient(remote.HTTPConfig{BaseURL: "http://127.0.0.1:1", RequestsPerSecond: 0.001, Burst: 1}, scope)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Submit(ctx, remote.SubmitRequest{WorkType: "x"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "rate limit")
}
