// Package remotetest provides a scriptable in-memory remote service for tests
// and local runs.
package remotetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/seantiz/bulkq/internal/integrity"
	"github.com/seantiz/bulkq/internal/remote"
)

type result struct {
	content  []byte
	checksum string
}

// Fake is an in-memory remote.Service. By default submissions get ids R1,
// R2, ... and stay unreported until a status is set. With AutoComplete set,
// each submission is immediately reported done with a generated result.
type Fake struct {
	mu sync.Mutex

	AutoComplete bool

	nextID       int
	submitErrs   []error
	emptySubmits int
	pollErrs     []error
	downloadErrs map[string][]error
	corrupt      map[string]int

	statuses map[string]remote.StatusInfo
	results  map[string]result

	submitted []remote.SubmitRequest
	polls     [][]string
	downloads []string
}

var _ remote.Service = (*Fake)(nil)

// NewFake returns an empty fake.
func NewFake() *Fake {
	return &Fake{
		downloadErrs: make(map[string][]error),
		corrupt:      make(map[string]int),
		statuses:     make(map[string]remote.StatusInfo),
		results:      make(map[string]result),
	}
}

// FailSubmit makes the next len(errs) submissions fail with errs in order.
func (f *Fake) FailSubmit(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErrs = append(f.submitErrs, errs...)
}

// EmptySubmits makes the next n submissions return an empty id.
func (f *Fake) EmptySubmits(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emptySubmits += n
}

// FailPoll makes the next len(errs) status polls fail.
func (f *Fake) FailPoll(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollErrs = append(f.pollErrs, errs...)
}

// FailDownload makes the next downloads of resultID fail with errs in order.
func (f *Fake) FailDownload(resultID string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadErrs[resultID] = append(f.downloadErrs[resultID], errs...)
}

// CorruptDownload makes the next n downloads of resultID declare a wrong
// checksum.
func (f *Fake) CorruptDownload(resultID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corrupt[resultID] += n
}

// SetStatus sets the raw status reported for requestID.
func (f *Fake) SetStatus(requestID, status, resultID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[requestID] = remote.StatusInfo{RequestID: requestID, Status: status, ResultID: resultID}
}

// SetResult stores downloadable content under resultID.
func (f *Fake) SetResult(resultID string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[resultID] = result{content: content, checksum: integrity.ChecksumBytes(content)}
}

// Submit implements remote.Service.
func (f *Fake) Submit(_ context.Context, req remote.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitted = append(f.submitted, req)
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		return "", err
	}
	if f.emptySubmits > 0 {
		f.emptySubmits--
		return "", nil
	}

	f.nextID++
	id := fmt.Sprintf("R%d", f.nextID)
	if f.AutoComplete {
		resultID := "res-" + id
		f.statuses[id] = remote.StatusInfo{RequestID: id, Status: "_DONE_", ResultID: resultID}
		content := fmt.Appendf(nil, "result of %s for %s", req.WorkType, id)
		f.results[resultID] = result{content: content, checksum: integrity.ChecksumBytes(content)}
	}
	return id, nil
}

// PollStatuses implements remote.Service.
func (f *Fake) PollStatuses(_ context.Context, ids []string) ([]remote.StatusInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.polls = append(f.polls, append([]string(nil), ids...))
	if len(f.pollErrs) > 0 {
		err := f.pollErrs[0]
		f.pollErrs = f.pollErrs[1:]
		return nil, err
	}

	var out []remote.StatusInfo
	for _, id := range ids {
		if s, ok := f.statuses[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// Download implements remote.Service.
func (f *Fake) Download(_ context.Context, resultID string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.downloads = append(f.downloads, resultID)
	if errs := f.downloadErrs[resultID]; len(errs) > 0 {
		f.downloadErrs[resultID] = errs[1:]
		return nil, "", errs[0]
	}
	r, ok := f.results[resultID]
	if !ok {
		return nil, "", &remote.Error{Code: remote.CodeResultNotReady, Message: "no result " + resultID}
	}
	checksum := r.checksum
	if f.corrupt[resultID] > 0 {
		f.corrupt[resultID]--
		checksum = integrity.ChecksumBytes(append([]byte("corrupt:"), r.content...))
	}
	return io.NopCloser(bytes.NewReader(r.content)), checksum, nil
}

// Submitted returns every submission received, failed ones included.
func (f *Fake) Submitted() []remote.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.SubmitRequest(nil), f.submitted...)
}

// Polls returns the id list of every status poll.
func (f *Fake) Polls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.polls...)
}

// Downloads returns the result id of every download attempt.
func (f *Fake) Downloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.downloads...)
}
