// Package remote defines the contract with the remote work service that
// accepts submissions, reports processing status and serves results.
package remote

import (
	"context"
	"io"
)

// Service is the remote side of one queue scope. Implementations are bound
// to a single kind, region and account.
type Service interface {
	// Submit hands work to the remote side and returns the remote request id.
	// An empty id with a nil error means the submission was not accepted.
	Submit(ctx context.Context, req SubmitRequest) (string, error)

	// PollStatuses returns the current status of each requested id. Ids the
	// remote side does not report on are omitted.
	PollStatuses(ctx context.Context, ids []string) ([]StatusInfo, error)

	// Download opens the result stream and returns the checksum the remote
	// side declared for it. The caller closes the stream.
	Download(ctx context.Context, resultID string) (io.ReadCloser, string, error)
}

// SubmitRequest is one submission.
type SubmitRequest struct {
	WorkType   string            `json:"work_type"`
	Content    []byte            `json:"content,omitempty"`
	Checksum   string            `json:"content_md5,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// StatusInfo is the remote status of one request. Status is the raw wire
// value; a Vocabulary maps it to a model.RemoteStatus.
type StatusInfo struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	ResultID  string `json:"result_id,omitempty"`
}
