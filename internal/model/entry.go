package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies which pipeline owns an entry.
type Kind string

// Pipeline kinds.
const (
	// KindReport is a request that makes the remote side generate a report.
	KindReport Kind = "report"
	// KindFeed is content submitted to the remote side for processing.
	KindFeed Kind = "feed"
)

// Valid reports whether k is a known pipeline kind.
func (k Kind) Valid() bool {
	return k == KindReport || k == KindFeed
}

// Stage is the lifecycle phase derived from an entry's fields.
type Stage string

// Entry stages, in pipeline order.
const (
	StageReadyToSubmit    Stage = "ready_to_submit"
	StageAwaitingResult   Stage = "awaiting_result"
	StageReadyToDownload  Stage = "ready_to_download"
	StageReadyForCallback Stage = "ready_for_callback"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	StageReadyToSubmit,
	StageAwaitingResult,
	StageReadyToDownload,
	StageReadyForCallback,
}

// RemoteStatus is the canonical processing status reported by the remote
// service. Raw wire statuses are mapped onto this set per pipeline kind.
type RemoteStatus string

// Remote processing statuses. StatusNone means no status has been observed
// since the last submission.
const (
	StatusNone               RemoteStatus = ""
	StatusDone               RemoteStatus = "done"
	StatusDoneNoData         RemoteStatus = "done_no_data"
	StatusAwaitingAsyncReply RemoteStatus = "awaiting_async_reply"
	StatusInProgress         RemoteStatus = "in_progress"
	StatusInSafetyNet        RemoteStatus = "in_safety_net"
	StatusSubmitted          RemoteStatus = "submitted"
	StatusUnconfirmed        RemoteStatus = "unconfirmed"
	StatusCancelled          RemoteStatus = "cancelled"
	StatusUnknown            RemoteStatus = "unknown"
)

// Pending reports whether s means the remote side is still working.
func (s RemoteStatus) Pending() bool {
	switch s {
	case StatusAwaitingAsyncReply, StatusInProgress, StatusInSafetyNet, StatusSubmitted, StatusUnconfirmed:
		return true
	}
	return false
}

// CallbackKind selects how a downloaded result is handed back to the host.
type CallbackKind string

// Callback kinds.
const (
	CallbackEvent  CallbackKind = "event"
	CallbackMethod CallbackKind = "method"
)

// Callback describes how a result is delivered. A method callback names a
// function the host registered under Key and carries the JSON payload passed
// to it. An event callback raises an event carrying Context.
type Callback struct {
	Kind    CallbackKind      `json:"kind"`
	Key     string            `json:"key,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty"`
	Context map[string]string `json:"context,omitempty"`
}

// MethodCallback builds a method callback, serializing data as its payload.
func MethodCallback(key string, data any) (*Callback, error) {
	if data == nil {
		return &Callback{Kind: CallbackMethod, Key: key}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal callback payload: %w", err)
	}
	return &Callback{Kind: CallbackMethod, Key: key, Payload: raw}, nil
}

// EventCallback builds an event callback carrying the given context.
func EventCallback(ctx map[string]string) *Callback {
	return &Callback{Kind: CallbackEvent, Context: ctx}
}

// Scope identifies one logical queue: a region and account pair within a
// pipeline kind.
type Scope struct {
	Kind      Kind   `json:"kind"`
	Region    string `json:"region"`
	AccountID string `json:"account_id"`
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s/%s", s.Kind, s.Region, s.AccountID)
}

// WorkEntry is a persisted unit of asynchronous work tracked through its
// lifecycle.
type WorkEntry struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Region    string `json:"region"`
	AccountID string `json:"account_id"`

	WorkType        string            `json:"work_type"`
	Payload         []byte            `json:"payload,omitempty"`
	ScopeParameters map[string]string `json:"scope_parameters,omitempty"`
	InstanceID      string            `json:"instance_id,omitempty"`

	RemoteRequestID      string `json:"remote_request_id,omitempty"`
	SubmissionRetryCount int    `json:"submission_retry_count"`

	RemoteResultID        string       `json:"remote_result_id,omitempty"`
	LastKnownRemoteStatus RemoteStatus `json:"last_known_remote_status,omitempty"`
	ProcessingRetryCount  int          `json:"processing_retry_count"`

	Content            []byte `json:"-"`
	DownloadRetryCount int    `json:"download_retry_count"`

	Callback           *Callback `json:"callback,omitempty"`
	CallbackRetryCount int       `json:"callback_retry_count"`

	IsLocked             bool       `json:"is_locked"`
	LockOwner            string     `json:"lock_owner,omitempty"`
	LockExpiresAt        *time.Time `json:"lock_expires_at,omitempty"`
	LastAttemptTimestamp *time.Time `json:"last_attempt_at,omitempty"`
	DateCreated          time.Time  `json:"date_created"`
}

// Scope returns the queue scope the entry belongs to.
func (e *WorkEntry) Scope() Scope {
	return Scope{Kind: e.Kind, Region: e.Region, AccountID: e.AccountID}
}

// Stage derives the entry's lifecycle stage from its fields.
func (e *WorkEntry) Stage() Stage {
	switch {
	case e.RemoteRequestID == "":
		return StageReadyToSubmit
	case e.Content != nil || e.LastKnownRemoteStatus == StatusDoneNoData:
		return StageReadyForCallback
	case e.LastKnownRemoteStatus == StatusDone:
		return StageReadyToDownload
	default:
		return StageAwaitingResult
	}
}

// LockHeld reports whether a live lease is held on the entry at now. An
// expired lease does not count.
func (e *WorkEntry) LockHeld(now time.Time) bool {
	if !e.IsLocked {
		return false
	}
	return e.LockExpiresAt == nil || e.LockExpiresAt.After(now)
}

// Unlock clears the lease fields. The change is persisted with the next
// update of the entry.
func (e *WorkEntry) Unlock() {
	e.IsLocked = false
	e.LockOwner = ""
	e.LockExpiresAt = nil
}

// LastAttempt returns the last attempt time, or the zero time if the entry has
// never been attempted.
func (e *WorkEntry) LastAttempt() time.Time {
	if e.LastAttemptTimestamp == nil {
		return time.Time{}
	}
	return *e.LastAttemptTimestamp
}

// Describe returns a short identity string for log messages.
func (e *WorkEntry) Describe() string {
	return fmt.Sprintf("[%s %s/%s %s id:%s]", e.Kind, e.Region, e.AccountID, e.WorkType, e.ID)
}
