package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/seantiz/bulkq/internal/model"
	"github.com/seantiz/bulkq/internal/tracing"
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration

	// RequestsPerSecond throttles outgoing requests. Zero disables throttling.
	RequestsPerSecond float64
	Burst             int
}

// Compile-time interface satisfaction check.
var _ Service = (*HTTPClient)(nil)

// HTTPClient talks to the remote service over its JSON HTTP API.
type HTTPClient struct {
	client  *resty.Client
	scope   model.Scope
	limiter *rate.Limiter
}

type submitBody struct {
	SubmitRequest
	AccountID string `json:"account_id"`
	Region    string `json:"region"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

type statusBody struct {
	AccountID string   `json:"account_id"`
	IDs       []string `json:"ids"`
}

type statusResponse struct {
	Statuses []StatusInfo `json:"statuses"`
}

// NewHTTPClient creates a client bound to one scope.
func NewHTTPClient(cfg HTTPConfig, scope model.Scope) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &HTTPClient{
		client: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		scope: scope,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

func (c *HTTPClient) collection() string {
	return "/v1/" + string(c.scope.Kind) + "s"
}

func (c *HTTPClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// Submit posts a new submission.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (id string, err error) {
	ctx, span := tracing.StartRemoteSpan(ctx, "submit", c.scope)
	defer func() { tracing.End(span, err) }()

	if err := c.wait(ctx); err != nil {
		return "", err
	}

	var out submitResponse
	var apiErr Error
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-MD5", req.Checksum).
		SetBody(submitBody{SubmitRequest: req, AccountID: c.scope.AccountID, Region: c.scope.Region}).
		SetResult(&out).
		SetError(&apiErr).
		Post(c.collection())
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", req.WorkType, err)
	}
	if resp.IsError() {
		return "", remoteError(&apiErr, resp.StatusCode(), resp.String())
	}
	return out.RequestID, nil
}

// PollStatuses fetches the status of every id in one request.
func (c *HTTPClient) PollStatuses(ctx context.Context, ids []string) (infos []StatusInfo, err error) {
	ctx, span := tracing.StartRemoteSpan(ctx, "poll_statuses", c.scope)
	defer func() { tracing.End(span, err) }()

	if len(ids) == 0 {
		return nil, nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var out statusResponse
	var apiErr Error
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(statusBody{AccountID: c.scope.AccountID, IDs: ids}).
		SetResult(&out).
		SetError(&apiErr).
		Post(c.collection() + "/status")
	if err != nil {
		return nil, fmt.Errorf("poll statuses: %w", err)
	}
	if resp.IsError() {
		return nil, remoteError(&apiErr, resp.StatusCode(), resp.String())
	}
	return out.Statuses, nil
}

// Download opens the result body. The declared checksum comes from the
// Content-MD5 response header.
func (c *HTTPClient) Download(ctx context.Context, resultID string) (body io.ReadCloser, checksum string, err error) {
	ctx, span := tracing.StartRemoteSpan(ctx, "download", c.scope)
	defer func() { tracing.End(span, err) }()

	if err := c.wait(ctx); err != nil {
		return nil, "", err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(c.collection() + "/results/" + url.PathEscape(resultID))
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", resultID, err)
	}

	raw := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		defer raw.Close()
		data, _ := io.ReadAll(io.LimitReader(raw, 64<<10))
		var apiErr Error
		_ = json.Unmarshal(data, &apiErr)
		return nil, "", remoteError(&apiErr, resp.StatusCode(), string(data))
	}
	return raw, resp.Header().Get("Content-MD5"), nil
}

func remoteError(e *Error, status int, body string) *Error {
	out := &Error{Code: e.Code, Message: e.Message, StatusCode: status}
	if out.Message == "" {
		out.Message = body
	}
	return out
}
