package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHealthzEndpoint(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Engines != 2 {
		t.Errorf("engines = %d, want 2", body.Engines)
	}
}

func TestReadyzEndpoint(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	srv.store.Close()

	resp, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after store close = %d, want 503", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "unavailable" {
		t.Errorf("status = %q, want unavailable", body.Status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Make a request to generate metrics.
	http.Get(ts.URL + "/healthz")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") && !strings.Contains(contentType, "text/openmetrics") {
		t.Errorf("Content-Type = %q, expected prometheus format", contentType)
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	body := string(bodyBytes)

	if !strings.Contains(body, "bulkq_http_requests_total") {
		t.Error("metrics output missing bulkq_http_requests_total")
	}
	if !strings.Contains(body, "bulkq_http_request_duration_seconds") {
		t.Error("metrics output missing bulkq_http_request_duration_seconds")
	}
}

func TestMetricsTrackEntriesAndKinds(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	queued := testutil.ToFloat64(entriesQueuedTotal.WithLabelValues("feed", "eu", "acct-1"))
	polls := testutil.ToFloat64(manualPollsTotal)

	resp := postJSON(t, ts.URL+"/v1/feed/entries", `{"region":"eu","account_id":"acct-1","work_type":"x","payload":"PGZlZWQvPg=="}`)
	resp.Body.Close()
	resp = postJSON(t, ts.URL+"/v1/bogus/entries", `{}`)
	resp.Body.Close()
	resp = postJSON(t, ts.URL+"/v1/poll", `{}`)
	resp.Body.Close()

	if got := testutil.ToFloat64(entriesQueuedTotal.WithLabelValues("feed", "eu", "acct-1")); got != queued+1 {
		t.Errorf("entries queued = %v, want %v", got, queued+1)
	}
	if got := testutil.ToFloat64(manualPollsTotal); got != polls+1 {
		t.Errorf("manual polls = %v, want %v", got, polls+1)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	bodyBytes, _ := io.ReadAll(resp.Body)
	body := string(bodyBytes)

	if !strings.Contains(body, `kind="feed"`) {
		t.Error("request metrics missing kind=\"feed\" label")
	}
	if strings.Contains(body, `kind="bogus"`) {
		t.Error("unknown kind leaked into metric labels")
	}
}
