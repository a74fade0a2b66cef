package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/seantiz/bulkq/internal/callback"
	"github.com/seantiz/bulkq/internal/model"
)

// readSSE reads one event (event and data lines) from r.
func readSSE(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read SSE: %v (event=%q data=%q)", err, event, data)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" || data != "" {
				return event, data
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStreamEventsReceivesResults(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/events?kind=report")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	ctx := context.Background()
	// Feed events are filtered out of a report stream.
	srv.broker.Handle(ctx, callback.Event{EntryID: "feed-1", Kind: model.KindFeed})
	srv.broker.Handle(ctx, callback.Event{EntryID: "rep-1", Kind: model.KindReport, Content: []byte("secret"), Size: 6})

	reader := bufio.NewReader(resp.Body)
	event, data := readSSE(t, reader)
	if event != "result" {
		t.Fatalf("event = %q, want result", event)
	}
	var ev callback.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.EntryID != "rep-1" || ev.Size != 6 {
		t.Errorf("event = %+v", ev)
	}
	if strings.Contains(data, "secret") {
		t.Error("event stream leaked result content")
	}

	srv.broker.Close()
	event, _ = readSSE(t, reader)
	if event != "done" {
		t.Errorf("event after close = %q, want done", event)
	}
}

func TestStreamEventsBadKind(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/events?kind=order")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamEventsDisabled(t *testing.T) {
	srv := newTestServer(t)
	srv = NewServer(":0", srv.store, srv.engines, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
