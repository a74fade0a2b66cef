// testserver starts a bulkq host against an in-process fake remote service
// and an in-memory store, for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http/httptest"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/seantiz/bulkq/internal/api"
	"github.com/seantiz/bulkq/internal/callback"
	"github.com/seantiz/bulkq/internal/config"
	"github.com/seantiz/bulkq/internal/engine"
	"github.com/seantiz/bulkq/internal/model"
	"github.com/seantiz/bulkq/internal/remote"
	"github.com/seantiz/bulkq/internal/remote/remotetest"
	"github.com/seantiz/bulkq/internal/retry"
	"github.com/seantiz/bulkq/internal/store"
)

const (
	testRegion  = "eu"
	testAccount = "test-account"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("BULKQ_LISTEN_ADDR"); v != "" {
		addr = v
	}
	interval := 200 * time.Millisecond
	if v := os.Getenv("BULKQ_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("invalid BULKQ_POLL_INTERVAL: %v", err)
		}
		interval = d
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// Every submission completes immediately with generated content.
	fakes := map[string]*remotetest.Fake{
		"feeds":   remotetest.NewFake(),
		"reports": remotetest.NewFake(),
	}
	for _, f := range fakes {
		f.AutoComplete = true
	}
	remoteSrv := httptest.NewServer(remotetest.Handler(fakes))
	defer remoteSrv.Close()

	logger := config.NewLogger(os.Stdout, slog.LevelInfo)
	broker := callback.NewBroker()
	defer broker.Close()
	dispatcher := callback.NewDispatcher(callback.NewRegistry(), broker)

	fast := retry.Policy{MaxRetryCount: 4, Interval: interval, Progression: retry.Arithmetic}
	opts := engine.Options{
		Submission: fast,
		Processing: fast,
		Download:   fast,
		Callback:   fast,
		InstanceID: "testserver",
	}

	var engines []*engine.Engine
	for _, kind := range []model.Kind{model.KindFeed, model.KindReport} {
		scope := model.Scope{Kind: kind, Region: testRegion, AccountID: testAccount}
		wf := engine.Workflow{
			Scope:   scope,
			Service: remote.NewHTTPClient(remote.HTTPConfig{BaseURL: remoteSrv.URL}, scope),
		}
		engines = append(engines, engine.New(wf, db, dispatcher, opts, logger))
	}
	group, err := engine.NewGroup(engines...)
	if err != nil {
		log.Fatalf("create engines: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				group.PollAll(ctx)
			}
		}
	})

	srv := api.NewServer(addr, db, group, broker, logger)
	logger.Info("testserver: starting", "addr", addr, "remote_url", remoteSrv.URL)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	wg.Wait()
}
