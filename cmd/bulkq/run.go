package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seantiz/bulkq/internal/api"
	"github.com/seantiz/bulkq/internal/callback"
	"github.com/seantiz/bulkq/internal/config"
	"github.com/seantiz/bulkq/internal/engine"
	"github.com/seantiz/bulkq/internal/remote"
	"github.com/seantiz/bulkq/internal/store"
	"github.com/seantiz/bulkq/internal/tracing"
)

func run(ctx context.Context, cfg *config.Config, once bool, logger *slog.Logger) error {
	tp, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ExportEndpoint: cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return err
	}
	if tp != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Error("tracer shutdown", "error", err)
			}
		}()
	}

	db, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer db.Close()

	broker := callback.NewBroker()
	defer broker.Close()

	sink, closeSink, err := newEventSink(ctx, cfg.Events, broker, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	registry := callback.NewRegistry()
	registry.Register("log", func(_ context.Context, content []byte, payload json.RawMessage) error {
		logger.Info("result delivered to log callback", "size", len(content), "payload", string(payload))
		return nil
	})

	group, err := newEngines(cfg, db, callback.NewDispatcher(registry, sink), logger)
	if err != nil {
		return err
	}

	if once {
		for _, res := range group.PollAll(ctx) {
			logPollResult(logger, res)
		}
		return nil
	}

	var wg sync.WaitGroup
	wg.Go(func() { pollLoop(ctx, group, cfg.PollInterval, logger) })

	srv := api.NewServer(cfg.ListenAddr, db, group, broker, logger)
	err = srv.Run(ctx)
	wg.Wait()
	return err
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	}
}

// newEventSink returns the sink for event callbacks. The broker always
// receives events so the API can stream them. With redis, the stream sink
// runs first so a failed XADD does not re-send the event to stream clients
// on retry.
func newEventSink(ctx context.Context, cfg config.EventsConfig, broker *callback.Broker, logger *slog.Logger) (callback.EventSink, func(), error) {
	logSink := callback.HandlerSink(func(_ context.Context, ev callback.Event) error {
		logger.Info("result event",
			"entry_id", ev.EntryID,
			"kind", string(ev.Kind),
			"work_type", ev.WorkType,
			"size", ev.Size,
		)
		return nil
	})

	if cfg.Sink != config.SinkRedis {
		return callback.MultiSink{broker, logSink}, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	redisSink := callback.NewRedisStreamSink(client, cfg.RedisStream, cfg.RedisMaxLen)
	return callback.MultiSink{redisSink, broker, logSink}, func() { client.Close() }, nil
}

func newEngines(cfg *config.Config, db store.Store, d *callback.Dispatcher, logger *slog.Logger) (*engine.Group, error) {
	opts, err := engineOptions(cfg)
	if err != nil {
		return nil, err
	}
	scopes, err := cfg.ParsedScopes()
	if err != nil {
		return nil, err
	}

	remoteCfg := remote.HTTPConfig{
		BaseURL:           cfg.Remote.BaseURL,
		Timeout:           cfg.Remote.Timeout,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
		Burst:             cfg.Remote.Burst,
	}

	engines := make([]*engine.Engine, 0, len(scopes))
	for _, scope := range scopes {
		wf := engine.Workflow{
			Scope:   scope,
			Service: remote.NewHTTPClient(remoteCfg, scope),
		}
		engines = append(engines, engine.New(wf, db, d, opts, logger))
	}
	if len(engines) == 0 {
		logger.Warn("no scopes configured, nothing will be polled")
	}
	return engine.NewGroup(engines...)
}

func engineOptions(cfg *config.Config) (engine.Options, error) {
	opts := engine.Options{
		ExpirationWindow:          cfg.Engine.ExpirationWindow,
		LockTTL:                   cfg.Engine.LockTTL,
		InstanceID:                cfg.InstanceID,
		RestrictCallbacksToOrigin: cfg.Engine.RestrictCallbacksToOrigin,
	}
	var err error
	if opts.Submission, err = cfg.Retry.Submission.Policy(); err != nil {
		return opts, fmt.Errorf("submission retry: %w", err)
	}
	if opts.Processing, err = cfg.Retry.Processing.Policy(); err != nil {
		return opts, fmt.Errorf("processing retry: %w", err)
	}
	if opts.Download, err = cfg.Retry.Download.Policy(); err != nil {
		return opts, fmt.Errorf("download retry: %w", err)
	}
	if opts.Callback, err = cfg.Retry.Callback.Policy(); err != nil {
		return opts, fmt.Errorf("callback retry: %w", err)
	}
	return opts, nil
}

// pollLoop runs a cycle on every engine each interval until ctx is done.
// Cycles never overlap.
func pollLoop(ctx context.Context, group *engine.Group, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("poll loop stopped")
			return
		case <-ticker.C:
			for _, res := range group.PollAll(ctx) {
				logPollResult(logger, res)
			}
		}
	}
}

func logPollResult(logger *slog.Logger, res engine.PollResult) {
	level := slog.LevelDebug
	if res.Aborted() {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "poll cycle finished",
		"scope", res.Scope.String(),
		"swept", res.Swept,
		"submitted", res.Submitted,
		"statuses_polled", res.StatusesPolled,
		"downloaded", res.Downloaded,
		"dispatched", res.Dispatched,
		"deleted", res.Deleted,
		"aborted_at", res.AbortedAt,
	)
}
