// bulkq runs the work queue engines for the configured scopes, polling the
// remote service on a fixed interval and serving the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/seantiz/bulkq/internal/config"
)

// options are the command-line flags. Everything else comes from the config
// file and BULKQ_* environment variables.
type options struct {
	Config     string `short:"c" long:"config" env:"BULKQ_CONFIG" description:"path to a YAML config file"`
	ListenAddr string `short:"l" long:"listen" description:"listen address, overrides listen_addr"`
	Once       bool   `long:"once" description:"run one poll cycle on every engine and exit"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if opts.ListenAddr != "" {
		cfg.ListenAddr = opts.ListenAddr
	}

	logger := config.NewLogger(os.Stdout, cfg.Level())
	logger.Info("bulkq: starting",
		"listen_addr", cfg.ListenAddr,
		"store_driver", cfg.Store.Driver,
		"instance_id", cfg.InstanceID,
		"scopes", cfg.Scopes,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts.Once, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
