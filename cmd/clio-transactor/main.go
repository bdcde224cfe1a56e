// Command clio-transactor runs the single writer of a cliodb database. It
// owns the block store, accepts transactions from peers over a mangos socket
// and optionally serves prometheus metrics over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loganmhb/cliodb/datalog/config"
	"github.com/loganmhb/cliodb/datalog/metrics"
	"github.com/loganmhb/cliodb/datalog/server"
	"github.com/loganmhb/cliodb/datalog/storage"
	"github.com/loganmhb/cliodb/datalog/transactor"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "clio-transactor: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	configPath := flag.String("config", "", "YAML config file (defaults are used when empty)")
	store := flag.String("store", "", "Block store URI, overrides the config (mem://, badger:///path, s3://bucket/prefix, postgres://...)")
	listen := flag.String("listen", "", "Transactor address, overrides the config (e.g. tcp://127.0.0.1:9876)")
	metricsAddr := flag.String("metrics", "", "Serve /metrics on this host:port, overrides the config")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error), overrides the config")
	workers := flag.Int("workers", server.DefaultWorkers, "Requests read concurrently from the socket")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *store != "" {
		cfg.Store = *store
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stderr, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	blocks, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer blocks.Close()

	reg := metrics.NewRegistry()
	tx, err := transactor.New(ctx, blocks, cfg.TransactorOptions(logger, reg))
	if err != nil {
		return err
	}
	defer tx.Close()

	srv, err := server.Listen(cfg.Listen, tx, server.Options{Workers: *workers, Logger: logger})
	if err != nil {
		return err
	}
	defer srv.Close()
	slog.InfoContext(ctx, "transactor ready", "store", cfg.Store, "listen", cfg.Listen)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx) })
	if cfg.MetricsAddr != "" {
		h := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           reg.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.InfoContext(ctx, "serving metrics", "addr", cfg.MetricsAddr)
			if err := h.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return h.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	slog.Info("shutting down", "basis_t", tx.Current().BasisT())
	return err
}
