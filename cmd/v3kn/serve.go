package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vita3k/v3kn/api/server"
	"github.com/vita3k/v3kn/api/services"
	"github.com/vita3k/v3kn/api/store"
	"github.com/vita3k/v3kn/internal/updater"
	"github.com/vita3k/v3kn/pkg/otel"
)

// serveCmd starts the network server
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the network server",
		Long: `Start the Vita3K Network server.

Serves the console protocol under /v3kn plus the status page, health
probe, and Prometheus metrics. State lives on disk under V3KN_DATA_DIR;
no external services are required.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	telemetry, err := otel.Init(otel.Config{
		ServiceName: "v3kn",
		Environment: cfg.Telemetry.Environment,
		Tracing:     cfg.Telemetry.Tracing,
		LogFile:     cfg.Telemetry.LogFile,
		LogsDir:     cfg.Telemetry.LogsDir,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	slog.SetDefault(telemetry.Logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	slog.Info("starting v3kn", "version", version, "commit", commit, "environment", cfg.Telemetry.Environment)

	st := store.New(cfg.Storage.DataDir)
	if err := st.EnsureLayout(); err != nil {
		return fmt.Errorf("prepare data dir: %w", err)
	}
	tokens, err := st.LoadTokenCache()
	if err != nil {
		return fmt.Errorf("load token cache: %w", err)
	}
	slog.Info("token cache loaded", "tokens", tokens)

	registry := services.NewPresenceRegistry()
	inbox, err := services.NewEventInbox(st)
	if err != nil {
		return fmt.Errorf("load event journal: %w", err)
	}
	signals := services.NewPollSignals()
	msgSignal := services.NewMessageSignal()

	accounts := services.NewAccountService(st, cfg.Storage.Quota)
	friends := services.NewFriendService(st, registry, inbox, signals, cfg.Polling.Budget)
	messages := services.NewMessageService(st, msgSignal, cfg.Polling.Budget)
	storage := services.NewStorageService(st, cfg.Storage.Quota)

	gate := server.NewRequestGate()
	srv := server.NewServer(cfg, gate, accounts, friends, messages, storage)
	sweeper := services.NewSweeper(registry, inbox, cfg.Polling.SweepInterval, cfg.Polling.PruneAge)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	g.Go(func() error {
		return sweeper.Run(ctx)
	})

	if cfg.Updater.Enabled {
		watchdog := updater.New(commit, cfg.Updater.Script, gate)
		g.Go(func() error {
			return watchdog.Run(ctx)
		})
	}

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		slog.Info("server stopped")
		return nil
	case errors.Is(err, updater.ErrRestarting):
		slog.Info("shut down for update")
		return nil
	default:
		return err
	}
}
