package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-academy/internal/api"
	"github.com/p-n-ai/pai-academy/internal/catalog"
	"github.com/p-n-ai/pai-academy/internal/platform/config"
	"github.com/p-n-ai/pai-academy/internal/platform/database"
	"github.com/p-n-ai/pai-academy/internal/platform/logging"
	"github.com/p-n-ai/pai-academy/internal/progress"
	"github.com/p-n-ai/pai-academy/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(logging.New(os.Stdout, cfg.Log))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := setup(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: progress streams stay open. Regular requests are
		// bounded by the router's timeout middleware.
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// app holds the wired handler and everything that must be closed on exit.
type app struct {
	handler http.Handler
	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// setup loads the catalog, opens the configured storage backend and wires
// the store, service, hub and API.
func setup(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	var (
		deps     storage.Deps
		pgEvents progress.EventLogger
	)
	switch cfg.Storage.Backend {
	case storage.BackendPostgres:
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		deps.Pool = db.Pool
		pgEvents = progress.NewPostgresEventLogger(db.Pool)
	case storage.BackendRedis:
		client, err := storage.DialRedis(ctx, cfg.Cache.URL)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				slog.Warn("redis close error", "error", err)
			}
		})
		deps.Redis = client
	}

	kv, err := storage.Open(cfg.Storage, deps)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := kv.Close(); err != nil {
			slog.Warn("storage close error", "error", err)
		}
	})

	hub := api.NewHub()
	events := progress.MultiEventLogger{hub}
	if pgEvents != nil {
		events = append(events, pgEvents)
	}

	store, err := progress.NewStore(progress.StoreConfig{
		KV:                  kv,
		Catalog:             cat,
		Events:              events,
		CompletionThreshold: cfg.Progress.CompletionThreshold,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating progress store: %w", err)
	}

	svc := progress.NewService(store, cfg.Progress.Latency)
	a.handler = api.NewServer(svc, hub).Router()

	slog.Info("app ready",
		"items", cat.Len(),
		"storage", cfg.Storage.Backend,
		"latency", cfg.Progress.Latency.String(),
	)
	return a, nil
}
