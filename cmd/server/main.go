package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/engine"
	"github.com/p-n-ai/pai-learn/internal/entitlement"
	"github.com/p-n-ai/pai-learn/internal/events"
	"github.com/p-n-ai/pai-learn/internal/platform/cache"
	"github.com/p-n-ai/pai-learn/internal/platform/config"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
	"github.com/p-n-ai/pai-learn/internal/platform/localstore"
	"github.com/p-n-ai/pai-learn/internal/platform/logging"
	"github.com/p-n-ai/pai-learn/internal/platform/metrics"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.Log))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	app, err := newApp(cfg, st, m)
	if err != nil {
		return err
	}

	sweeper := entitlement.NewSweeper(app.entitlements, cfg.Entitlement.SweepInterval)
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	evictor := progress.NewEvictor(app.sessions, max(cfg.Progress.SessionIdleTTL/2, time.Second))
	if err := evictor.Start(); err != nil {
		return err
	}
	defer evictor.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if err := app.engine.Flush(shutdownCtx); err != nil {
		slog.Error("progress writes still pending at exit", "error", err)
	}
	return nil
}

// stores holds the persistence backends chosen by configuration.
type stores struct {
	progress     progress.Repository
	entitlements entitlement.Repository
	events       events.Logger
	checks       map[string]server.Checker
	closers      []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores connects to PostgreSQL when a database URL is configured and
// falls back to the local SQLite file otherwise. A cache URL adds a
// read-through cache in front of progress loads.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{checks: map[string]server.Checker{}}

	if cfg.UsesDatabase() {
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		st.closers = append(st.closers, db.Close)
		st.checks["database"] = db

		if cfg.Database.Migrate {
			if err := db.Migrate(ctx); err != nil {
				st.close()
				return nil, fmt.Errorf("migrating database: %w", err)
			}
		}

		progressRepo, err := progress.NewPostgresRepository(db.Pool)
		if err != nil {
			st.close()
			return nil, err
		}
		entRepo, err := entitlement.NewPostgresRepository(db.Pool)
		if err != nil {
			st.close()
			return nil, err
		}
		st.progress = progressRepo
		st.entitlements = entRepo
		st.events = events.NewPostgresLogger(db.Pool)
		slog.Info("using postgres storage")
	} else {
		store, err := localstore.Open(cfg.LocalStore.Path)
		if err != nil {
			return nil, fmt.Errorf("opening local store: %w", err)
		}
		st.closers = append(st.closers, func() { _ = store.Close() })
		st.checks["localstore"] = store

		st.progress = progress.NewLocalRepository(store)
		st.entitlements = entitlement.NewLocalRepository(store)
		st.events = events.NopLogger{}
		slog.Info("using local storage", "path", cfg.LocalStore.Path)
	}

	if cfg.UsesCache() {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("connecting to cache: %w", err)
		}
		st.closers = append(st.closers, func() { _ = c.Close() })
		st.checks["cache"] = c
		st.progress = progress.NewCachedRepository(st.progress, c, cfg.Progress.CacheTTL)
	}
	return st, nil
}

type app struct {
	engine       *engine.Engine
	sessions     *progress.Sessions
	entitlements *entitlement.Service
	handler      http.Handler
}

func newApp(cfg *config.Config, st *stores, m *metrics.Metrics) (*app, error) {
	catalog, err := curriculum.Load(cfg.Curriculum.Path)
	if err != nil {
		return nil, err
	}

	writer := progress.NewWriter(st.progress, m, cfg.Progress.SaveTimeout)
	sessions := progress.NewSessions(progress.SessionsConfig{
		Repository:  st.progress,
		Writer:      writer,
		LevelIDs:    catalog.LevelIDs(),
		LoadTimeout: cfg.Progress.LoadTimeout,
		IdleTTL:     cfg.Progress.SessionIdleTTL,
	})
	entitlements := entitlement.NewService(entitlement.ServiceConfig{
		Repository: st.entitlements,
		Events:     st.events,
		Metrics:    m,
		TrialDays:  cfg.Entitlement.TrialDays,
	})
	eng := engine.New(engine.Config{
		Catalog:      catalog,
		Sessions:     sessions,
		Writer:       writer,
		Entitlements: entitlements,
		Events:       st.events,
		Metrics:      m,
	})

	return &app{
		engine:       eng,
		sessions:     sessions,
		entitlements: entitlements,
		handler:      server.New(eng, m, st.checks).Handler(),
	}, nil
}
