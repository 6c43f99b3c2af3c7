// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/planflow/internal/config"
	"github.com/adiadia/planflow/internal/engine"
	"github.com/adiadia/planflow/internal/logging"
	"github.com/adiadia/planflow/internal/persistence/postgres"
	"github.com/adiadia/planflow/internal/state"
	"github.com/adiadia/planflow/internal/tools"
	httptransport "github.com/adiadia/planflow/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	store, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("state store init failed: %v", err)
	}
	defer cleanup()

	registry := tools.NewRegistry(logging.ForComponent(logger, "tools"))
	tools.RegisterBuiltins(registry)

	eng := engine.New(engine.Deps{
		Tools:  registry,
		Store:  store,
		Logger: logging.ForComponent(logger, "engine"),
	})

	handler := httptransport.NewRouter(httptransport.Deps{
		Runner:    eng,
		State:     store,
		SessionID: cfg.SessionID,
		Logger:    logger,
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"session_id", cfg.SessionID,
			"state_backend", cfg.StateBackend,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}

func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (state.Store, func(), error) {
	switch cfg.StateBackend {
	case "memory":
		return state.NewMemoryStore(), func() {}, nil

	case "file":
		store, err := state.NewFileStore(state.FileStoreOptions{
			SessionID:  cfg.SessionID,
			Dir:        cfg.StateDir,
			MaxEntries: cfg.MaxStateEntries,
			Logger:     logging.ForComponent(logger, "state"),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if cfg.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("schema bootstrap: %w", err)
			}
		}
		store := state.NewPostgresStore(pool, cfg.SessionID, logging.ForComponent(logger, "state"))
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}
