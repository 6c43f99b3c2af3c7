// SPDX-License-Identifier: Apache-2.0

// Command runner executes a single plan from a YAML file and prints the
// execution summary as JSON. With -resume it continues the session's stored
// plan from the last completed checkpoint instead.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/adiadia/planflow/internal/config"
	"github.com/adiadia/planflow/internal/domain"
	"github.com/adiadia/planflow/internal/engine"
	"github.com/adiadia/planflow/internal/logging"
	"github.com/adiadia/planflow/internal/persistence/postgres"
	"github.com/adiadia/planflow/internal/state"
	"github.com/adiadia/planflow/internal/tools"
)

func main() {
	var (
		planPath  = flag.String("plan", "", "path to a YAML plan file")
		resume    = flag.Bool("resume", false, "resume the session's stored plan")
		startFrom = flag.Int("start-from", 1, "step number to start execution from")
	)
	flag.Parse()

	if *planPath == "" && !*resume {
		fmt.Fprintln(os.Stderr, "usage: runner -plan <plan.yaml> [-start-from N] | runner -resume")
		os.Exit(2)
	}

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

	var summary *engine.Summary
	if *resume {
		summary, err = eng.Resume(ctx)
	} else {
		summary, err = executePlanFile(ctx, eng, *planPath, *startFrom)
	}
	if err != nil {
		logger.Error("execution failed", "error", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.Fatalf("encode summary: %v", err)
	}
	fmt.Println(string(out))

	if summary.FailedSteps > 0 {
		os.Exit(1)
	}
}

func executePlanFile(ctx context.Context, eng *engine.Engine, path string, startFrom int) (*engine.Summary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	plan, err := domain.PlanFromYAML(raw)
	if err != nil {
		return nil, err
	}

	return eng.Execute(ctx, plan, startFrom)
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
