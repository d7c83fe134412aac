package main

import (
	"context"
	"fmt"

	"github.com/dusk-indust/vigil/internal/a2a"
	"github.com/dusk-indust/vigil/internal/actuator"
	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/config"
	"github.com/dusk-indust/vigil/internal/conversation"
	"github.com/dusk-indust/vigil/internal/crm"
	"github.com/dusk-indust/vigil/internal/department"
	"github.com/dusk-indust/vigil/internal/logging"
	"github.com/dusk-indust/vigil/internal/orchestrator"
	"github.com/dusk-indust/vigil/internal/store"
	"go.opentelemetry.io/otel/trace/noop"
)

// app holds the wired runtime for one CLI invocation.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	store    store.Store
	coord    *orchestrator.Coordinator
	progress *orchestrator.ProgressReporter
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
}

// newProvider selects in-process heuristics or remote A2A agents.
func newProvider(cfg *config.Config) agent.Provider {
	if cfg.Provider.Mode == "a2a" {
		client := a2a.NewHTTPClient(a2a.WithTimeout(cfg.Provider.HTTPTimeout), a2a.WithUserAgent("vigil/"+version))
		return agent.NewA2AProvider(client, cfg.Provider.Endpoints, cfg.Provider.DefaultEndpoint)
	}
	return agent.NewLocalProvider()
}

// newApp wires the coordinator from configuration. Callers must close it.
func newApp(ctx context.Context, withProgress bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	catalog, err := department.Load(cfg.Departments.Dir)
	if err != nil {
		a.Close()
		return nil, err
	}
	dir, err := crm.LoadFixture(cfg.CRM.Fixture)
	if err != nil {
		a.Close()
		return nil, err
	}
	act, err := actuator.New(cfg.Actuator.Kind, cfg.Actuator.WebhookURL, cfg.Actuator.Timeout, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store, err = store.Open(ctx, cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		a.Close()
		return nil, err
	}
	if withProgress {
		a.progress = orchestrator.NewProgressReporter(cfg.Pipeline.ProgressBuffer)
	}

	deps := orchestrator.Deps{
		Catalog:   catalog,
		Snapshots: conversation.NewFileReader(cfg.Snapshots.Dir),
		Directory: dir,
		Provider:  newProvider(cfg),
		Store:     a.store,
		Actuator:  act,
		Progress:  a.progress,
		Logger:    log,
	}
	if !cfg.Tracing.Enabled {
		deps.Tracer = noop.NewTracerProvider()
	}

	a.coord, err = orchestrator.NewCoordinator(orchestrator.Options{
		Invoker: agent.Options{
			MaxAttempts: cfg.Invoker.MaxAttempts,
			BaseBackoff: cfg.Invoker.BaseBackoff,
			MaxBackoff:  cfg.Invoker.MaxBackoff,
			CallTimeout: cfg.Invoker.CallTimeout,
		},
		StageTimeout:     cfg.Pipeline.StageTimeout,
		ActuationTimeout: cfg.Actuator.Timeout,
	}, deps)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("wire coordinator: %w", err)
	}
	return a, nil
}

// Close waits for pending actuations and releases the store and logger.
func (a *app) Close() {
	if a.coord != nil {
		a.coord.Wait()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", "error", err)
		}
	}
	_ = a.log.Close()
}
