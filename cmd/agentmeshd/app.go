package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/llm/openai"
	"github.com/BaSui01/agentmesh/mesh/delegation"
	"github.com/BaSui01/agentmesh/mesh/deploy"
	"github.com/BaSui01/agentmesh/store"
)

// app is the process-wide dependency context. Exactly one of everything,
// enforced by construction here rather than by globals.
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	coordinator  *deploy.Coordinator
	orchestrator *delegation.Orchestrator
}

func newApp(cfg *config.Config, logger *zap.Logger, version string) (*app, error) {
	collector := metrics.NewCollector("agentmesh", logger)

	registry := llm.NewProviderRegistry()
	for _, pc := range cfg.Providers {
		registry.Register(pc.Name, openai.New(openai.Config{
			Name:    pc.Name,
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
			Models:  pc.Models,
		}, logger))
		logger.Info("registered provider", zap.String("provider", pc.Name))
	}

	conversations, err := store.OpenConversationStore(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}

	coordinator, err := deploy.NewCoordinator(deploy.Options{
		DataDir:       cfg.DataDir,
		Registry:      registry,
		Conversations: conversations,
		Metrics:       collector,
		Logger:        logger,
		Version:       version,
	})
	if err != nil {
		return nil, err
	}

	// Configured peers participate in delegation the same way local
	// backends do.
	for _, rp := range coordinator.GetRemoteServers() {
		registry.Register("peer:"+rp.ID, coordinator.Peers().AsProvider(rp.ID))
	}

	orchestrator := delegation.NewOrchestrator(delegation.Config{
		Enabled:             cfg.Delegation.Enabled,
		ConfidenceThreshold: cfg.Delegation.ConfidenceThreshold,
		MaxSubTasks:         cfg.Delegation.MaxSubTasks,
		MinMessageLength:    cfg.Delegation.MinMessageLength,
		MinSegmentLength:    cfg.Delegation.MinSegmentLength,
	}, registry, nil, nil, collector, logger)

	return &app{
		cfg:          cfg,
		logger:       logger,
		coordinator:  coordinator,
		orchestrator: orchestrator,
	}, nil
}

// Run restores the persisted deployment role and blocks until SIGINT or
// SIGTERM, then shuts down gracefully.
func (a *app) Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.coordinator.Initialize(ctx); err != nil {
		a.logger.Error("initialization failed", zap.Error(err))
	}

	<-ctx.Done()
	a.logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.coordinator.Shutdown(shutdownCtx)
}
