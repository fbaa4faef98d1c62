package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposyncd/internal/cleanup"
	"github.com/fyrsmithlabs/reposyncd/internal/clone"
	"github.com/fyrsmithlabs/reposyncd/internal/config"
	"github.com/fyrsmithlabs/reposyncd/internal/health"
	"github.com/fyrsmithlabs/reposyncd/internal/logging"
	"github.com/fyrsmithlabs/reposyncd/internal/remediation"
	"github.com/fyrsmithlabs/reposyncd/internal/remote"
	"github.com/fyrsmithlabs/reposyncd/internal/store"
	"github.com/fyrsmithlabs/reposyncd/internal/syncer"
	"github.com/fyrsmithlabs/reposyncd/internal/telemetry"
)

// app holds the wired services every command runs against.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry

	store       store.Store
	remote      remote.Client
	clones      *clone.Manager
	syncer      syncer.Synchronizer
	health      health.Checker
	remediation remediation.Service
	cleanup     cleanup.Runner
}

// buildApp loads configuration and wires the full service graph.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	// Telemetry must install the global providers before any service
	// creates its tracer or meter.
	tel, err := telemetry.Init(context.Background(), cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open project store: %w", err)
	}

	rc := remote.NewGiteaClient(cfg.Remote, logger)

	clones, err := clone.NewManager(cfg.Workspace, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize clone manager: %w", err)
	}

	sync, err := syncer.NewService(syncer.Config{DefaultBranch: cfg.Remote.DefaultBranch}, st, rc, clones, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize synchronizer: %w", err)
	}

	checker, err := health.NewService(st, rc, clones, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize health checker: %w", err)
	}

	remediator, err := remediation.NewService(st, rc, clones, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize remediation service: %w", err)
	}

	runner, err := cleanup.NewRunner(checker, remediator, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize cleanup runner: %w", err)
	}

	return &app{
		cfg:         cfg,
		logger:      logger,
		telemetry:   tel,
		store:       st,
		remote:      rc,
		clones:      clones,
		syncer:      sync,
		health:      checker,
		remediation: remediator,
		cleanup:     runner,
	}, nil
}

// Close releases the app's resources and flushes pending telemetry.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
