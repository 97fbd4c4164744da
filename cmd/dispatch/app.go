package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pario-ai/dispatch/pkg/audit"
	"github.com/pario-ai/dispatch/pkg/budget"
	"github.com/pario-ai/dispatch/pkg/config"
	"github.com/pario-ai/dispatch/pkg/logging"
	"github.com/pario-ai/dispatch/pkg/provider"
	"github.com/pario-ai/dispatch/pkg/provider/openaicompat"
	"github.com/pario-ai/dispatch/pkg/router"
)

type rootOptions struct {
	configPath string
	profile    string
	logLevel   string
}

// app bundles everything a command needs, built from one config file.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	ledger  *budget.Ledger
	audit   *audit.Logger
	router  *router.Router
	closers []func() error
}

// openApp loads the config and wires the store, ledger, audit log and
// router. withAudit opens the audit database even when auditing is disabled.
func openApp(ctx context.Context, opts *rootOptions, withAudit bool) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	st, closeStore, err := cfg.OpenStore(ctx, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	ledgerOpts := []budget.Option{budget.WithLogger(logger)}
	if cfg.Store.Key != "" {
		ledgerOpts = append(ledgerOpts, budget.WithKey(cfg.Store.Key))
	}
	a.ledger = budget.New(st, ledgerOpts...)

	if cfg.Audit.Enabled || withAudit {
		auditCfg := cfg.Audit
		auditCfg.DBPath = cfg.AuditPath()
		al, err := audit.New(auditCfg, audit.WithLogger(logger.Named("audit")))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.audit = al
		a.closers = append(a.closers, al.Close)
	}

	a.router, err = a.buildRouter(cfg, opts.profile)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// factories maps provider kinds to adapters. A missing kind is treated as
// openai-compat.
func factories() provider.Factories {
	f := openaicompat.Factories()
	f[""] = openaicompat.Factory
	return f
}

// buildRouter creates a router for the named profile of cfg, sharing the
// app's ledger and audit log.
func (a *app) buildRouter(cfg *config.Config, profileName string) (*router.Router, error) {
	profile, err := cfg.Profile(profileName)
	if err != nil {
		return nil, err
	}
	reg, err := provider.Build(profile, provider.EnvCredentials{}, factories())
	if err != nil {
		return nil, err
	}
	opts := []router.Option{
		router.WithOptions(cfg.Router),
		router.WithLogger(a.logger.With(zap.String("profile", profile.Name))),
	}
	if a.audit != nil && cfg.Audit.Enabled {
		opts = append(opts, router.WithDecisionRecorder(a.audit))
	}
	return router.New(profile, reg, a.ledger, opts...)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("close", zap.Error(err))
		}
	}
}
