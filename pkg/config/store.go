package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pario-ai/dispatch/pkg/store"
	"github.com/pario-ai/dispatch/pkg/store/file"
	"github.com/pario-ai/dispatch/pkg/store/postgres"
	"github.com/pario-ai/dispatch/pkg/store/sqlite"
)

// Resolve returns p unchanged when absolute, otherwise joined to DataDir.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.DataDir == "" {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// AuditPath is the audit database location.
func (c *Config) AuditPath() string {
	if c.Audit.DBPath == "" {
		return c.Resolve("audit.db")
	}
	return c.Resolve(c.Audit.DBPath)
}

// OpenStore opens the configured ledger backend. The returned close function
// is never nil.
func (c *Config) OpenStore(ctx context.Context, logger *zap.Logger) (store.Store, func() error, error) {
	noop := func() error { return nil }
	if c.DataDir != "" && c.Store.Backend != BackendMemory && c.Store.Backend != BackendPostgres {
		if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
			return nil, noop, fmt.Errorf("create data dir: %w", err)
		}
	}

	switch c.Store.Backend {
	case BackendMemory:
		return store.NewMemory(), noop, nil
	case "", BackendFile:
		path := c.Store.Path
		if path == "" {
			path = "ledger"
		}
		s, err := file.New(c.Resolve(path))
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case BackendSQLite:
		path := c.Store.Path
		if path == "" {
			path = "dispatch.db"
		}
		s, err := sqlite.New(c.Resolve(path))
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case BackendPostgres:
		s, err := postgres.New(ctx, c.Store.DSN, logger)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
}
