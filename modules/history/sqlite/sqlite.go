// Package sqlite implements the history log module: an append-only record of
// every memory mutation, stored in SQLite (modernc.org/sqlite, WAL mode).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/flemzord/memsync/internal/core"
	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/sqlitedb"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ memory.HistoryLog = (*Log)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module provides the history.log service.
type Module struct {
	config Config
	db     *sql.DB
	logger *slog.Logger
	log    *Log
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "history.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	l, db, err := Open(context.Background(), m.config)
	if err != nil {
		return err
	}
	m.db = db
	m.log = l

	if err := ctx.RegisterService(core.ServiceHistoryLog, memory.HistoryLog(m.log)); err != nil {
		_ = db.Close()
		return err
	}

	m.logger.Info("sqlite history provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if err := m.db.PingContext(context.Background()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.db == nil {
		return nil
	}
	m.logger.Info("sqlite history stopping")
	return m.db.Close()
}

// Open opens a history database outside the module system. The caller owns
// the returned *sql.DB.
func Open(ctx context.Context, cfg Config) (*Log, *sql.DB, error) {
	cfg.defaults()
	db, err := sqlitedb.Open(ctx, sqlitedb.Options{
		Path:        cfg.Path,
		WAL:         cfg.walEnabled(),
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := sqlitedb.Migrate(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return NewLog(db), db, nil
}
