// Package sqlite implements the graph store module: entities and the
// relationships between them, extracted from memory text by the configured
// LLM and persisted in SQLite.
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
	_ memory.GraphStore = (*Store)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module provides the graph.store service. It requires the llm service.
type Module struct {
	config Config
	db     *sql.DB
	logger *slog.Logger
	store  *Store
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "graph.sqlite",
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

	llm, err := core.Service[memory.LLM](ctx, core.ServiceLLM)
	if err != nil {
		return fmt.Errorf("sqlite: graph store needs an llm module: %w", err)
	}
	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	db, err := sqlitedb.Open(context.Background(), sqlitedb.Options{
		Path:        m.config.Path,
		WAL:         m.config.walEnabled(),
		BusyTimeout: m.config.BusyTimeout,
	})
	if err != nil {
		return err
	}
	if err := sqlitedb.Migrate(context.Background(), db, migrations); err != nil {
		_ = db.Close()
		return err
	}
	m.db = db
	m.store = NewStore(db, llm, m.config.SearchLimit)

	if err := ctx.RegisterService(core.ServiceGraphStore, memory.GraphStore(m.store)); err != nil {
		_ = db.Close()
		return err
	}

	m.logger.Info("sqlite graph provisioned", "path", m.config.Path)
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
	m.logger.Info("sqlite graph stopping")
	return m.db.Close()
}
