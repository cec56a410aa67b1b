// Package chromem implements the vector store module on chromem-go, an
// embedded pure Go vector database with optional on-disk persistence.
package chromem

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/flemzord/memsync/internal/core"
	"github.com/flemzord/memsync/internal/memory"
	chromem "github.com/philippgille/chromem-go"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ memory.VectorStore = (*Store)(nil)
	_ core.Configurable  = (*Module)(nil)
	_ core.Provisioner   = (*Module)(nil)
	_ core.Validator     = (*Module)(nil)
)

// Module provides the vector.store service.
type Module struct {
	config Config
	logger *slog.Logger
	store  *Store
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "vector.chromem",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("chromem: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.persistent() && m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDir)
	}

	var (
		db  *chromem.DB
		err error
	)
	if m.config.persistent() {
		db, err = chromem.NewPersistentDB(m.config.Path, m.config.Compress)
		if err != nil {
			return fmt.Errorf("chromem: open %s: %w", m.config.Path, err)
		}
	} else {
		db = chromem.NewDB()
	}

	m.store, err = NewStore(db, m.config.Collection, m.config.Dimensions)
	if err != nil {
		return err
	}
	if err := ctx.RegisterService(core.ServiceVectorStore, memory.VectorStore(m.store)); err != nil {
		return err
	}

	m.logger.Info("chromem vector store provisioned",
		"path", m.config.Path,
		"collection", m.config.Collection,
		"documents", m.store.Count(),
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}
