// Package openai implements the llm and embedder services on the OpenAI API
// (or any compatible endpoint) through sashabaranov/go-openai.
package openai

import (
	"fmt"
	"log/slog"

	"github.com/flemzord/memsync/internal/core"
	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/security"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
)

// Module provides the llm and embedder services.
type Module struct {
	config Config
	logger *slog.Logger
	client *Client
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "llm.openai",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("openai: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner. The API key is handed to the shared
// redactor when one is registered.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	if err := m.config.validate(); err != nil {
		return err
	}
	m.config.defaults()

	if r, err := core.Service[*security.Redactor](ctx, security.ServiceName); err == nil {
		r.AddLiteral(m.config.APIKey)
	}

	m.client = NewClient(m.config)
	if err := ctx.RegisterService(core.ServiceLLM, memory.LLM(m.client)); err != nil {
		return err
	}
	if err := ctx.RegisterService(core.ServiceEmbedder, memory.Embedder(m.client)); err != nil {
		return err
	}

	m.logger.Info("openai provisioned",
		"model", m.config.Model,
		"embedding_model", m.config.EmbeddingModel,
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}
