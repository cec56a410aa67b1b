package config

import (
	"errors"
	"fmt"

	"github.com/flemzord/memsync/internal/core"
	"github.com/flemzord/memsync/internal/reset"
	"github.com/flemzord/memsync/internal/resilience"
)

// Validate checks the structural validity of a Config.
// It verifies the version field, ensures modules are present,
// and checks that all referenced module IDs exist in the registry.
// Only configured modules are loaded, so a registered module without an
// entry is not an error. It also allows at most one module per store
// namespace and validates the top-level sections.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	namespaces := make(map[string]int)
	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
			continue
		}
		namespaces[core.ModuleID(id).Namespace()]++
	}

	for _, ns := range storeNamespaces {
		if namespaces[ns] > 1 {
			errs = append(errs, fmt.Errorf("config: at most one %s module may be configured", ns))
		}
	}

	errs = append(errs, cfg.Resilience.validate()...)
	for i, k := range cfg.Resilience.RetryableKinds {
		if _, err := resilience.ParseKind(k); err != nil {
			errs = append(errs, fmt.Errorf("config: resilience.retryable_kinds[%d]: %w", i, err))
		}
	}
	errs = append(errs, cfg.Reset.validate()...)
	for i, j := range cfg.Reset.Jobs {
		if j.Scope == "" {
			continue
		}
		if _, err := reset.ParseScope(j.Scope); err != nil {
			errs = append(errs, fmt.Errorf("config: reset.jobs[%d]: %w", i, err))
		}
	}
	errs = append(errs, cfg.Telemetry.validate()...)
	errs = append(errs, cfg.Log.validate()...)
	if cfg.Memory.SearchCandidates < 0 {
		errs = append(errs, errors.New("config: memory.search_candidates must be >= 0"))
	}
	if cfg.Memory.EmbeddingCache < 0 {
		errs = append(errs, errors.New("config: memory.embedding_cache must be >= 0"))
	}

	return errors.Join(errs...)
}

// storeNamespaces are module namespaces that provide a single shared service.
var storeNamespaces = []string{"vector", "graph", "history", "llm"}
