package config

import (
	"cmp"
	"slices"

	"github.com/flemzord/memsync/internal/core"
)

// loadStage orders module namespaces so that providers are provisioned before
// the modules that look them up (the graph store needs the LLM).
var loadStage = map[string]int{
	"llm":     0,
	"vector":  1,
	"history": 2,
	"graph":   3,
}

// Resolve returns the module IDs from the configuration in load order:
// by namespace stage, then alphabetically. Unknown namespaces load last.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Or(
			cmp.Compare(stageOf(a), stageOf(b)),
			cmp.Compare(a, b),
		)
	})
	return ids
}

func stageOf(id string) int {
	if s, ok := loadStage[core.ModuleID(id).Namespace()]; ok {
		return s
	}
	return len(loadStage)
}
