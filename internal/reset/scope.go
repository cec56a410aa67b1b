package reset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/memsync/internal/memory"
)

// ErrNothingToReset is returned by FromFlags when every store is kept.
var ErrNothingToReset = errors.New("reset: every store is kept, nothing to reset")

// Component is one store a reset can touch.
type Component string

const (
	ComponentVector  Component = "vector"
	ComponentGraph   Component = "graph"
	ComponentHistory Component = "history"
)

// Scope selects the components a reset touches.
type Scope string

const (
	ScopeAll              Scope = "ALL"
	ScopeVectorOnly       Scope = "VECTOR_ONLY"
	ScopeGraphOnly        Scope = "GRAPH_ONLY"
	ScopeHistoryOnly      Scope = "HISTORY_ONLY"
	ScopeVectorAndHistory Scope = "VECTOR_AND_HISTORY"
	ScopeGraphAndHistory  Scope = "GRAPH_AND_HISTORY"
	ScopeVectorAndGraph   Scope = "VECTOR_AND_GRAPH"
)

var scopeComponents = map[Scope][]Component{
	ScopeAll:              {ComponentVector, ComponentGraph, ComponentHistory},
	ScopeVectorOnly:       {ComponentVector},
	ScopeGraphOnly:        {ComponentGraph},
	ScopeHistoryOnly:      {ComponentHistory},
	ScopeVectorAndHistory: {ComponentVector, ComponentHistory},
	ScopeGraphAndHistory:  {ComponentGraph, ComponentHistory},
	ScopeVectorAndGraph:   {ComponentVector, ComponentGraph},
}

// Components returns the components of s in reset order.
func (s Scope) Components() []Component {
	return scopeComponents[s]
}

// Includes reports whether s touches c.
func (s Scope) Includes(c Component) bool {
	for _, x := range scopeComponents[s] {
		if x == c {
			return true
		}
	}
	return false
}

// ParseScope converts a case-insensitive name into a Scope.
func ParseScope(name string) (Scope, error) {
	s := Scope(strings.ToUpper(strings.TrimSpace(name)))
	if _, ok := scopeComponents[s]; !ok {
		return "", fmt.Errorf("reset: unknown scope %q", name)
	}
	return s, nil
}

// scopeOf maps the set of reset components to its Scope.
func scopeOf(vector, graph, history bool) (Scope, bool) {
	switch {
	case vector && graph && history:
		return ScopeAll, true
	case vector && graph:
		return ScopeVectorAndGraph, true
	case vector && history:
		return ScopeVectorAndHistory, true
	case graph && history:
		return ScopeGraphAndHistory, true
	case vector:
		return ScopeVectorOnly, true
	case graph:
		return ScopeGraphOnly, true
	case history:
		return ScopeHistoryOnly, true
	}
	return "", false
}

// Options controls one reset.
type Options struct {
	Scope  Scope `json:"scope"`
	Force  bool  `json:"force"`
	DryRun bool  `json:"dry_run"`

	// PreserveFilters keeps the records matching them and removes the rest.
	// Empty means a full wipe of every component in scope.
	PreserveFilters memory.Filters `json:"preserve_filters,omitempty"`
}

// FromFlags derives Options from one keep flag per store: a store is reset
// unless it is kept. Keeping every store is an error.
func FromFlags(keepVector, keepGraph, keepHistory, force, dryRun bool, preserve memory.Filters) (Options, error) {
	scope, ok := scopeOf(!keepVector, !keepGraph, !keepHistory)
	if !ok {
		return Options{}, ErrNothingToReset
	}
	if len(preserve) == 0 {
		preserve = nil
	}
	return Options{
		Scope:           scope,
		Force:           force,
		DryRun:          dryRun,
		PreserveFilters: preserve,
	}, nil
}
