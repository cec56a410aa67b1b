package memorytest

import (
	"context"
	"strings"
	"sync"

	"github.com/flemzord/memsync/internal/memory"
)

type graphEdge struct {
	scope memory.Filters
	rel   memory.Relation
}

// GraphStore is an in-memory memory.GraphStore. Add turns every line of the
// text into one edge from the scoped user to the line.
type GraphStore struct {
	calls

	mu    sync.Mutex
	edges []graphEdge
	texts []string
}

// NewGraphStore creates an empty graph.
func NewGraphStore() *GraphStore { return &GraphStore{} }

// Compile-time interface check.
var _ memory.GraphStore = (*GraphStore)(nil)

func (g *GraphStore) Add(_ context.Context, data string, filters memory.Filters) (memory.GraphAddResult, error) {
	if err := g.enter("Add"); err != nil {
		return memory.GraphAddResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.texts = append(g.texts, data)
	var res memory.GraphAddResult
	for _, line := range strings.Split(data, "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		rel := memory.Relation{Source: filters[memory.KeyUserID], Relationship: "mentions", Destination: line}
		g.edges = append(g.edges, graphEdge{scope: filters.Clone(), rel: rel})
		res.AddedEntities = append(res.AddedEntities, rel)
	}
	return res, nil
}

func (g *GraphStore) Search(_ context.Context, query string, filters memory.Filters, limit int) ([]memory.Relation, error) {
	if err := g.enter("Search"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []memory.Relation
	q := strings.ToLower(query)
	for _, e := range g.edges {
		if filters.Matches(memory.Payload(e.scope)) && strings.Contains(strings.ToLower(e.rel.Destination), q) {
			out = append(out, e.rel)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (g *GraphStore) GetAll(_ context.Context, filters memory.Filters, limit int) ([]memory.Relation, error) {
	if err := g.enter("GetAll"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []memory.Relation
	for _, e := range g.edges {
		if filters.Matches(memory.Payload(e.scope)) {
			out = append(out, e.rel)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (g *GraphStore) DeleteAll(_ context.Context, filters memory.Filters) error {
	if err := g.enter("DeleteAll"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = g.filter(func(e graphEdge) bool { return !filters.Matches(memory.Payload(e.scope)) })
	return nil
}

func (g *GraphStore) Delete(_ context.Context, data string, filters memory.Filters) error {
	if err := g.enter("Delete"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	lines := make(map[string]bool)
	for _, l := range strings.Split(data, "\n") {
		lines[strings.TrimSpace(l)] = true
	}
	g.edges = g.filter(func(e graphEdge) bool {
		return !filters.Matches(memory.Payload(e.scope)) || !lines[e.rel.Destination]
	})
	return nil
}

func (g *GraphStore) DetachDelete(_ context.Context, match memory.Filters, negate bool) (int, error) {
	if err := g.enter("DetachDelete"); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	before := len(g.edges)
	g.edges = g.filter(func(e graphEdge) bool {
		return match.Matches(memory.Payload(e.scope)) == negate
	})
	return before - len(g.edges), nil
}

func (g *GraphStore) filter(keep func(graphEdge) bool) []graphEdge {
	out := g.edges[:0]
	for _, e := range g.edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Texts returns every text passed to Add.
func (g *GraphStore) Texts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.texts...)
}

// Len returns the number of stored edges.
func (g *GraphStore) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.edges)
}
