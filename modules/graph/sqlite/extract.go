package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/resilience"
)

const extractPrompt = `You build a knowledge graph from text.
Extract every relationship between two entities as a (source, relationship, destination) triple.
Use "%s" as the source for anything the text says about the speaker (I, me, my).
Entities are short noun phrases. Relationships are short verbs in the present tense.

Reply with a JSON object of the form
{"relations": [{"source": "...", "relationship": "...", "destination": "..."}]}.
Reply with {"relations": []} when the text holds no relationship.`

const contradictionPrompt = `You maintain a knowledge graph. Given the existing relationships and new information,
list the existing relationships that the new information makes outdated or contradicts.
Do not list a relationship only because it is similar. Keep relationships that can both be true.

Existing relationships:
%s

New information:
%s

Reply with a JSON object of the form
{"delete": [{"source": "...", "relationship": "...", "destination": "..."}]}.`

// extractRelations asks the LLM for the triples held by text.
func (s *Store) extractRelations(ctx context.Context, text, self string) ([]memory.Relation, error) {
	resp, err := s.llm.GenerateResponse(ctx, []memory.Message{
		{Role: "system", Content: fmt.Sprintf(extractPrompt, self)},
		{Role: "user", Content: text},
	}, memory.FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("sqlite: relation extraction: %w", err)
	}

	var out struct {
		Relations []memory.Relation `json:"relations"`
	}
	if err := json.Unmarshal([]byte(memory.StripCodeFence(resp)), &out); err != nil {
		return nil, resilience.Tag(resilience.KindIntegrity, fmt.Errorf("sqlite: parsing relations: %w", err))
	}
	return normalizeAll(out.Relations), nil
}

// contradicted asks the LLM which of existing are invalidated by text.
func (s *Store) contradicted(ctx context.Context, existing []memory.Relation, text string) ([]memory.Relation, error) {
	if len(existing) == 0 {
		return nil, nil
	}
	var b strings.Builder
	for _, r := range existing {
		fmt.Fprintf(&b, "%s -- %s -- %s\n", r.Source, r.Relationship, r.Destination)
	}

	resp, err := s.llm.GenerateResponse(ctx, []memory.Message{
		{Role: "user", Content: fmt.Sprintf(contradictionPrompt, b.String(), text)},
	}, memory.FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("sqlite: contradiction check: %w", err)
	}

	var out struct {
		Delete []memory.Relation `json:"delete"`
	}
	if err := json.Unmarshal([]byte(memory.StripCodeFence(resp)), &out); err != nil {
		return nil, resilience.Tag(resilience.KindIntegrity, fmt.Errorf("sqlite: parsing deletions: %w", err))
	}

	// Only existing edges may be deleted.
	known := make(map[memory.Relation]bool, len(existing))
	for _, r := range existing {
		known[r] = true
	}
	var del []memory.Relation
	for _, r := range normalizeAll(out.Delete) {
		if known[r] {
			del = append(del, r)
		}
	}
	return del, nil
}

// normalizeAll lower-cases and snake-cases each triple, dropping incomplete
// and duplicate ones.
func normalizeAll(rels []memory.Relation) []memory.Relation {
	seen := make(map[memory.Relation]bool, len(rels))
	out := make([]memory.Relation, 0, len(rels))
	for _, r := range rels {
		r = memory.Relation{
			Source:       normalize(r.Source),
			Relationship: normalize(r.Relationship),
			Destination:  normalize(r.Destination),
		}
		if r.Source == "" || r.Relationship == "" || r.Destination == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "_")
}
