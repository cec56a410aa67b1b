package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/memsync/internal/resilience"
)

const factExtractionPrompt = `You extract durable facts about the user from a conversation.
Keep preferences, personal details, plans, decisions and relationships.
Skip greetings, small talk and anything the assistant merely suggested.
Write each fact as one short standalone sentence in the language of the conversation.
Today's date is %s.

Reply with a JSON object of the form {"facts": ["...", "..."]}.
Reply with {"facts": []} when nothing is worth remembering.`

const updateDecisionPrompt = `You maintain a memory store. Compare the new facts with the existing memories
and decide, for every memory and every fact, one event:

- ADD: the fact is new. Use a new id.
- UPDATE: the fact refines an existing memory. Keep the memory id, put the merged text in "text" and the old text in "old_memory".
- DELETE: the fact contradicts an existing memory. Keep the memory id.
- NONE: the memory is unchanged or the fact is already known.

Only use ids listed under existing memories for UPDATE, DELETE and NONE.

Existing memories:
%s

New facts:
%s

Reply with a JSON object of the form
{"memory": [{"id": "0", "text": "...", "event": "UPDATE", "old_memory": "..."}]}.`

// candidate is an existing memory shown to the decision call under a
// short sequential id.
type candidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// decision is one entry of the update-decision reply.
type decision struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Event     Event  `json:"event"`
	OldMemory string `json:"old_memory,omitempty"`
}

// extractFacts asks llm for the facts contained in conversation.
func extractFacts(ctx context.Context, llm LLM, conversation string, now time.Time) ([]string, error) {
	resp, err := llm.GenerateResponse(ctx, []Message{
		{Role: "system", Content: fmt.Sprintf(factExtractionPrompt, now.Format(time.DateOnly))},
		{Role: "user", Content: "Input:\n" + conversation},
	}, FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("memory: fact extraction: %w", err)
	}

	var out struct {
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal([]byte(StripCodeFence(resp)), &out); err != nil {
		return nil, resilience.Tag(resilience.KindIntegrity, fmt.Errorf("memory: parsing facts: %w", err))
	}

	facts := out.Facts[:0]
	for _, f := range out.Facts {
		if f = strings.TrimSpace(f); f != "" {
			facts = append(facts, f)
		}
	}
	return facts, nil
}

// decideUpdates asks llm what to do with facts given the existing memories.
func decideUpdates(ctx context.Context, llm LLM, existing []candidate, facts []string) ([]decision, error) {
	existingJSON, err := json.Marshal(existing)
	if err != nil {
		return nil, err
	}
	factsJSON, err := json.Marshal(facts)
	if err != nil {
		return nil, err
	}

	resp, err := llm.GenerateResponse(ctx, []Message{
		{Role: "user", Content: fmt.Sprintf(updateDecisionPrompt, existingJSON, factsJSON)},
	}, FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("memory: update decision: %w", err)
	}

	var out struct {
		Memory []decision `json:"memory"`
	}
	if err := json.Unmarshal([]byte(StripCodeFence(resp)), &out); err != nil {
		return nil, resilience.Tag(resilience.KindIntegrity, fmt.Errorf("memory: parsing decisions: %w", err))
	}
	for i := range out.Memory {
		out.Memory[i].Event = Event(strings.ToUpper(string(out.Memory[i].Event)))
	}
	return out.Memory, nil
}

// remapIDs replaces store ids with "0", "1", ... and returns the reverse
// mapping.
func remapIDs(records []Record) ([]candidate, map[string]string) {
	cands := make([]candidate, 0, len(records))
	back := make(map[string]string, len(records))
	for i, r := range records {
		short := strconv.Itoa(i)
		back[short] = r.ID
		cands = append(cands, candidate{ID: short, Text: r.Payload[KeyData]})
	}
	return cands, back
}

// StripCodeFence removes a surrounding ```json fence some models emit even
// in JSON mode.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
