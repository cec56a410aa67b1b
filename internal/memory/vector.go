package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/memsync/internal/resilience"
)

const (
	defaultSearchCandidates = 5
	defaultListLimit        = 100
)

// VectorOps performs memory mutations against a VectorStore and records each
// one in the HistoryLog. It is safe for concurrent use when its dependencies
// are.
type VectorOps struct {
	store    VectorStore
	embedder Embedder
	llm      LLM
	history  HistoryLog

	candidates int
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// VectorOption configures optional VectorOps behavior.
type VectorOption func(*VectorOps)

// WithVectorLogger injects a structured logger.
func WithVectorLogger(l *slog.Logger) VectorOption {
	return func(v *VectorOps) { v.logger = l }
}

// WithSearchCandidates sets how many existing memories are fetched per fact
// during inference. Default: 5.
func WithSearchCandidates(n int) VectorOption {
	return func(v *VectorOps) {
		if n > 0 {
			v.candidates = n
		}
	}
}

// WithVectorClock replaces time.Now. Intended for tests.
func WithVectorClock(now func() time.Time) VectorOption {
	return func(v *VectorOps) { v.now = now }
}

// WithIDGenerator replaces uuid.NewString. Intended for tests.
func WithIDGenerator(fn func() string) VectorOption {
	return func(v *VectorOps) { v.newID = fn }
}

// NewVectorOps creates VectorOps. llm may be nil when inference is never
// requested.
func NewVectorOps(store VectorStore, embedder Embedder, llm LLM, history HistoryLog, opts ...VectorOption) *VectorOps {
	v := &VectorOps{
		store:      store,
		embedder:   embedder,
		llm:        llm,
		history:    history,
		candidates: defaultSearchCandidates,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	return v
}

// Store returns the underlying vector store.
func (v *VectorOps) Store() VectorStore { return v.store }

// Add stores messages as memories. Without inference every non-system
// message becomes one memory. With inference an LLM extracts facts and
// decides per fact whether to add, update or delete existing memories; a
// failure on one fact is logged and the rest of the batch continues.
func (v *VectorOps) Add(ctx context.Context, messages []Message, opts AddOptions) ([]MemoryEvent, error) {
	if err := requireScope(opts.Filters); err != nil {
		return nil, err
	}

	base := make(Payload, len(opts.Metadata)+len(opts.Filters))
	for k, val := range opts.Metadata {
		base[k] = val
	}
	for k, val := range opts.Filters {
		base[k] = val
	}

	if !opts.Infer {
		return v.addRaw(ctx, messages, base)
	}
	return v.addInferred(ctx, messages, base, opts.Filters)
}

func (v *VectorOps) addRaw(ctx context.Context, messages []Message, base Payload) ([]MemoryEvent, error) {
	var events []MemoryEvent
	for _, m := range messages {
		if m.Role == "" || m.Content == "" {
			v.logger.Debug("skipping malformed message", "role", m.Role)
			continue
		}
		if m.Role == "system" {
			continue
		}
		p := base.Clone()
		p[KeyRole] = m.Role
		if m.Name != "" {
			p[KeyActorID] = m.Name
		}
		ev, err := v.createMemory(ctx, m.Content, nil, p)
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (v *VectorOps) addInferred(ctx context.Context, messages []Message, base Payload, filters Filters) ([]MemoryEvent, error) {
	if v.llm == nil {
		return nil, resilience.Tagf(resilience.KindValidation, "memory: inference requested without an LLM")
	}

	facts, err := extractFacts(ctx, v.llm, conversation(messages), v.now())
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		v.logger.Debug("no facts extracted")
		return nil, nil
	}

	vectors := make(map[string][]float32, len(facts))
	var existing []Record
	seen := make(map[string]bool)
	for _, fact := range facts {
		vec, err := v.embedder.Embed(ctx, fact, PurposeAdd)
		if err != nil {
			v.logger.Warn("embedding fact failed", "error", err)
			continue
		}
		vectors[fact] = vec

		found, err := v.store.Search(ctx, fact, vec, v.candidates, filters)
		if err != nil {
			v.logger.Warn("searching merge candidates failed", "error", err)
			continue
		}
		for _, r := range found {
			if !seen[r.ID] {
				seen[r.ID] = true
				existing = append(existing, r)
			}
		}
	}

	cands, back := remapIDs(existing)
	decisions, err := decideUpdates(ctx, v.llm, cands, facts)
	if err != nil {
		return nil, err
	}

	var events []MemoryEvent
	for _, d := range decisions {
		ev, ok, err := v.apply(ctx, d, back, vectors, base)
		if err != nil {
			v.logger.Warn("applying memory decision failed",
				"event", d.Event,
				"id", d.ID,
				"error", err,
			)
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// apply executes one decision. ok is false for NONE and for decisions that
// were skipped.
func (v *VectorOps) apply(ctx context.Context, d decision, back map[string]string, vectors map[string][]float32, base Payload) (MemoryEvent, bool, error) {
	switch d.Event {
	case EventAdd:
		if d.Text == "" {
			return MemoryEvent{}, false, nil
		}
		ev, err := v.createMemory(ctx, d.Text, vectors[d.Text], base.Clone())
		return ev, err == nil, err
	case EventUpdate:
		id, ok := back[d.ID]
		if !ok {
			return MemoryEvent{}, false, resilience.Tagf(resilience.KindIntegrity, "memory: decision references unknown id %q", d.ID)
		}
		ev, err := v.updateMemory(ctx, id, d.Text, vectors[d.Text], base)
		return ev, err == nil, err
	case EventDelete:
		id, ok := back[d.ID]
		if !ok {
			return MemoryEvent{}, false, resilience.Tagf(resilience.KindIntegrity, "memory: decision references unknown id %q", d.ID)
		}
		ev, err := v.deleteMemory(ctx, id)
		return ev, err == nil, err
	default:
		return MemoryEvent{}, false, nil
	}
}

// Get returns the memory with id.
func (v *VectorOps) Get(ctx context.Context, id string) (*Item, error) {
	rec, err := v.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("memory: get %s: %w", id, err)
	}
	if rec == nil {
		return nil, notFound(id)
	}
	it := itemFromRecord(*rec, false)
	return &it, nil
}

// GetAll lists memories matching filters. limit <= 0 uses 100.
func (v *VectorOps) GetAll(ctx context.Context, filters Filters, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	recs, err := v.store.List(ctx, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: list: %w", err)
	}
	items := make([]Item, 0, len(recs))
	for _, r := range recs {
		items = append(items, itemFromRecord(r, false))
	}
	return items, nil
}

// Search returns memories similar to query.
func (v *VectorOps) Search(ctx context.Context, query string, opts SearchOptions) ([]Item, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	vec, err := v.embedder.Embed(ctx, query, PurposeSearch)
	if err != nil {
		return nil, fmt.Errorf("memory: embedding query: %w", err)
	}
	recs, err := v.store.Search(ctx, query, vec, limit, opts.Filters)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}

	items := make([]Item, 0, len(recs))
	for _, r := range recs {
		if opts.Threshold != nil && (r.Score == nil || *r.Score < *opts.Threshold) {
			continue
		}
		items = append(items, itemFromRecord(r, true))
	}
	return items, nil
}

// Update replaces the text of memory id.
func (v *VectorOps) Update(ctx context.Context, id, text string) (MemoryEvent, error) {
	if strings.TrimSpace(text) == "" {
		return MemoryEvent{}, resilience.Tagf(resilience.KindValidation, "memory: update %s: empty text", id)
	}
	return v.updateMemory(ctx, id, text, nil, nil)
}

// Delete removes memory id.
func (v *VectorOps) Delete(ctx context.Context, id string) (MemoryEvent, error) {
	return v.deleteMemory(ctx, id)
}

// DeleteAll removes every memory matching filters, which must name a scope.
// Memories deleted before a failure are still reported.
func (v *VectorOps) DeleteAll(ctx context.Context, filters Filters) ([]MemoryEvent, error) {
	if err := requireScope(filters); err != nil {
		return nil, err
	}
	recs, err := v.store.List(ctx, filters, 0)
	if err != nil {
		return nil, fmt.Errorf("memory: list: %w", err)
	}

	var (
		events []MemoryEvent
		errs   []error
	)
	for _, r := range recs {
		ev, err := v.deleteMemory(ctx, r.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}
	return events, errors.Join(errs...)
}

// Restore re-inserts a pre-image captured by Update or Delete under its
// original id.
func (v *VectorOps) Restore(ctx context.Context, it Item) error {
	if it.ID == "" {
		return resilience.Tagf(resilience.KindValidation, "memory: restore: missing id")
	}
	vec, err := v.embedder.Embed(ctx, it.Memory, PurposeAdd)
	if err != nil {
		return fmt.Errorf("memory: restore %s: embedding: %w", it.ID, err)
	}
	if it.Hash == "" {
		it.Hash = Hash(it.Memory)
	}
	p := it.Payload()
	if err := v.store.Insert(ctx, [][]float32{vec}, []string{it.ID}, []Payload{p}); err != nil {
		return fmt.Errorf("memory: restore %s: %w", it.ID, err)
	}
	v.record(ctx, HistoryEntry{
		MemoryID:  it.ID,
		NewValue:  it.Memory,
		Event:     EventAdd,
		ActorID:   it.ActorID,
		Role:      it.Role,
		CreatedAt: v.now(),
	})
	return nil
}

// History returns the mutation log of memory id.
func (v *VectorOps) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	entries, err := v.history.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("memory: history %s: %w", id, err)
	}
	return entries, nil
}

func (v *VectorOps) createMemory(ctx context.Context, data string, vec []float32, p Payload) (MemoryEvent, error) {
	if vec == nil {
		var err error
		if vec, err = v.embedder.Embed(ctx, data, PurposeAdd); err != nil {
			return MemoryEvent{}, fmt.Errorf("memory: embedding: %w", err)
		}
	}

	id := v.newID()
	now := v.now()
	p[KeyData] = data
	p[KeyHash] = Hash(data)
	p[KeyCreatedAt] = formatTime(now)

	if err := v.store.Insert(ctx, [][]float32{vec}, []string{id}, []Payload{p}); err != nil {
		return MemoryEvent{}, fmt.Errorf("memory: insert: %w", err)
	}
	v.record(ctx, HistoryEntry{
		MemoryID:  id,
		NewValue:  data,
		Event:     EventAdd,
		ActorID:   p[KeyActorID],
		Role:      p[KeyRole],
		CreatedAt: now,
	})

	v.logger.Debug("memory created", "id", id)
	return MemoryEvent{ID: id, Memory: data, Event: EventAdd}, nil
}

// updateMemory rewrites id with data. Identity keys and created_at come from
// the stored record; other keys from extra overlay the stored ones.
func (v *VectorOps) updateMemory(ctx context.Context, id, data string, vec []float32, extra Payload) (MemoryEvent, error) {
	rec, err := v.store.Get(ctx, id)
	if err != nil {
		return MemoryEvent{}, fmt.Errorf("memory: get %s: %w", id, err)
	}
	if rec == nil {
		return MemoryEvent{}, notFound(id)
	}
	before := itemFromRecord(*rec, false)

	p := rec.Payload.Clone()
	for k, val := range extra {
		if isIdentityKey(k) || k == KeyCreatedAt {
			continue
		}
		p[k] = val
	}
	now := v.now()
	p[KeyData] = data
	p[KeyHash] = Hash(data)
	p[KeyUpdatedAt] = formatTime(now)

	if vec == nil {
		if vec, err = v.embedder.Embed(ctx, data, PurposeUpdate); err != nil {
			return MemoryEvent{}, fmt.Errorf("memory: embedding: %w", err)
		}
	}
	if err := v.store.Update(ctx, id, vec, p); err != nil {
		return MemoryEvent{}, fmt.Errorf("memory: update %s: %w", id, err)
	}
	v.record(ctx, HistoryEntry{
		MemoryID:      id,
		PreviousValue: before.Memory,
		NewValue:      data,
		Event:         EventUpdate,
		ActorID:       p[KeyActorID],
		Role:          p[KeyRole],
		CreatedAt:     now,
		UpdatedAt:     now,
	})

	return MemoryEvent{
		ID:       id,
		Memory:   data,
		Event:    EventUpdate,
		Previous: before.Memory,
		Before:   &before,
	}, nil
}

func (v *VectorOps) deleteMemory(ctx context.Context, id string) (MemoryEvent, error) {
	rec, err := v.store.Get(ctx, id)
	if err != nil {
		return MemoryEvent{}, fmt.Errorf("memory: get %s: %w", id, err)
	}
	if rec == nil {
		return MemoryEvent{}, notFound(id)
	}
	before := itemFromRecord(*rec, false)

	if err := v.store.Delete(ctx, id); err != nil {
		return MemoryEvent{}, fmt.Errorf("memory: delete %s: %w", id, err)
	}
	v.record(ctx, HistoryEntry{
		MemoryID:      id,
		PreviousValue: before.Memory,
		Event:         EventDelete,
		ActorID:       before.ActorID,
		Role:          before.Role,
		CreatedAt:     v.now(),
		IsDeleted:     true,
	})

	return MemoryEvent{
		ID:       id,
		Memory:   before.Memory,
		Event:    EventDelete,
		Previous: before.Memory,
		Before:   &before,
	}, nil
}

// record appends to the history log. The store mutation has already been
// applied, so a history failure is logged rather than returned.
func (v *VectorOps) record(ctx context.Context, e HistoryEntry) {
	if v.history == nil {
		return
	}
	if err := v.history.AddHistory(ctx, e); err != nil {
		v.logger.Error("appending history failed",
			"memory_id", e.MemoryID,
			"event", e.Event,
			"error", err,
		)
	}
}

// conversation renders the non-system messages as "role: content" lines.
func conversation(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == "system" || m.Content == "" {
			continue
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// requireScope rejects filters that name no user, agent or run.
func requireScope(f Filters) error {
	if f[KeyUserID] == "" && f[KeyAgentID] == "" && f[KeyRunID] == "" {
		return resilience.Tagf(resilience.KindValidation, "memory: one of user_id, agent_id or run_id is required")
	}
	return nil
}

func isIdentityKey(k string) bool {
	return slices.Contains(identityKeys, k)
}
