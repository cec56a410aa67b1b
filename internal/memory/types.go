package memory

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Reserved payload keys.
const (
	KeyData      = "data"
	KeyHash      = "hash"
	KeyCreatedAt = "created_at"
	KeyUpdatedAt = "updated_at"
	KeyUserID    = "user_id"
	KeyAgentID   = "agent_id"
	KeyRunID     = "run_id"
	KeyActorID   = "actor_id"
	KeyRole      = "role"
)

// identityKeys are promoted to the top level of an Item and survive updates.
var identityKeys = []string{KeyUserID, KeyAgentID, KeyRunID, KeyActorID, KeyRole}

// Message is one conversation turn handed to Add.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Filters scopes an operation to a user, agent, run or actor. Keys are the
// identity payload keys.
type Filters map[string]string

// Clone returns a copy of f. A nil f stays nil.
func (f Filters) Clone() Filters {
	if f == nil {
		return nil
	}
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Matches reports whether p carries every key/value of f.
func (f Filters) Matches(p Payload) bool {
	for k, v := range f {
		if p[k] != v {
			return false
		}
	}
	return true
}

// Payload is the metadata stored next to a vector. Backends persist string
// values only; timestamps are RFC 3339 with nanoseconds.
type Payload map[string]string

// Clone returns a copy of p.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Record is a vector store row.
type Record struct {
	ID      string
	Payload Payload
	Score   *float64
}

// Item is the caller-facing shape of a memory: identity fields promoted, the
// remaining payload keys under Metadata.
type Item struct {
	ID        string            `json:"id"`
	Memory    string            `json:"memory"`
	Hash      string            `json:"hash"`
	UserID    string            `json:"user_id,omitempty"`
	AgentID   string            `json:"agent_id,omitempty"`
	RunID     string            `json:"run_id,omitempty"`
	ActorID   string            `json:"actor_id,omitempty"`
	Role      string            `json:"role,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Score     *float64          `json:"score,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at,omitzero"`
}

// Payload rebuilds the stored payload of it.
func (it Item) Payload() Payload {
	p := make(Payload, len(it.Metadata)+8)
	for k, v := range it.Metadata {
		p[k] = v
	}
	p[KeyData] = it.Memory
	p[KeyHash] = it.Hash
	setIf(p, KeyUserID, it.UserID)
	setIf(p, KeyAgentID, it.AgentID)
	setIf(p, KeyRunID, it.RunID)
	setIf(p, KeyActorID, it.ActorID)
	setIf(p, KeyRole, it.Role)
	if !it.CreatedAt.IsZero() {
		p[KeyCreatedAt] = formatTime(it.CreatedAt)
	}
	if !it.UpdatedAt.IsZero() {
		p[KeyUpdatedAt] = formatTime(it.UpdatedAt)
	}
	return p
}

// itemFromRecord reshapes a store record. Score is kept only when withScore.
func itemFromRecord(r Record, withScore bool) Item {
	it := Item{
		ID:        r.ID,
		Memory:    r.Payload[KeyData],
		Hash:      r.Payload[KeyHash],
		UserID:    r.Payload[KeyUserID],
		AgentID:   r.Payload[KeyAgentID],
		RunID:     r.Payload[KeyRunID],
		ActorID:   r.Payload[KeyActorID],
		Role:      r.Payload[KeyRole],
		CreatedAt: parseTime(r.Payload[KeyCreatedAt]),
		UpdatedAt: parseTime(r.Payload[KeyUpdatedAt]),
	}
	if withScore {
		it.Score = r.Score
	}
	for k, v := range r.Payload {
		switch k {
		case KeyData, KeyHash, KeyCreatedAt, KeyUpdatedAt,
			KeyUserID, KeyAgentID, KeyRunID, KeyActorID, KeyRole:
			continue
		}
		if it.Metadata == nil {
			it.Metadata = make(map[string]string)
		}
		it.Metadata[k] = v
	}
	return it
}

// MemoryEvent describes one mutation applied by Add, Update or Delete.
type MemoryEvent struct {
	ID       string `json:"id"`
	Memory   string `json:"memory"`
	Event    Event  `json:"event"`
	Previous string `json:"previous_memory,omitempty"`

	// Before is the pre-image for UPDATE and DELETE events.
	Before *Item `json:"-"`
}

// AddOptions configures VectorOps.Add.
type AddOptions struct {
	Metadata map[string]string
	Filters  Filters
	Infer    bool
}

// SearchOptions configures VectorOps.Search.
type SearchOptions struct {
	Filters Filters
	Limit   int

	// Threshold drops results whose native store score is below it. Score
	// semantics depend on the backend. Nil disables the cut.
	Threshold *float64
}

// Relation is one edge held by the graph store.
type Relation struct {
	Source       string `json:"source"`
	Relationship string `json:"relationship"`
	Destination  string `json:"destination"`
}

// GraphAddResult reports the edges a graph Add created and removed.
type GraphAddResult struct {
	AddedEntities   []Relation `json:"added_entities"`
	DeletedEntities []Relation `json:"deleted_entities,omitempty"`
}

// Hash returns the md5 hex fingerprint stored under the "hash" key.
func Hash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func setIf(p Payload, k, v string) {
	if v != "" {
		p[k] = v
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
