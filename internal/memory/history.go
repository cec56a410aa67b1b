// Package memory holds the memory data model, the capability interfaces of
// the stores it sits on, and the vector and graph operation facades.
package memory

import "time"

// Event is the kind of mutation recorded for a memory.
type Event string

const (
	EventAdd    Event = "ADD"
	EventUpdate Event = "UPDATE"
	EventDelete Event = "DELETE"
	EventNone   Event = "NONE"
)

// HistoryEntry is one append-only row of the mutation log.
// CreatedAt is when the row was written, for every event.
type HistoryEntry struct {
	ID            string    `json:"id"`
	MemoryID      string    `json:"memory_id"`
	PreviousValue string    `json:"previous_value,omitempty"`
	NewValue      string    `json:"new_value,omitempty"`
	Event         Event     `json:"event"`
	ActorID       string    `json:"actor_id,omitempty"`
	Role          string    `json:"role,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
	IsDeleted     bool      `json:"is_deleted"`
}
