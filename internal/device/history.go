package device

import (
	"context"
	"encoding/json"
	"time"
)

// History source values.
const (
	HistorySourcePoll    = "poll"
	HistorySourceCommand = "command"
)

// HistoryEntry is one recorded category snapshot.
//
// Entries are written when a category's content changes, giving a local
// record of pod state even when the time-series database is unavailable.
type HistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// PodID identifies the pod the state belongs to.
	PodID string `json:"pod_id"`

	// Category is the snapshot partition the state came from.
	Category Category `json:"category"`

	// State is the category value as JSON.
	State json.RawMessage `json:"state"`

	// Source identifies what produced the change (poll, command).
	Source string `json:"source"`

	// CreatedAt is the time the entry was written (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRepository stores and retrieves category snapshots.
//
// Implementations must be thread-safe and use UTC timestamps.
type HistoryRepository interface {
	// Record stores one category snapshot.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - podID: Pod identifier
	//   - category: Snapshot partition
	//   - state: Category value, marshalled to JSON
	//   - source: Origin of the change (poll, command)
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	Record(ctx context.Context, podID string, category Category, state any, source string) error

	// List returns recent entries, newest first. An empty category lists all.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - podID: Pod identifier
	//   - category: Snapshot partition filter, or "" for every category
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []HistoryEntry: Entries ordered newest first (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	List(ctx context.Context, podID string, category Category, limit int) ([]HistoryEntry, error)
}
