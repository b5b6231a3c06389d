package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// sqliteTimeLayout matches the strftime('%Y-%m-%dT%H:%M:%fZ') column default,
// so string comparison orders correctly.
const sqliteTimeLayout = "2006-01-02T15:04:05.000Z"

// SQLiteHistoryRepository implements HistoryRepository using SQLite.
//
// It stores category snapshots as JSON in the state_history table.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a new SQLite history repository.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteHistoryRepository: Repository instance ready for use
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// Record inserts a new history entry.
func (r *SQLiteHistoryRepository) Record(ctx context.Context, podID string, category Category, state any, source string) error {
	if podID == "" {
		return ErrPodIDRequired
	}
	if _, err := ParseCategory(string(category)); err != nil {
		return err
	}
	if source == "" {
		source = HistorySourcePoll
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO state_history (pod_id, category, state, source, created_at) VALUES (?, ?, ?, ?, ?)",
		podID,
		string(category),
		string(stateJSON),
		source,
		time.Now().UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}

	return nil
}

// List returns recent history entries, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - podID: Pod identifier
//   - category: Partition filter, or "" for all
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []HistoryEntry: Entries ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteHistoryRepository) List(ctx context.Context, podID string, category Category, limit int) ([]HistoryEntry, error) {
	if podID == "" {
		return nil, ErrPodIDRequired
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := `SELECT id, pod_id, category, state, source, created_at
		 FROM state_history
		 WHERE pod_id = ?`
	args := []any{podID}
	if category != "" {
		query += " AND category = ?"
		args = append(args, string(category))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var entry HistoryEntry
		var category, stateJSON, createdAt string

		if err := rows.Scan(&entry.ID, &entry.PodID, &category, &stateJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		entry.Category = Category(category)
		entry.State = json.RawMessage(stateJSON)

		timestamp, err := parseHistoryTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// Prune deletes history entries older than the given duration.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteHistoryRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(sqliteTimeLayout)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseHistoryTimestamp parses a timestamp stored in SQLite.
func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return timestamp, nil
}
