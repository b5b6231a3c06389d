package freesleep

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/freesleep-core/internal/device"
)

// Command outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

const (
	defaultCommandLogLimit = 50
	maxCommandLogLimit     = 500
)

// commandLogTimeLayout matches the strftime('%Y-%m-%dT%H:%M:%fZ') column default.
const commandLogTimeLayout = "2006-01-02T15:04:05.000Z"

// Record describes one executed command.
type Record struct {
	ID           string          `json:"id"`
	PodID        string          `json:"pod_id"`
	Kind         Kind            `json:"kind"`
	Side         device.Side     `json:"side,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	Source       string          `json:"source"`
	Outcome      string          `json:"outcome"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Duration     time.Duration   `json:"duration_ms"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MarshalJSON reports Duration in milliseconds.
func (r Record) MarshalJSON() ([]byte, error) {
	type alias Record
	return json.Marshal(struct {
		alias
		Duration int64 `json:"duration_ms"`
	}{alias: alias(r), Duration: r.Duration.Milliseconds()})
}

// CommandLog persists executed commands.
type CommandLog interface {
	// Append stores one record.
	Append(ctx context.Context, rec Record) error

	// List returns the newest records for a pod, newest first.
	// kind filters by command kind when non-empty.
	List(ctx context.Context, podID string, kind Kind, limit int) ([]Record, error)
}

// SQLiteCommandLog implements CommandLog on the command_log table.
type SQLiteCommandLog struct {
	db *sql.DB
}

// NewSQLiteCommandLog creates a command log backed by db.
func NewSQLiteCommandLog(db *sql.DB) *SQLiteCommandLog {
	return &SQLiteCommandLog{db: db}
}

// Append stores one record.
func (l *SQLiteCommandLog) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("command id is required")
	}
	if rec.PodID == "" {
		return device.ErrPodIDRequired
	}

	params := string(rec.Params)
	if params == "" {
		params = "{}"
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO command_log
			(id, pod_id, kind, side, params, source, outcome, error_code, error_message, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.PodID,
		string(rec.Kind),
		nullString(string(rec.Side)),
		params,
		rec.Source,
		rec.Outcome,
		nullString(rec.ErrorCode),
		nullString(rec.ErrorMessage),
		rec.Duration.Milliseconds(),
		createdAt.UTC().Format(commandLogTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command log: %w", err)
	}
	return nil
}

// List returns the newest records for a pod.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - podID: Pod identifier
//   - kind: Filter, or "" for every kind
//   - limit: Maximum records (default 50, max 500)
//
// Returns:
//   - []Record: Records ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (l *SQLiteCommandLog) List(ctx context.Context, podID string, kind Kind, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultCommandLogLimit
	}
	if limit > maxCommandLogLimit {
		limit = maxCommandLogLimit
	}

	query := `SELECT id, pod_id, kind, side, params, source, outcome, error_code, error_message, duration_ms, created_at
		FROM command_log WHERE pod_id = ?`
	args := []any{podID}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec                 Record
			kindStr, params     string
			side, code, message sql.NullString
			durationMS          int64
			createdAt           string
		)
		if err := rows.Scan(&rec.ID, &rec.PodID, &kindStr, &side, &params, &rec.Source,
			&rec.Outcome, &code, &message, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command log row: %w", err)
		}
		rec.Kind = Kind(kindStr)
		rec.Side = device.Side(side.String)
		rec.Params = json.RawMessage(params)
		rec.ErrorCode = code.String
		rec.ErrorMessage = message.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log rows: %w", err)
	}
	return records, nil
}

// Prune deletes records older than the given age.
func (l *SQLiteCommandLog) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(commandLogTimeLayout)
	result, err := l.db.ExecContext(ctx, "DELETE FROM command_log WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning command log: %w", err)
	}
	return result.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
