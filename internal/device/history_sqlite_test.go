package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupHistoryTestDB creates an in-memory SQLite database with the state_history table.
func setupHistoryTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE state_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			pod_id     TEXT NOT NULL,
			category   TEXT NOT NULL,
			state      TEXT NOT NULL,
			source     TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// insertHistoryRow inserts a row with a specific timestamp.
func insertHistoryRow(t *testing.T, db *sql.DB, podID string, category Category, createdAt time.Time) {
	t.Helper()

	_, err := db.Exec(
		"INSERT INTO state_history (pod_id, category, state, source, created_at) VALUES (?, ?, '{}', 'poll', ?)",
		podID,
		string(category),
		createdAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		t.Fatalf("failed to insert history row: %v", err)
	}
}

func TestHistory_RecordAndList(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	status := Status{Left: SideStatus{IsOn: true, TargetTemperatureF: 80}}
	if err := repo.Record(ctx, "pod", CategoryStatus, status, HistorySourcePoll); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := repo.Record(ctx, "pod", CategoryBase, Base{HeadAngle: 30}, HistorySourceCommand); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := repo.List(ctx, "pod", CategoryStatus, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}

	entry := entries[0]
	if entry.PodID != "pod" || entry.Category != CategoryStatus || entry.Source != HistorySourcePoll {
		t.Errorf("entry = %+v", entry)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}

	var got Status
	if err := json.Unmarshal(entry.State, &got); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if !got.Left.IsOn || got.Left.TargetTemperatureF != 80 {
		t.Errorf("state = %+v", got.Left)
	}

	all, err := repo.List(ctx, "pod", "", 10)
	if err != nil {
		t.Fatalf("List(all) error = %v", err)
	}
	if len(all) != 2 || all[0].Category != CategoryBase {
		t.Errorf("List(all) = %d entries, newest %q; want 2 with base first", len(all), all[0].Category)
	}
}

func TestHistory_Validation(t *testing.T) {
	repo := NewSQLiteHistoryRepository(setupHistoryTestDB(t))
	ctx := context.Background()

	if err := repo.Record(ctx, "", CategoryStatus, nil, ""); !errors.Is(err, ErrPodIDRequired) {
		t.Errorf("Record(no pod) error = %v, want ErrPodIDRequired", err)
	}
	if err := repo.Record(ctx, "pod", "firmware", nil, ""); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("Record(bad category) error = %v, want ErrUnknownCategory", err)
	}
	if _, err := repo.List(ctx, "", "", 0); !errors.Is(err, ErrPodIDRequired) {
		t.Errorf("List(no pod) error = %v, want ErrPodIDRequired", err)
	}
}

func TestHistory_ListLimits(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < maxHistoryLimit+5; i++ {
		insertHistoryRow(t, db, "pod", CategoryStatus, base.Add(time.Duration(i)*time.Second))
	}

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"default", 0, defaultHistoryLimit},
		{"explicit", 5, 5},
		{"clamped", maxHistoryLimit + 100, maxHistoryLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := repo.List(context.Background(), "pod", CategoryStatus, tt.limit)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("len = %d, want %d", len(entries), tt.want)
			}
			if len(entries) > 1 && entries[0].CreatedAt.Before(entries[1].CreatedAt) {
				t.Error("entries not ordered newest first")
			}
		})
	}
}

func TestHistory_Prune(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	now := time.Now().UTC()

	insertHistoryRow(t, db, "pod", CategoryStatus, now.Add(-48*time.Hour))
	insertHistoryRow(t, db, "pod", CategoryBase, now.Add(-47*time.Hour))
	insertHistoryRow(t, db, "pod", CategoryStatus, now.Add(-time.Minute))

	deleted, err := repo.Prune(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	if _, err := repo.Prune(context.Background(), 0); err == nil {
		t.Error("Prune(0) should fail")
	}
}
