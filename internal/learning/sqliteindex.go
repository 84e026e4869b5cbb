package learning

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, grounded on orc/internal/db/driver/sqlite.go
)

// SQLiteFileName is the additive query index's filename, sitting alongside
// FileName under the same ProjectDir. Grounded on
// randalmurphal-orc/internal/db/driver/sqlite.go's Open (WAL + busy-timeout
// pragmas for safe concurrent access) and Migrate (idempotent schema
// creation) pattern, trimmed to the one table this store needs.
const SQLiteFileName = "agent-team-learning.db"

// SQLiteIndex mirrors QualityEvents into SQLite so a caller can filter by
// time range without deserializing the whole JSON history. The JSON file
// written by Store.persist remains the canonical source of truth (loaded by
// Open on every process start); this index gains one row per RecordEvent of
// a Store it is attached to (WithSQLiteIndex) and is never
// read by the Store itself — only by query callers such as
// `teamctl audit summary --since`.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenSQLiteIndex opens (creating if necessary) the sqlite index for
// workspaceDir, migrating its single table.
func OpenSQLiteIndex(ctx context.Context, workspaceDir string) (*SQLiteIndex, error) {
	dir := filepath.Join(workspaceDir, ProjectDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create learning dir: %w", err)
	}
	path := filepath.Join(dir, SQLiteFileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open learning sqlite index: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS quality_events (
			timestamp       INTEGER NOT NULL,
			task_id         TEXT NOT NULL,
			passed          INTEGER NOT NULL,
			cycles_used     INTEGER NOT NULL,
			aggregate_score INTEGER NOT NULL,
			errors_score    INTEGER NOT NULL,
			escalated       INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_quality_events_timestamp ON quality_events(timestamp);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate learning sqlite index: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// Close closes the underlying database handle.
func (idx *SQLiteIndex) Close() error {
	if idx == nil || idx.db == nil {
		return nil
	}
	return idx.db.Close()
}

// Mirror inserts one event into the index. Failures here are the caller's
// to decide on (Store.RecordEvent discards the error and continues rather than failing
// the canonical JSON write over an index-only problem).
func (idx *SQLiteIndex) Mirror(ctx context.Context, e QualityEvent) error {
	if idx == nil {
		return nil
	}
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO quality_events (timestamp, task_id, passed, cycles_used, aggregate_score, errors_score, escalated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.Unix(), e.TaskID, boolToInt(e.Passed), e.CyclesUsed, e.AggregateScore, e.ErrorsScore, boolToInt(e.Escalated))
	return err
}

// QuerySince returns every mirrored event at or after since, oldest first —
// the backing query for `teamctl audit summary --since`.
func (idx *SQLiteIndex) QuerySince(ctx context.Context, since time.Time) ([]QualityEvent, error) {
	if idx == nil {
		return nil, nil
	}
	rows, err := idx.db.QueryContext(ctx, `
		SELECT timestamp, task_id, passed, cycles_used, aggregate_score, errors_score, escalated
		FROM quality_events
		WHERE timestamp >= ?
		ORDER BY timestamp ASC`, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QualityEvent
	for rows.Next() {
		var e QualityEvent
		var ts int64
		var passed, escalated int
		if err := rows.Scan(&ts, &e.TaskID, &passed, &e.CyclesUsed, &e.AggregateScore, &e.ErrorsScore, &escalated); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		e.Passed = passed != 0
		e.Escalated = escalated != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
