package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Entry is one recorded sync attempt. The journal is purely observational:
// the decision logic never reads it, only the status command does.
type Entry struct {
	StartedAt  time.Time
	TargetDate string
	Stage      string // stage the attempt ended in: resolve, probe, download, update, commit
	Outcome    string // synced, noop, failed
	Detail     string
	Duration   time.Duration
}

// Journal is an append-only record of sync attempts backed by a SQLite
// database.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (or creates) the journal database at dbPath.
func OpenJournal(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at  TEXT NOT NULL,
	target_date TEXT NOT NULL,
	stage       TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record appends one attempt entry.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO attempts (started_at, target_date, stage, outcome, detail, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.StartedAt.UTC().Format(time.RFC3339),
		e.TargetDate, e.Stage, e.Outcome, e.Detail,
		e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT started_at, target_date, stage, outcome, detail, duration_ms
		 FROM attempts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var started string
		var durMs int64
		if err := rows.Scan(&started, &e.TargetDate, &e.Stage, &e.Outcome, &e.Detail, &durMs); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		e.StartedAt, _ = time.Parse(time.RFC3339, started)
		e.Duration = time.Duration(durMs) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}
