// Package usage keeps a local ledger of completed jobs in SQLite:
// what ran, in which role, how long it took and how it ended. The
// status command reads it back for a quick accounting summary.
package usage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    job_name     TEXT NOT NULL,
    role         TEXT NOT NULL,
    status       TEXT NOT NULL,
    exit_code    INTEGER NOT NULL DEFAULT 0,
    started_at   TEXT NOT NULL,
    completed_at TEXT NOT NULL,
    duration_ms  INTEGER NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_job_history_role ON job_history(role);
`

// Record is one finished job, locally run or remotely dispatched.
type Record struct {
	ID          int64
	JobName     string
	Role        string // "sharer", "renter" or "local"
	Status      string
	ExitCode    int
	StartedAt   time.Time
	CompletedAt time.Time
	DurationMs  int64
	Error       string
}

// Summary aggregates the ledger for display.
type Summary struct {
	Total       int
	Succeeded   int
	Failed      int
	SharedJobs  int // jobs run for renters
	RentedJobs  int // jobs dispatched to sharers
	TotalTimeMs int64
}

// Store is the SQLite-backed ledger.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the ledger database and runs the schema.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends a finished job to the ledger.
func (s *Store) Insert(r Record) error {
	_, err := s.db.Exec(`
		INSERT INTO job_history (
			job_name, role, status, exit_code,
			started_at, completed_at, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.JobName, r.Role, r.Status, r.ExitCode,
		r.StartedAt.UTC().Format(time.RFC3339), r.CompletedAt.UTC().Format(time.RFC3339),
		r.DurationMs, r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Recent returns the newest records, most recent first.
func (s *Store) Recent(limit int) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, job_name, role, status, exit_code,
		       started_at, completed_at, duration_ms, error
		FROM job_history
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var startedAt, completedAt string
		if err := rows.Scan(
			&r.ID, &r.JobName, &r.Role, &r.Status, &r.ExitCode,
			&startedAt, &completedAt, &r.DurationMs, &r.Error,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
			r.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339, completedAt); err == nil {
			r.CompletedAt = t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summarize aggregates the whole ledger.
func (s *Store) Summarize() (Summary, error) {
	var sum Summary
	rows, err := s.db.Query(`SELECT role, status, duration_ms FROM job_history`)
	if err != nil {
		return sum, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role, status string
		var durationMs int64
		if err := rows.Scan(&role, &status, &durationMs); err != nil {
			return sum, fmt.Errorf("scan row: %w", err)
		}
		sum.Total++
		sum.TotalTimeMs += durationMs
		if status == "done" {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
		switch role {
		case "sharer":
			sum.SharedJobs++
		case "renter":
			sum.RentedJobs++
		}
	}
	return sum, rows.Err()
}
