// Package history records compile sessions and per-animation outcomes in a
// local SQLite database, so past builds can be listed and failures traced.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// ErrUnknownBuild is returned when a build id has no row.
var ErrUnknownBuild = errors.New("unknown build")

// Job outcomes.
const (
	OutcomeRecompiled = "recompiled"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
)

// schema contains the DDL executed on first open. Times are unix nanoseconds.
const schema = `
CREATE TABLE IF NOT EXISTS builds (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER NOT NULL DEFAULT 0,
    platform    TEXT NOT NULL,
    source_root TEXT NOT NULL,
    recompiled  INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0,
    unused      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS jobs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    build_id     INTEGER NOT NULL REFERENCES builds(id),
    animation    TEXT NOT NULL,
    archive      TEXT NOT NULL DEFAULT '',
    outcome      TEXT NOT NULL,
    stale_reason TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    elapsed_ns   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS jobs_by_animation ON jobs(animation, build_id);
`

// Build is one recorded compile session.
type Build struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Platform   string
	SourceRoot string
	Recompiled int
	Skipped    int
	Failed     int
	Unused     int
}

// Elapsed returns the build duration, zero while unfinished.
func (b Build) Elapsed() time.Duration {
	if b.FinishedAt.IsZero() {
		return 0
	}
	return b.FinishedAt.Sub(b.StartedAt)
}

// Job is one animation outcome within a build.
type Job struct {
	BuildID     int64
	Animation   string
	Archive     string
	Outcome     string
	StaleReason string
	Error       string
	Elapsed     time.Duration
}

// Store is the SQLite-backed build history. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, enables WAL mode and busy
// timeout, and creates the schema if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: mkdir for %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	// SQLite has a single writer; one connection serializes the workers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginBuild inserts a build row and returns its id.
func (s *Store) BeginBuild(ctx context.Context, started time.Time, platform, sourceRoot string) (int64, error) {
	const q = `INSERT INTO builds (started_at, platform, source_root) VALUES (?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, started.UnixNano(), platform, sourceRoot)
	if err != nil {
		return 0, fmt.Errorf("history: begin build: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("history: build id: %w", err)
	}
	return id, nil
}

// RecordJob stores one animation outcome.
func (s *Store) RecordJob(ctx context.Context, j Job) error {
	const q = `INSERT INTO jobs (build_id, animation, archive, outcome, stale_reason, error, elapsed_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, j.BuildID, j.Animation, j.Archive, j.Outcome, j.StaleReason, j.Error, int64(j.Elapsed)); err != nil {
		return fmt.Errorf("history: record job %s: %w", j.Animation, err)
	}
	return nil
}

// FinishBuild stores the totals of a build.
func (s *Store) FinishBuild(ctx context.Context, b Build) error {
	const q = `UPDATE builds SET finished_at = ?, recompiled = ?, skipped = ?, failed = ?, unused = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, b.FinishedAt.UnixNano(), b.Recompiled, b.Skipped, b.Failed, b.Unused, b.ID)
	if err != nil {
		return fmt.Errorf("history: finish build %d: %w", b.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("history: finish build %d: %w", b.ID, ErrUnknownBuild)
	}
	return nil
}

// Recent returns up to limit builds, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Build, error) {
	const q = `SELECT id, started_at, finished_at, platform, source_root, recompiled, skipped, failed, unused
		FROM builds ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent builds: %w", err)
	}
	defer rows.Close()

	var out []Build
	for rows.Next() {
		var (
			b                 Build
			started, finished int64
		)
		if err := rows.Scan(&b.ID, &started, &finished, &b.Platform, &b.SourceRoot, &b.Recompiled, &b.Skipped, &b.Failed, &b.Unused); err != nil {
			return nil, fmt.Errorf("history: scan build: %w", err)
		}
		b.StartedAt = time.Unix(0, started)
		if finished != 0 {
			b.FinishedAt = time.Unix(0, finished)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate builds: %w", err)
	}
	return out, nil
}

// Jobs returns the recorded outcomes of one build, ordered by animation.
func (s *Store) Jobs(ctx context.Context, buildID int64) ([]Job, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM builds WHERE id = ?", buildID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history: build %d: %w", buildID, ErrUnknownBuild)
	}
	if err != nil {
		return nil, fmt.Errorf("history: build %d: %w", buildID, err)
	}
	return s.queryJobs(ctx, `SELECT build_id, animation, archive, outcome, stale_reason, error, elapsed_ns
		FROM jobs WHERE build_id = ? ORDER BY animation`, buildID)
}

// AnimationJobs returns up to limit outcomes for one animation, newest first.
func (s *Store) AnimationJobs(ctx context.Context, animation string, limit int) ([]Job, error) {
	return s.queryJobs(ctx, `SELECT build_id, animation, archive, outcome, stale_reason, error, elapsed_ns
		FROM jobs WHERE animation = ? ORDER BY build_id DESC LIMIT ?`, animation, limit)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var (
			j       Job
			elapsed int64
		)
		if err := rows.Scan(&j.BuildID, &j.Animation, &j.Archive, &j.Outcome, &j.StaleReason, &j.Error, &elapsed); err != nil {
			return nil, fmt.Errorf("history: scan job: %w", err)
		}
		j.Elapsed = time.Duration(elapsed)
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate jobs: %w", err)
	}
	return out, nil
}
