// Package results persists harness results in a SQLite database so sweeps
// over different traces and configurations can be compared later.
package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/rs/xid"

	"github.com/sarchlab/prefetchsim/harness"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	trace      TEXT NOT NULL,
	digest     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	position        INTEGER NOT NULL,
	prefetcher      TEXT NOT NULL,
	accesses        INTEGER NOT NULL,
	hits            INTEGER NOT NULL,
	misses          INTEGER NOT NULL,
	triggers        INTEGER NOT NULL,
	issued          INTEGER NOT NULL,
	redundant       INTEGER NOT NULL,
	table_evictions INTEGER NOT NULL,
	dropped         INTEGER NOT NULL,
	fills           INTEGER NOT NULL,
	useful          INTEGER NOT NULL,
	late            INTEGER NOT NULL,
	useless         INTEGER NOT NULL,
	wall_time_ns    INTEGER NOT NULL,
	PRIMARY KEY (run_id, position)
);
CREATE INDEX IF NOT EXISTS idx_runs_digest ON runs(digest);
`

// Run describes one stored sweep.
type Run struct {
	ID        string
	CreatedAt time.Time
	Trace     string
	Digest    string
}

// Store is a SQLite-backed result store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores the results of one sweep and returns the new run ID.
func (s *Store) Save(
	ctx context.Context,
	trace, digest string,
	results []harness.Result,
) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := xid.New()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, trace, digest) VALUES (?, ?, ?, ?)`,
		id.String(), id.Time().Unix(), trace, digest,
	); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO results (
		run_id, position, prefetcher, accesses, hits, misses, triggers,
		issued, redundant, table_evictions, dropped, fills, useful, late,
		useless, wall_time_ns
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, r := range results {
		if _, err := stmt.ExecContext(ctx,
			id.String(), i, r.Prefetcher,
			int64(r.Accesses), int64(r.Hits), int64(r.Misses),
			int64(r.Triggers), int64(r.Issued), int64(r.Redundant),
			int64(r.TableEvictions), int64(r.Dropped), int64(r.Fills),
			int64(r.Useful), int64(r.Late), int64(r.Useless),
			int64(r.WallTime),
		); err != nil {
			return "", fmt.Errorf("failed to insert result %s: %w", r.Prefetcher, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return id.String(), nil
}

// Runs lists stored runs, newest first. An empty digest lists every run.
func (s *Store) Runs(ctx context.Context, digest string) ([]Run, error) {
	query := `SELECT id, created_at, trace, digest FROM runs`
	var args []any
	if digest != "" {
		query += ` WHERE digest = ?`
		args = append(args, digest)
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			created int64
		)
		if err := rows.Scan(&r.ID, &created, &r.Trace, &r.Digest); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.CreatedAt = time.Unix(created, 0)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Load returns the results of a run in their original order, with the
// derived rates recomputed.
func (s *Store) Load(ctx context.Context, id string) ([]harness.Result, error) {
	var trace string
	err := s.db.QueryRowContext(ctx,
		`SELECT trace FROM runs WHERE id = ?`, id).Scan(&trace)
	if err != nil {
		return nil, fmt.Errorf("failed to find run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT
		prefetcher, accesses, hits, misses, triggers, issued, redundant,
		table_evictions, dropped, fills, useful, late, useless, wall_time_ns
		FROM results WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []harness.Result
	for rows.Next() {
		r := harness.Result{Name: trace}
		var wall int64
		if err := rows.Scan(
			&r.Prefetcher, &r.Accesses, &r.Hits, &r.Misses, &r.Triggers,
			&r.Issued, &r.Redundant, &r.TableEvictions, &r.Dropped,
			&r.Fills, &r.Useful, &r.Late, &r.Useless, &wall,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.WallTime = time.Duration(wall)
		harness.Derive(&r)
		results = append(results, r)
	}
	return results, rows.Err()
}
