// Package sqlite persists run records in an embedded SQLite database.
package sqlite

import (
	"context"
	"fmt"

	"clusterpower/ports"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	created_at      TIMESTAMP NOT NULL,
	num_clusters    INTEGER NOT NULL,
	obs_per_cluster INTEGER NOT NULL,
	num_iterations  INTEGER NOT NULL,
	effect_binary   REAL NOT NULL,
	effect_cont     REAL NOT NULL,
	alpha           REAL NOT NULL,
	seed            INTEGER NOT NULL,
	power_binary    REAL NOT NULL,
	power_cont      REAL NOT NULL,
	icc_binary      REAL NOT NULL,
	icc_cont        REAL NOT NULL,
	runtime_ms      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// RunLedger implements ports.RunLedgerPort over sqlx + modernc sqlite.
type RunLedger struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*RunLedger, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run ledger at %q: %w", path, err)
	}
	// A single open connection avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create run ledger schema: %w", err)
	}
	return &RunLedger{db: db}, nil
}

// Close releases the underlying database handle.
func (l *RunLedger) Close() error {
	return l.db.Close()
}

// SaveRun persists one completed run record.
func (l *RunLedger) SaveRun(ctx context.Context, rec ports.RunRecord) error {
	const insert = `
INSERT INTO runs (
	id, created_at, num_clusters, obs_per_cluster, num_iterations,
	effect_binary, effect_cont, alpha, seed,
	power_binary, power_cont, icc_binary, icc_cont, runtime_ms
) VALUES (
	:id, :created_at, :num_clusters, :obs_per_cluster, :num_iterations,
	:effect_binary, :effect_cont, :alpha, :seed,
	:power_binary, :power_cont, :icc_binary, :icc_cont, :runtime_ms
)`
	if _, err := l.db.NamedExecContext(ctx, insert, rec); err != nil {
		return fmt.Errorf("failed to save run %s: %w", rec.ID, err)
	}
	return nil
}

// ListRuns returns the most recent run records, newest first.
func (l *RunLedger) ListRuns(ctx context.Context, limit int) ([]ports.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []ports.RunRecord
	const query = `SELECT * FROM runs ORDER BY created_at DESC, id LIMIT ?`
	if err := l.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return records, nil
}

var _ ports.RunLedgerPort = (*RunLedger)(nil)
