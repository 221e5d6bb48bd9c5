// Package sqlite implements the meeting repository on SQLite via the
// modernc.org driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database holding meeting records.
type Store struct {
	db *sql.DB
}

// Open connects to the database identified by the DSN.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	// The driver serializes writes; a single connection avoids SQLITE_BUSY
	// under concurrent meeting operations.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the schema. Statements are idempotent so repeated startup
// runs are safe.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS meetings (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			constraints_json TEXT NOT NULL,
			candidates_json TEXT NOT NULL DEFAULT '[]',
			bookings_json TEXT NOT NULL DEFAULT '[]',
			committed_start TEXT,
			committed_end TEXT,
			committed_json TEXT,
			needs_attention INTEGER NOT NULL DEFAULT 0,
			resolution_attempts INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS meeting_parties (
			meeting_id TEXT NOT NULL REFERENCES meetings(id) ON DELETE CASCADE,
			party_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (meeting_id, party_id)
		)`,
		`CREATE TABLE IF NOT EXISTS meeting_history (
			meeting_id TEXT NOT NULL REFERENCES meetings(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			at TEXT NOT NULL,
			cause TEXT NOT NULL,
			PRIMARY KEY (meeting_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_meetings_state ON meetings(state)`,
		`CREATE INDEX IF NOT EXISTS idx_meeting_parties_party ON meeting_parties(party_id)`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) withTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit transaction: %w", err)
	}
	return nil
}
