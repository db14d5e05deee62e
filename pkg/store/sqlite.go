package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend persists snapshots in a local SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral database.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	s := &SQLiteBackend{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteBackend) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS session_state (
        session_id TEXT PRIMARY KEY,
        state JSON NOT NULL,
        updated_at DATETIME NOT NULL
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteBackend) SaveState(ctx context.Context, sessionID string, state map[string]any) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", sessionID, err)
	}
	query := `
        INSERT INTO session_state (session_id, state, updated_at)
        VALUES (?, ?, ?)
        ON CONFLICT(session_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
    `
	_, err = s.db.ExecContext(ctx, query, sessionID, string(blob), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save state for %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteBackend) LoadState(ctx context.Context, sessionID string) (map[string]any, error) {
	row := s.db.QueryRowContext(ctx, `SELECT state FROM session_state WHERE session_id = ?`, sessionID)

	var blob string
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var state map[string]any
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", sessionID, err)
	}
	return state, nil
}

func (s *SQLiteBackend) DeleteState(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_state WHERE session_id = ?`, sessionID)
	return err
}

func (s *SQLiteBackend) Close() error { return s.db.Close() }
