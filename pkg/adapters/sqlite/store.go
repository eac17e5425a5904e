// Package sqlite persists runs in a SQLite database.
//
// Each conversation keeps its latest RunState as JSON, and its decision history
// is mirrored into a decisions table so the ledger can be queried directly.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	conversation_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	request TEXT NOT NULL,
	status TEXT NOT NULL,
	state TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	conversation_id TEXT NOT NULL REFERENCES runs(conversation_id) ON DELETE CASCADE,
	sequence INTEGER NOT NULL,
	node_id TEXT NOT NULL,
	tool_name TEXT NOT NULL,
	forced INTEGER NOT NULL DEFAULT 0,
	decided_at TIMESTAMP NOT NULL,
	PRIMARY KEY (conversation_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_decisions_tool ON decisions(tool_name);
`

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
}

// Store implements ports.RunStore over SQLite.
type Store struct {
	db *sql.DB
}

var _ ports.RunStore = (*Store)(nil)

// Open opens (or creates) the database at path and migrates it.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored run of the conversation and its decision rows.
func (s *Store) Save(ctx context.Context, conversationID string, state *domain.RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (conversation_id, run_id, request, status, state, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET
			run_id = excluded.run_id,
			request = excluded.request,
			status = excluded.status,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		conversationID, state.ID, state.Request, string(state.Status), string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM decisions WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to clear decisions: %w", err)
	}
	for _, entry := range state.History {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO decisions (conversation_id, sequence, node_id, tool_name, forced, decided_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			conversationID, entry.Sequence, entry.NodeID, entry.ToolName, entry.Forced, entry.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save decision %d: %w", entry.Sequence, err)
		}
	}

	return tx.Commit()
}

// Load retrieves the run of a conversation.
func (s *Store) Load(ctx context.Context, conversationID string) (*domain.RunState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM runs WHERE conversation_id = ?`, conversationID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var state domain.RunState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	if state.Environment == nil {
		state.Environment = domain.NewEnvironment()
	}
	return &state, nil
}

// Delete removes the run and its decisions.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE conversation_id = ?`, conversationID)
	return err
}

// List returns the stored conversations, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT conversation_id FROM runs ORDER BY conversation_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ToolUsage counts recorded decisions per tool across all conversations.
func (s *Store) ToolUsage(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tool_name, COUNT(*) FROM decisions GROUP BY tool_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		usage[name] = n
	}
	return usage, rows.Err()
}
