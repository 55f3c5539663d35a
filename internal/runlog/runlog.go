// Package runlog archives completed conversation runs in a local
// SQLite database for later inspection.
package runlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record is one archived run.
type Record struct {
	ID           string         `json:"id"`
	ChannelID    string         `json:"channel_id"`
	MessageID    string         `json:"message_id"`
	UserText     string         `json:"user_text"`
	FinalText    string         `json:"final_text"`
	Turns        int            `json:"turns"`
	ToolsCalled  map[string]int `json:"tools_called,omitempty"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	Stopped      bool           `json:"stopped"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
	DurationMs   int64          `json:"duration_ms"`
	Error        string         `json:"error,omitempty"`
}

// Store persists run records.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run log migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id            TEXT PRIMARY KEY,
			channel_id    TEXT NOT NULL,
			message_id    TEXT NOT NULL,
			user_text     TEXT,
			final_text    TEXT,
			turns         INTEGER NOT NULL,
			tools_called  TEXT,
			input_tokens  INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			stopped       BOOLEAN NOT NULL DEFAULT 0,
			started_at    TEXT NOT NULL,
			completed_at  TEXT NOT NULL,
			duration_ms   INTEGER NOT NULL,
			error         TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_runs_channel
			ON runs(channel_id, started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_runs_started
			ON runs(started_at DESC);
	`)
	return err
}

// Record inserts one run record.
func (s *Store) Record(rec *Record) error {
	toolsJSON, err := json.Marshal(rec.ToolsCalled)
	if err != nil {
		return fmt.Errorf("marshal tools_called: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (
			id, channel_id, message_id, user_text, final_text, turns,
			tools_called, input_tokens, output_tokens, stopped,
			started_at, completed_at, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ChannelID, rec.MessageID, rec.UserText, rec.FinalText,
		rec.Turns, string(toolsJSON), rec.InputTokens, rec.OutputTokens,
		rec.Stopped,
		rec.StartedAt.Format(time.RFC3339Nano),
		rec.CompletedAt.Format(time.RFC3339Nano),
		rec.DurationMs, rec.Error,
	)
	return err
}

// Get retrieves a single run by ID.
func (s *Store) Get(id string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT id, channel_id, message_id, user_text, final_text, turns,
			tools_called, input_tokens, output_tokens, stopped,
			started_at, completed_at, duration_ms, error
		FROM runs WHERE id = ?`, id)
	return scanRecord(row)
}

// List returns runs ordered newest-first. If limit is 0, all runs are
// returned.
func (s *Store) List(limit int) ([]*Record, error) {
	query := `
		SELECT id, channel_id, message_id, user_text, final_text, turns,
			tools_called, input_tokens, output_tokens, stopped,
			started_at, completed_at, duration_ms, error
		FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var userText, finalText, toolsJSON, errStr sql.NullString
	var startedAt, completedAt string

	err := s.Scan(
		&rec.ID, &rec.ChannelID, &rec.MessageID, &userText, &finalText,
		&rec.Turns, &toolsJSON, &rec.InputTokens, &rec.OutputTokens,
		&rec.Stopped, &startedAt, &completedAt, &rec.DurationMs, &errStr,
	)
	if err != nil {
		return nil, err
	}

	rec.UserText = userText.String
	rec.FinalText = finalText.String
	rec.Error = errStr.String
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)

	if toolsJSON.Valid && toolsJSON.String != "" {
		_ = json.Unmarshal([]byte(toolsJSON.String), &rec.ToolsCalled)
	}

	return &rec, nil
}
