// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     history
// Description: SQLite store for completed syntheses
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
)

// Entry is one stored synthesis
type Entry struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	SessionID  string    `json:"session_id,omitempty"`
	Text       string    `json:"text"`
	VoiceMode  string    `json:"voice_mode"`
	VoiceName  string    `json:"voice_name,omitempty"`
	VoiceID    string    `json:"voice_id,omitempty"`
	Format     string    `json:"format"`
	SampleRate int       `json:"sample_rate"`
	Bytes      int       `json:"bytes"`
	DurationMS int64     `json:"duration_ms"`
	Audio      []byte    `json:"-"`
}

// AllSessions scopes a query to every session's entries
const AllSessions = ""

// Store defines history persistence. List, Get and Delete only see entries
// of the given session unless it is AllSessions.
type Store interface {
	Save(ctx context.Context, entry *Entry) error
	List(ctx context.Context, sessionID string, limit int) ([]*Entry, error)
	Get(ctx context.Context, sessionID, id string) (*Entry, error)
	Delete(ctx context.Context, sessionID, id string) error
	Prune(ctx context.Context, keep int) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config holds configuration for the SQLite store
type Config struct {
	Path string
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{Path: "./data/history.db"}
}

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (and creates) the history database
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Open database with WAL mode
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Path == ":memory:" {
		// Every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS syntheses (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		session_id TEXT,
		text TEXT NOT NULL,
		voice_mode TEXT NOT NULL,
		voice_name TEXT,
		voice_id TEXT,
		format TEXT NOT NULL,
		sample_rate INTEGER NOT NULL DEFAULT 0,
		bytes INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		audio BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_syntheses_created ON syntheses(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_syntheses_session ON syntheses(session_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save stores an entry. ID and CreatedAt are filled in when empty.
func (s *SQLiteStore) Save(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Bytes == 0 {
		e.Bytes = len(e.Audio)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO syntheses (id, created_at, session_id, text, voice_mode, voice_name, voice_id,
			format, sample_rate, bytes, duration_ms, audio)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.CreatedAt, e.SessionID, e.Text, e.VoiceMode, e.VoiceName, e.VoiceID,
		e.Format, e.SampleRate, e.Bytes, e.DurationMS, e.Audio)
	if err != nil {
		return fmt.Errorf("failed to insert synthesis: %w", err)
	}
	return nil
}

// List returns the newest entries of a session without audio. limit <= 0
// means 50.
func (s *SQLiteStore) List(ctx context.Context, sessionID string, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, session_id, text, voice_mode, voice_name, voice_id,
			format, sample_rate, bytes, duration_ms
		FROM syntheses
		WHERE ? = '' OR session_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, sessionID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var session, voiceName, voiceID sql.NullString
		if err := rows.Scan(&e.ID, &e.CreatedAt, &session, &e.Text, &e.VoiceMode, &voiceName, &voiceID,
			&e.Format, &e.SampleRate, &e.Bytes, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.SessionID, e.VoiceName, e.VoiceID = session.String, voiceName.String, voiceID.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns one entry including its audio. Entries of other sessions are
// reported as not found.
func (s *SQLiteStore) Get(ctx context.Context, sessionID, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := &Entry{}
	var session, voiceName, voiceID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, session_id, text, voice_mode, voice_name, voice_id,
			format, sample_rate, bytes, duration_ms, audio
		FROM syntheses WHERE id = ? AND (? = '' OR session_id = ?)
	`, id, sessionID, sessionID).Scan(&e.ID, &e.CreatedAt, &session, &e.Text, &e.VoiceMode, &voiceName, &voiceID,
		&e.Format, &e.SampleRate, &e.Bytes, &e.DurationMS, &e.Audio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.Newf(apperror.CodeNotFound, "history entry %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history entry: %w", err)
	}
	e.SessionID, e.VoiceName, e.VoiceID = session.String, voiceName.String, voiceID.String
	return e, nil
}

// Delete removes one entry of a session
func (s *SQLiteStore) Delete(ctx context.Context, sessionID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM syntheses WHERE id = ? AND (? = '' OR session_id = ?)`, id, sessionID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete history entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.Newf(apperror.CodeNotFound, "history entry %s not found", id)
	}
	return nil
}

// Prune keeps the newest keep entries and deletes the rest
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM syntheses WHERE id NOT IN (
			SELECT id FROM syntheses ORDER BY created_at DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
