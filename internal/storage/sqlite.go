package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"InterviewPrep/internal/session"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("record not found")

// DefaultListLimit caps ListSessions when no limit is given
const DefaultListLimit = 20

const schema = `
CREATE TABLE IF NOT EXISTS interview_sessions (
	session_id     TEXT PRIMARY KEY,
	interview_type TEXT NOT NULL,
	difficulty     TEXT NOT NULL DEFAULT 'medium',
	provider       TEXT NOT NULL,
	model          TEXT NOT NULL DEFAULT '',
	messages       TEXT,
	score          REAL,
	evaluation     TEXT,
	status         TEXT NOT NULL DEFAULT 'active',
	created_at     DATETIME NOT NULL,
	completed_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_interview_sessions_created ON interview_sessions(created_at);

CREATE TABLE IF NOT EXISTS provider_settings (
	provider   TEXT PRIMARY KEY,
	api_key    TEXT,
	base_url   TEXT,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// SessionRecord is the durable mirror of an interview session
type SessionRecord struct {
	SessionID     string            `json:"session_id"`
	InterviewType string            `json:"interview_type"`
	Difficulty    string            `json:"difficulty"`
	Provider      string            `json:"provider"`
	Model         string            `json:"model"`
	Status        string            `json:"status"`
	Score         *float64          `json:"score"`
	Messages      []session.Message `json:"messages,omitempty"`
	Evaluation    json.RawMessage   `json:"evaluation,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at"`
}

// ProviderSetting holds the stored credentials of one provider. APIKey is kept as written by the caller.
type ProviderSetting struct {
	Provider  string
	APIKey    string
	BaseURL   string
	UpdatedAt time.Time
}

// Store persists interview history and provider settings in SQLite
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and applies the schema
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY under concurrent requests
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("database ready", "path", path)
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStart inserts the history row for a newly started session
func (s *Store) RecordStart(ctx context.Context, rec SessionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.Status == "" {
		rec.Status = string(session.StatusActive)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interview_sessions (session_id, interview_type, difficulty, provider, model, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET provider = excluded.provider, model = excluded.model`,
		rec.SessionID, rec.InterviewType, rec.Difficulty, rec.Provider, rec.Model, rec.Status, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

// RecordTranscript stores the latest transcript and status of a session
func (s *Store) RecordTranscript(ctx context.Context, id string, status session.Status, messages []session.Message) error {
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE interview_sessions SET messages = ?, status = ? WHERE session_id = ?",
		string(raw), string(status), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record transcript: %w", err)
	}
	return expectRow(res)
}

// RecordEvaluation marks the session completed and stores its score, report and final transcript
func (s *Store) RecordEvaluation(ctx context.Context, id string, score float64, evaluation any, messages []session.Message) error {
	evalJSON, err := json.Marshal(evaluation)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation: %w", err)
	}
	msgJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE interview_sessions
		 SET status = ?, completed_at = ?, evaluation = ?, score = ?, messages = ?
		 WHERE session_id = ?`,
		string(session.StatusCompleted), s.now().UTC(), string(evalJSON), score, string(msgJSON), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record evaluation: %w", err)
	}
	if err := expectRow(res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("evaluation saved", "session_id", id, "score", score, "message_count", len(messages))
	return nil
}

// ListSessions returns the most recent sessions, newest first, without transcripts
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, interview_type, difficulty, provider, model, status, score, created_at, completed_at
		 FROM interview_sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	records := []SessionRecord{}
	for rows.Next() {
		var rec SessionRecord
		var score sql.NullFloat64
		var completed sql.NullTime
		if err := rows.Scan(&rec.SessionID, &rec.InterviewType, &rec.Difficulty, &rec.Provider, &rec.Model,
			&rec.Status, &score, &rec.CreatedAt, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		rec.Score = nullFloat(score)
		rec.CompletedAt = nullTime(completed)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetSession returns one session with its transcript and evaluation
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	var messages, evaluation sql.NullString
	var score sql.NullFloat64
	var completed sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, interview_type, difficulty, provider, model, status, score, messages, evaluation,
		        created_at, completed_at
		 FROM interview_sessions WHERE session_id = ?`, id).
		Scan(&rec.SessionID, &rec.InterviewType, &rec.Difficulty, &rec.Provider, &rec.Model, &rec.Status,
			&score, &messages, &evaluation, &rec.CreatedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	rec.Score = nullFloat(score)
	rec.CompletedAt = nullTime(completed)
	rec.Messages = []session.Message{}
	if messages.Valid && messages.String != "" {
		if err := json.Unmarshal([]byte(messages.String), &rec.Messages); err != nil {
			return nil, fmt.Errorf("failed to decode messages: %w", err)
		}
	}
	if evaluation.Valid && evaluation.String != "" {
		rec.Evaluation = json.RawMessage(evaluation.String)
	}
	return &rec, nil
}

// ProviderSetting returns the stored setting for provider
func (s *Store) ProviderSetting(ctx context.Context, provider string) (*ProviderSetting, error) {
	var ps ProviderSetting
	var key, base sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT provider, api_key, base_url, updated_at FROM provider_settings WHERE provider = ?", provider).
		Scan(&ps.Provider, &key, &base, &ps.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load provider setting: %w", err)
	}
	ps.APIKey = key.String
	ps.BaseURL = base.String
	return &ps, nil
}

// SaveProviderSetting upserts the setting for ps.Provider. Empty fields are stored as NULL.
func (s *Store) SaveProviderSetting(ctx context.Context, ps ProviderSetting) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_settings (provider, api_key, base_url, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(provider) DO UPDATE SET api_key = excluded.api_key, base_url = excluded.base_url,
		 updated_at = excluded.updated_at`,
		ps.Provider, nullString(ps.APIKey), nullString(ps.BaseURL), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save provider setting: %w", err)
	}
	return nil
}

// Meta returns a value from the key/value table
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %q: %w", key, err)
	}
	return value, nil
}

// SetMeta stores a value in the key/value table
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %q: %w", key, err)
	}
	return nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
