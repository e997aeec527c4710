package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/0xbacklit/voice-agent/internal/domain"
)

// ErrSessionNotFound is returned when writing to an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			closed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			tool_call_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, seq)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at) VALUES (?, ?)`,
		session.SessionID, session.CreatedAt)
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	var closedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at, closed_at FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.SessionID, &session.CreatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		session.ClosedAt = &t
	}
	return &session, nil
}

// CloseSession marks a session closed. Closing twice keeps the first time.
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET closed_at = COALESCE(closed_at, ?) WHERE session_id = ?`,
		at, sessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AddToolCall appends a tool call to a session.
func (s *SQLiteStore) AddToolCall(ctx context.Context, sessionID string, call domain.ToolCallEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (tool_call_id, session_id, name, status, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		call.ID, sessionID, call.Name, string(call.Status), call.Detail, call.Timestamp)
	if err != nil {
		session, getErr := s.GetSession(ctx, sessionID)
		if getErr == nil && session == nil {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// ListToolCalls retrieves the tool calls of a session, oldest first.
func (s *SQLiteStore) ListToolCalls(ctx context.Context, sessionID string) ([]domain.ToolCallEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_call_id, name, status, detail, timestamp FROM tool_calls WHERE session_id = ? ORDER BY seq ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	calls := []domain.ToolCallEvent{}
	for rows.Next() {
		var call domain.ToolCallEvent
		var status string
		if err := rows.Scan(&call.ID, &call.Name, &status, &call.Detail, &call.Timestamp); err != nil {
			return nil, err
		}
		call.Status = domain.ToolCallStatus(status)
		calls = append(calls, call)
	}
	return calls, rows.Err()
}
