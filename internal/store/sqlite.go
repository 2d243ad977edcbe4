// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides turn and session persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dsn := path
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		// busy_timeout is per connection, so it has to ride on the DSN
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS turns (
			id                TEXT PRIMARY KEY,
			conversation_id   INTEGER NOT NULL,
			sender            TEXT NOT NULL,
			text              TEXT NOT NULL,
			needs_human       INTEGER NOT NULL DEFAULT 0,
			prompt_tokens     INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens      INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL,

			CHECK (sender IN ('user', 'bot', 'agent'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation_created
			ON turns(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS conversation_sessions (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id      INTEGER NOT NULL UNIQUE,
			status               TEXT NOT NULL DEFAULT 'bot_active',
			assigned_operator_id INTEGER,
			assigned_at          TEXT,
			resolved_at          TEXT,
			created_at           TEXT NOT NULL,
			updated_at           TEXT NOT NULL,

			CHECK (status IN ('bot_active', 'pending_agent', 'agent_active', 'closed')),
			CHECK ((assigned_operator_id IS NOT NULL) = (status = 'agent_active'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_status ON conversation_sessions(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTurn appends a turn to the conversation log.
func (s *SQLiteStore) CreateTurn(ctx context.Context, turn *Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO turns (
			id, conversation_id, sender, text, needs_human,
			prompt_tokens, completion_tokens, total_tokens, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		turn.ID,
		turn.ConversationID,
		string(turn.Sender),
		turn.Text,
		turn.NeedsHuman,
		turn.PromptTokens,
		turn.CompletionTokens,
		turn.TotalTokens,
		formatTime(turn.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	s.logger.Debug("created turn",
		"id", turn.ID,
		"conversation_id", turn.ConversationID,
		"sender", turn.Sender,
		"needs_human", turn.NeedsHuman,
	)
	return nil
}

// ListTurns returns every turn of a conversation in creation order.
func (s *SQLiteStore) ListTurns(ctx context.Context, conversationID int64) ([]*Turn, error) {
	query := `
		SELECT id, conversation_id, sender, text, needs_human,
		       prompt_tokens, completion_tokens, total_tokens, created_at
		FROM turns
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []*Turn
	for rows.Next() {
		var t Turn
		var sender, createdAt string
		if err := rows.Scan(
			&t.ID,
			&t.ConversationID,
			&sender,
			&t.Text,
			&t.NeedsHuman,
			&t.PromptTokens,
			&t.CompletionTokens,
			&t.TotalTokens,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Sender = Sender(sender)
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		turns = append(turns, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}

	return turns, nil
}

// CountFlaggedBotTurns counts bot turns flagged as needing a human.
func (s *SQLiteStore) CountFlaggedBotTurns(ctx context.Context, conversationID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM turns
		WHERE conversation_id = ? AND sender = 'bot' AND needs_human = 1
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, conversationID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting flagged turns: %w", err)
	}
	return count, nil
}

const sessionColumns = `
	id, conversation_id, status, assigned_operator_id,
	assigned_at, resolved_at, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var status, createdAt, updatedAt string
	var operatorID sql.NullInt64
	var assignedAt, resolvedAt sql.NullString

	if err := row.Scan(
		&sess.ID,
		&sess.ConversationID,
		&status,
		&operatorID,
		&assignedAt,
		&resolvedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	sess.Status = SessionStatus(status)
	if operatorID.Valid {
		id := operatorID.Int64
		sess.AssignedOperatorID = &id
	}

	var err error
	if sess.AssignedAt, err = parseNullTime(assignedAt); err != nil {
		return nil, fmt.Errorf("parsing assigned_at: %w", err)
	}
	if sess.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, fmt.Errorf("parsing resolved_at: %w", err)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &sess, nil
}

// GetSession retrieves the session of a conversation.
// Returns ErrNotFound if the conversation was never escalated.
func (s *SQLiteStore) GetSession(ctx context.Context, conversationID int64) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM conversation_sessions WHERE conversation_id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

// CreateSession inserts a session and fills in its ID.
// Returns ErrDuplicateSession if the conversation already has one.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	query := `
		INSERT INTO conversation_sessions (
			conversation_id, status, assigned_operator_id,
			assigned_at, resolved_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		sess.ConversationID,
		string(sess.Status),
		sess.AssignedOperatorID,
		formatTimePtr(sess.AssignedAt),
		formatTimePtr(sess.ResolvedAt),
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading session id: %w", err)
	}
	sess.ID = id

	s.logger.Debug("created session",
		"id", sess.ID,
		"conversation_id", sess.ConversationID,
		"status", sess.Status,
	)
	return nil
}

// UpsertSession writes status and assignment fields in one statement,
// creating the row if the conversation has none.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *Session) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	query := `
		INSERT INTO conversation_sessions (
			conversation_id, status, assigned_operator_id,
			assigned_at, resolved_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			status = excluded.status,
			assigned_operator_id = excluded.assigned_operator_id,
			assigned_at = excluded.assigned_at,
			resolved_at = excluded.resolved_at,
			updated_at = excluded.updated_at
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		sess.ConversationID,
		string(sess.Status),
		sess.AssignedOperatorID,
		formatTimePtr(sess.AssignedAt),
		formatTimePtr(sess.ResolvedAt),
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
	).Scan(&sess.ID)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	s.logger.Debug("upserted session",
		"id", sess.ID,
		"conversation_id", sess.ConversationID,
		"status", sess.Status,
	)
	return nil
}

// ListPendingSessions returns sessions that no operator has claimed yet,
// newest first.
func (s *SQLiteStore) ListPendingSessions(ctx context.Context) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM conversation_sessions
		WHERE status = 'pending_agent'
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying pending sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}
