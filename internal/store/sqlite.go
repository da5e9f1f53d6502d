package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/avdeyev/gembridge/internal/domain"
	"github.com/avdeyev/gembridge/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS credentials (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		ciphertext BLOB NOT NULL,
		nonce BLOB NOT NULL,
		salt BLOB NOT NULL,
		status TEXT NOT NULL,
		set_at INTEGER NOT NULL,
		validated_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		origin TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS reminders (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		value TEXT NOT NULL,
		message TEXT NOT NULL,
		context TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetCredential returns the stored credential record, or nil if none exists.
func (s *SQLiteStore) GetCredential(ctx context.Context) (*domain.CredentialRecord, error) {
	query := `SELECT ciphertext, nonce, salt, status, set_at, validated_at FROM credentials WHERE id = 1`
	row := s.db.QueryRowContext(ctx, query)

	var rec domain.CredentialRecord
	var setAt int64
	var validatedAt sql.NullInt64

	err := row.Scan(&rec.Ciphertext, &rec.Nonce, &rec.Salt, &rec.Status, &setAt, &validatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential row: %w", err)
	}

	rec.SetAt = time.Unix(setAt, 0)
	if validatedAt.Valid {
		ts := time.Unix(validatedAt.Int64, 0)
		rec.ValidatedAt = &ts
	}
	return &rec, nil
}

// SaveCredential replaces the stored credential record.
func (s *SQLiteStore) SaveCredential(ctx context.Context, rec *domain.CredentialRecord) error {
	query := `
	INSERT INTO credentials (id, ciphertext, nonce, salt, status, set_at, validated_at)
	VALUES (1, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		ciphertext = excluded.ciphertext,
		nonce = excluded.nonce,
		salt = excluded.salt,
		status = excluded.status,
		set_at = excluded.set_at,
		validated_at = excluded.validated_at`

	var validatedAt interface{}
	if rec.ValidatedAt != nil {
		validatedAt = rec.ValidatedAt.Unix()
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.Ciphertext, rec.Nonce, rec.Salt, rec.Status, rec.SetAt.Unix(), validatedAt,
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// UpdateCredentialStatus updates lifecycle status and optionally the
// last-validated timestamp.
func (s *SQLiteStore) UpdateCredentialStatus(ctx context.Context, status string, validatedAt *time.Time) error {
	query := `UPDATE credentials SET status = ? WHERE id = 1`
	args := []interface{}{status}

	if validatedAt != nil {
		query = `UPDATE credentials SET status = ?, validated_at = ? WHERE id = 1`
		args = append(args, validatedAt.Unix())
	}

	var result sql.Result
	err := shared.RetrySQLite(ctx, 3, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("update credential status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateCredentialStatus affected 0 rows", "status", status)
	}
	return nil
}

// DeleteCredential destroys the stored credential record.
func (s *SQLiteStore) DeleteCredential(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// ListConversations returns all conversations, newest first, without messages.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*domain.Conversation, error) {
	query := `SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversations rows", "error", closeErr)
		}
	}()

	var convs []*domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var createdAt, updatedAt int64
		if err := rows.Scan(&conv.ID, &conv.Title, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conv.CreatedAt = time.Unix(createdAt, 0)
		conv.UpdatedAt = time.Unix(updatedAt, 0)
		convs = append(convs, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

// GetConversation returns one conversation with its ordered messages.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var conv domain.Conversation
	var createdAt, updatedAt int64
	err := row.Scan(&conv.ID, &conv.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)

	msgQuery := `
		SELECT id, role, content, origin, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, msgQuery, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close messages rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var msg domain.Message
		var origin sql.NullString
		var msgCreatedAt int64
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &origin, &msgCreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Origin = origin.String
		msg.CreatedAt = time.Unix(msgCreatedAt, 0)
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return &conv, nil
}

// CreateConversation stores a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	query := `INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.Title, conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation and its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	// Messages are removed explicitly; foreign-key cascades are not enabled
	// by default in SQLite connections.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// AppendMessage appends a message and bumps the conversation's updated_at.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg *domain.Message) error {
	var origin interface{}
	if msg.Origin != "" {
		origin = msg.Origin
	}

	query := `INSERT INTO messages (id, conversation_id, role, content, origin, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	err := shared.RetrySQLite(ctx, 3, func() error {
		_, execErr := s.db.ExecContext(ctx, query,
			msg.ID, conversationID, string(msg.Role), msg.Content, origin, msg.CreatedAt.Unix(),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().Unix(), conversationID,
	); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// ListReminders returns reminders, optionally only active ones.
func (s *SQLiteStore) ListReminders(ctx context.Context, activeOnly bool) ([]*domain.Reminder, error) {
	query := `SELECT id, kind, value, message, context, active, created_at FROM reminders`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close reminders rows", "error", closeErr)
		}
	}()

	var rems []*domain.Reminder
	for rows.Next() {
		var rem domain.Reminder
		var reminderCtx sql.NullString
		var active int
		var createdAt int64
		if err := rows.Scan(&rem.ID, &rem.Kind, &rem.Value, &rem.Message, &reminderCtx, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan reminder row: %w", err)
		}
		rem.Context = reminderCtx.String
		rem.Active = active != 0
		rem.CreatedAt = time.Unix(createdAt, 0)
		rems = append(rems, &rem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return rems, nil
}

// CreateReminder stores a new reminder.
func (s *SQLiteStore) CreateReminder(ctx context.Context, rem *domain.Reminder) error {
	var reminderCtx interface{}
	if rem.Context != "" {
		reminderCtx = rem.Context
	}

	query := `INSERT INTO reminders (id, kind, value, message, context, active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		rem.ID, rem.Kind, rem.Value, rem.Message, reminderCtx, boolToInt(rem.Active), rem.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

// DeactivateReminder marks a fired one-shot reminder inactive.
func (s *SQLiteStore) DeactivateReminder(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE reminders SET active = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deactivate reminder: %w", err)
	}
	return nil
}

// DeleteReminder removes a reminder.
func (s *SQLiteStore) DeleteReminder(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
