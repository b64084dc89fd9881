package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withSQLiteDefaults(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY
	// under concurrent sends and keeps in-memory databases shared.
	db.SetMaxOpenConns(1)

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err = store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func withSQLiteDefaults(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY, -- UUID
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        risk_profile TEXT CHECK (risk_profile IN ('conservative', 'balanced', 'aggressive')),
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS revoked_tokens (
        jti TEXT PRIMARY KEY,
        expires_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        title TEXT,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        deleted BOOLEAN NOT NULL DEFAULT FALSE
    );
    CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations (user_id, updated_at DESC);

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        metadata TEXT,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );
    CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at);
    `
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// User methods

const userColumns = "id, email, password_hash, risk_profile, created_at"

func (s *SQLiteStore) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	row := userRow{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		row.ID, row.Email, row.PasswordHash, row.CreatedAt)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	user := userFromRow(row)
	return &user, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg string) (*User, error) {
	var row userRow
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&row.ID, &row.Email, &row.PasswordHash, &row.RiskProfile, &row.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user := userFromRow(row)
	return &user, nil
}

func (s *SQLiteStore) UpdateRiskProfile(ctx context.Context, id string, profile *string) (*User, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET risk_profile = ? WHERE id = ?", profile, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update risk profile: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetUserByID(ctx, id)
}

// Token methods

func (s *SQLiteStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO revoked_tokens (jti, expires_at) VALUES (?, ?)", jti, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	// Expired entries can never match a valid token again.
	if _, err := s.db.ExecContext(ctx, "DELETE FROM revoked_tokens WHERE expires_at < ?", s.now()); err != nil {
		return fmt.Errorf("failed to prune revoked tokens: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM revoked_tokens WHERE jti = ?", jti).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return n > 0, nil
}

// Conversation methods

const conversationColumns = "id, user_id, title, created_at, updated_at, deleted"

func (s *SQLiteStore) CreateConversation(ctx context.Context, userID string, title *string) (*Conversation, error) {
	now := s.now()
	row := conversationRow{ID: uuid.NewString(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}

	stmt, err := s.db.PrepareContext(ctx,
		"INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare conversation insert: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.ExecContext(ctx, row.ID, row.UserID, row.Title, row.CreatedAt, row.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to execute conversation insert: %w", err)
	}
	conv := conversationFromRow(row)
	return &conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id, userID string) (*Conversation, error) {
	var row conversationRow
	err := s.db.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = ? AND user_id = ? AND deleted = FALSE",
		id, userID).
		Scan(&row.ID, &row.UserID, &row.Title, &row.CreatedAt, &row.UpdatedAt, &row.Deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	conv := conversationFromRow(row)
	return &conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, limit, offset int) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE user_id = ? AND deleted = FALSE "+
			"ORDER BY updated_at DESC, rowid DESC LIMIT ? OFFSET ?",
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	conversations := []Conversation{}
	for rows.Next() {
		var row conversationRow
		if err := rows.Scan(&row.ID, &row.UserID, &row.Title, &row.CreatedAt, &row.UpdatedAt, &row.Deleted); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, conversationFromRow(row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return conversations, nil
}

func (s *SQLiteStore) CountConversations(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM conversations WHERE user_id = ? AND deleted = FALSE", userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) RenameConversation(ctx context.Context, id, userID, title string) (*Conversation, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND user_id = ? AND deleted = FALSE",
		title, s.now(), id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to rename conversation: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetConversation(ctx, id, userID)
}

func (s *SQLiteStore) SoftDeleteConversation(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET deleted = TRUE, updated_at = ? WHERE id = ? AND user_id = ? AND deleted = FALSE",
		s.now(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) TouchConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Message methods

const messageColumns = "id, conversation_id, role, content, created_at, metadata"

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg NewMessage) (*Message, error) {
	if !msg.Role.Valid() {
		return nil, fmt.Errorf("invalid message role %q", msg.Role)
	}
	meta, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return nil, err
	}

	row := messageRow{
		ID:             uuid.NewString(),
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		CreatedAt:      s.now(),
		Metadata:       meta,
	}

	stmt, err := s.db.PrepareContext(ctx,
		"INSERT INTO messages (id, conversation_id, role, content, created_at, metadata) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	var metaArg any
	if row.Metadata != nil {
		metaArg = string(row.Metadata)
	}
	if _, err = stmt.ExecContext(ctx, row.ID, row.ConversationID, row.Role, row.Content, row.CreatedAt, metaArg); err != nil {
		return nil, fmt.Errorf("failed to execute message insert: %w", err)
	}

	out, err := messageFromRow(row)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	return s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?",
		conversationID, limit, offset)
}

func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM messages WHERE conversation_id = ?", conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListRecentMessages(ctx context.Context, conversationID string, k int) ([]Message, error) {
	messages, err := s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?",
		conversationID, k)
	if err != nil {
		return nil, err
	}
	reverseMessages(messages)
	return messages, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var row messageRow
		if err := rows.Scan(&row.ID, &row.ConversationID, &row.Role, &row.Content, &row.CreatedAt, &row.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg, err := messageFromRow(row)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
