package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound covers rows that are missing, soft-deleted or owned by
	// someone else. Callers must not be able to tell those cases apart.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("store: already exists")
)

type UserRepository interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	UpdateRiskProfile(ctx context.Context, id string, profile *string) (*User, error)
}

type TokenRepository interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type ConversationRepository interface {
	CreateConversation(ctx context.Context, userID string, title *string) (*Conversation, error)
	GetConversation(ctx context.Context, id, userID string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]Conversation, error)
	CountConversations(ctx context.Context, userID string) (int, error)
	RenameConversation(ctx context.Context, id, userID, title string) (*Conversation, error)
	SoftDeleteConversation(ctx context.Context, id, userID string) error
	TouchConversation(ctx context.Context, id string) error
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, msg NewMessage) (*Message, error)
	// ListMessages returns messages in creation order.
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
	// ListRecentMessages returns the newest k messages, oldest first.
	ListRecentMessages(ctx context.Context, conversationID string, k int) ([]Message, error)
}

type Store interface {
	UserRepository
	TokenRepository
	ConversationRepository
	MessageRepository
	Ping(ctx context.Context) error
	Close() error
}
