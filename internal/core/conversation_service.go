package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"bullground.com/advisor-chat/internal/store"
)

const (
	DefaultConversationPageSize = 20
	DefaultMessagePageSize      = 50
	MaxPageSize                 = 100
	MaxTitleLength              = 200
)

type ConversationService struct {
	conversations store.ConversationRepository
	messages      store.MessageRepository
	logger        zerolog.Logger
}

func NewConversationService(conversations store.ConversationRepository, messages store.MessageRepository, logger zerolog.Logger) (*ConversationService, error) {
	if conversations == nil {
		return nil, errors.New("core: conversation repository must not be nil")
	}
	if messages == nil {
		return nil, errors.New("core: message repository must not be nil")
	}
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		logger:        logger.With().Str("component", "conversations").Logger(),
	}, nil
}

type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Validate rejects out-of-range pagination. A zero limit means "use the
// default" and is resolved by the caller before validation.
func (p Page) Validate() error {
	if p.Limit < 1 || p.Limit > MaxPageSize {
		return ValidationError(fmt.Sprintf("limit must be between 1 and %d", MaxPageSize))
	}
	if p.Offset < 0 {
		return ValidationError("offset must not be negative")
	}
	return nil
}

type ConversationPage struct {
	Conversations []store.Conversation `json:"conversations"`
	Total         int                  `json:"total"`
	Limit         int                  `json:"limit"`
	Offset        int                  `json:"offset"`
}

type MessagePage struct {
	Messages []store.Message `json:"messages"`
	Total    int             `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

func (s *ConversationService) ListConversations(ctx context.Context, userID string, page Page) (*ConversationPage, error) {
	if page.Limit == 0 {
		page.Limit = DefaultConversationPageSize
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}

	conversations, err := s.conversations.ListConversations(ctx, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, dbError("Failed to list conversations", err)
	}
	total, err := s.conversations.CountConversations(ctx, userID)
	if err != nil {
		return nil, dbError("Failed to count conversations", err)
	}

	return &ConversationPage{
		Conversations: conversations,
		Total:         total,
		Limit:         page.Limit,
		Offset:        page.Offset,
	}, nil
}

func (s *ConversationService) GetConversationMessages(ctx context.Context, userID, conversationID string, page Page) (*MessagePage, error) {
	if page.Limit == 0 {
		page.Limit = DefaultMessagePageSize
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.ownedConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	messages, err := s.messages.ListMessages(ctx, conversationID, page.Limit, page.Offset)
	if err != nil {
		return nil, dbError("Failed to list messages", err)
	}
	total, err := s.messages.CountMessages(ctx, conversationID)
	if err != nil {
		return nil, dbError("Failed to count messages", err)
	}

	return &MessagePage{
		Messages: messages,
		Total:    total,
		Limit:    page.Limit,
		Offset:   page.Offset,
	}, nil
}

func (s *ConversationService) RenameConversation(ctx context.Context, userID, conversationID, title string) (*store.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, newError(ErrorInvalidTitle, "Title cannot be empty", nil)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, newError(ErrorInvalidTitle, fmt.Sprintf("Title must be at most %d characters", MaxTitleLength), nil)
	}

	conv, err := s.conversations.RenameConversation(ctx, conversationID, userID, title)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, conversationNotFound(nil)
		}
		return nil, dbError("Failed to rename conversation", err)
	}

	s.logger.Info().Str("conversation_id", conversationID).Msg("Conversation renamed")
	return conv, nil
}

func (s *ConversationService) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if err := s.conversations.SoftDeleteConversation(ctx, conversationID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return conversationNotFound(nil)
		}
		return dbError("Failed to delete conversation", err)
	}

	s.logger.Info().Str("conversation_id", conversationID).Msg("Conversation deleted")
	return nil
}

func (s *ConversationService) ownedConversation(ctx context.Context, userID, conversationID string) (*store.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, conversationNotFound(nil)
		}
		return nil, dbError("Failed to load conversation", err)
	}
	return conv, nil
}
