package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bullground.com/advisor-chat/internal/llm"
	"bullground.com/advisor-chat/internal/metrics"
	"bullground.com/advisor-chat/internal/store"
)

const (
	FallbackReply = "Something went wrong, but don't worry! Would you like to try again?"

	DefaultHistoryWindow        = 20
	DefaultFullHistoryThreshold = 10
	MaxMessageLength            = 10000

	modeBuffered = "buffered"
	modeStream   = "stream"
)

// UserLookup resolves the optional risk profile used to personalise replies.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*store.User, error)
}

type ChatServiceConfig struct {
	Conversations store.ConversationRepository
	Messages      store.MessageRepository
	Users         UserLookup // optional
	Generator     llm.Generator
	Metrics       *metrics.Metrics // optional
	Logger        zerolog.Logger

	HistoryWindow        int
	FullHistoryThreshold int // 0 means the default; negative disables enrichment for existing conversations
	TitleMaxLength       int
	LLMTimeout           time.Duration
}

type ChatService struct {
	conversations store.ConversationRepository
	messages      store.MessageRepository
	users         UserLookup
	generator     llm.Generator
	metrics       *metrics.Metrics
	logger        zerolog.Logger

	historyWindow        int
	fullHistoryThreshold int
	titleMaxLength       int
	llmTimeout           time.Duration
	now                  func() time.Time
}

func NewChatService(cfg ChatServiceConfig) (*ChatService, error) {
	if cfg.Conversations == nil {
		return nil, errors.New("core: conversation repository must not be nil")
	}
	if cfg.Messages == nil {
		return nil, errors.New("core: message repository must not be nil")
	}
	if cfg.Generator == nil {
		return nil, errors.New("core: generator must not be nil")
	}

	s := &ChatService{
		conversations:        cfg.Conversations,
		messages:             cfg.Messages,
		users:                cfg.Users,
		generator:            cfg.Generator,
		metrics:              cfg.Metrics,
		logger:               cfg.Logger.With().Str("component", "chat").Logger(),
		historyWindow:        cfg.HistoryWindow,
		fullHistoryThreshold: cfg.FullHistoryThreshold,
		titleMaxLength:       cfg.TitleMaxLength,
		llmTimeout:           cfg.LLMTimeout,
		now:                  time.Now,
	}
	if s.historyWindow <= 0 {
		s.historyWindow = DefaultHistoryWindow
	}
	if s.fullHistoryThreshold == 0 {
		s.fullHistoryThreshold = DefaultFullHistoryThreshold
	}
	if s.titleMaxLength <= 0 {
		s.titleMaxLength = DefaultTitleMaxLength
	}
	return s, nil
}

type SendMessageInput struct {
	UserID         string
	ConversationID string // empty starts a new conversation
	Message        string
}

type SendMessageOutput struct {
	ConversationID    string          `json:"conversationId"`
	UserMessage       *store.Message  `json:"userMessage"`
	AssistantMessage  *store.Message  `json:"assistantMessage"`
	Messages          []store.Message `json:"messages,omitempty"`
	IsNewConversation bool            `json:"-"`
}

// turn is the durable part of a send: everything that exists before the
// model is asked anything.
type turn struct {
	userID       string
	conversation *store.Conversation
	isNew        bool
	userMessage  *store.Message
}

// beginTurn validates the input, resolves or creates the conversation,
// persists the user message and bumps the conversation timestamp.
// Validation and ownership failures happen before any write.
func (s *ChatService) beginTurn(ctx context.Context, in SendMessageInput) (*turn, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, newError(ErrorInvalidMessage, "Message cannot be empty", nil)
	}
	if in.UserID == "" {
		return nil, newError(ErrorUnauthorized, "User not authenticated", nil)
	}

	t := &turn{userID: in.UserID}
	if in.ConversationID == "" {
		title := GenerateTitle(in.Message, s.titleMaxLength)
		conv, err := s.conversations.CreateConversation(ctx, in.UserID, &title)
		if err != nil {
			return nil, dbError("Failed to create conversation", err)
		}
		t.conversation = conv
		t.isNew = true
	} else {
		conv, err := s.conversations.GetConversation(ctx, in.ConversationID, in.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, conversationNotFound(nil)
			}
			return nil, dbError("Failed to load conversation", err)
		}
		t.conversation = conv
	}

	userMsg, err := s.messages.CreateMessage(ctx, store.NewMessage{
		ConversationID: t.conversation.ID,
		Role:           store.RoleUser,
		Content:        in.Message,
	})
	if err != nil {
		return nil, dbError("Failed to save message", err)
	}
	s.metrics.RecordMessage(string(store.RoleUser))
	t.userMessage = userMsg

	if err := s.conversations.TouchConversation(ctx, t.conversation.ID); err != nil {
		return nil, dbError("Failed to update conversation", err)
	}
	return t, nil
}

func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (*SendMessageOutput, error) {
	t, err := s.beginTurn(ctx, in)
	if err != nil {
		return nil, err
	}
	log := s.logger.With().Str("conversation_id", t.conversation.ID).Str("user_id", t.userID).Logger()

	reply, window, genErr := s.generate(ctx, t)
	if genErr != nil {
		log.Error().Err(genErr).Msg("LLM generation failed, but conversation and user message are saved")
		_, fbErr := s.persistFallback(ctx, t.conversation.ID, modeBuffered)
		return nil, generationFailure(genErr, fbErr)
	}

	assistant, err := s.persistAssistant(ctx, t.conversation.ID, reply, nil)
	if err != nil {
		return nil, dbError("Failed to save assistant reply", err)
	}

	out := &SendMessageOutput{
		ConversationID:    t.conversation.ID,
		UserMessage:       t.userMessage,
		AssistantMessage:  assistant,
		IsNewConversation: t.isNew,
	}

	if t.isNew || len(window) <= s.fullHistoryThreshold {
		all, err := s.fullHistory(ctx, t.conversation.ID)
		if err != nil {
			// The turn is already durable; enrichment is optional.
			log.Warn().Err(err).Msg("Failed to load full message list for response")
		} else {
			out.Messages = all
		}
	}

	log.Info().Bool("new_conversation", t.isNew).Msg("Message exchange completed")
	return out, nil
}

func (s *ChatService) fullHistory(ctx context.Context, conversationID string) ([]store.Message, error) {
	total, err := s.messages.CountMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return s.messages.ListMessages(ctx, conversationID, total, 0)
}

func (s *ChatService) generate(ctx context.Context, t *turn) (string, []store.Message, error) {
	req, window, err := s.buildRequest(ctx, t.userID, t.conversation.ID)
	if err != nil {
		return "", nil, err
	}

	genCtx, cancel := s.withLLMTimeout(ctx)
	defer cancel()

	start := s.now()
	reply, err := s.generator.Generate(genCtx, req)
	s.metrics.RecordLLMRequest(modeBuffered, time.Since(start), err)
	if err != nil {
		return "", window, err
	}
	if strings.TrimSpace(reply) == "" {
		return "", window, llm.ErrEmptyResponse
	}
	return reply, window, nil
}

func (s *ChatService) withLLMTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.llmTimeout > 0 {
		return context.WithTimeout(ctx, s.llmTimeout)
	}
	return context.WithCancel(ctx)
}

// persistAssistant writes the reply detached from ctx so a client hanging up
// cannot leave a user message without its counterpart.
func (s *ChatService) persistAssistant(ctx context.Context, conversationID, content string, metadata map[string]any) (*store.Message, error) {
	durable := context.WithoutCancel(ctx)
	msg, err := s.messages.CreateMessage(durable, store.NewMessage{
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        content,
		Metadata:       metadata,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordMessage(string(store.RoleAssistant))

	if err := s.conversations.TouchConversation(durable, conversationID); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("Failed to bump conversation timestamp")
	}
	return msg, nil
}

func (s *ChatService) persistFallback(ctx context.Context, conversationID, mode string) (*store.Message, error) {
	msg, err := s.persistAssistant(ctx, conversationID, FallbackReply, map[string]any{"fallback": true})
	if err != nil {
		s.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("Failed to save fallback reply")
		return nil, err
	}
	s.metrics.RecordFallback(mode)
	return msg, nil
}

func generationFailure(genErr, fallbackErr error) *Error {
	code := ErrorLLMGeneration
	cause := "the assistant could not generate a reply"
	switch {
	case errors.Is(genErr, llm.ErrEmptyResponse), errors.Is(genErr, llm.ErrBlocked):
		code = ErrorLLMEmptyResponse
		cause = "the assistant returned an empty response"
	case IsCode(genErr, ErrorDB):
		code = ErrorDB
		cause = "conversation history could not be loaded"
	case errors.Is(genErr, context.DeadlineExceeded):
		cause = "the assistant took too long to respond"
	}

	reason := fmt.Sprintf("Failed to generate response: %s. Your message was saved and you can retry later.", cause)
	if fallbackErr != nil {
		return newError(code, reason, errors.Join(genErr, fmt.Errorf("saving fallback reply: %w", fallbackErr)))
	}
	return newError(code, reason, genErr)
}
