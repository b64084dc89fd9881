package core

import (
	"context"
	"errors"

	"bullground.com/advisor-chat/internal/llm"
	"bullground.com/advisor-chat/internal/store"
)

// buildRequest loads the sliding history window for a conversation and maps
// it onto provider-neutral turns plus the advisor system instruction.
func (s *ChatService) buildRequest(ctx context.Context, userID, conversationID string) (llm.Request, []store.Message, error) {
	window, err := s.messages.ListRecentMessages(ctx, conversationID, s.historyWindow)
	if err != nil {
		return llm.Request{}, nil, dbError("Failed to load conversation history", err)
	}

	turns := make([]llm.Turn, 0, len(window))
	for _, msg := range window {
		turns = append(turns, llm.Turn{Role: string(msg.Role), Content: msg.Content})
	}

	return llm.Request{
		SystemInstruction: llm.SystemInstruction(s.riskProfile(ctx, userID)),
		Turns:             turns,
	}, window, nil
}

// riskProfile is best effort: a missing user row or lookup failure only
// costs the personalisation, never the reply.
func (s *ChatService) riskProfile(ctx context.Context, userID string) string {
	if s.users == nil {
		return ""
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to load risk profile, continuing without it")
		}
		return ""
	}
	if user.RiskProfile == nil {
		return ""
	}
	return *user.RiskProfile
}
