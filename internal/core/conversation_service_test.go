package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"bullground.com/advisor-chat/internal/logger"
)

func seedConversation(t *testing.T, svc *ChatService, userID, message string) string {
	t.Helper()
	out, err := svc.SendMessage(context.Background(), SendMessageInput{UserID: userID, Message: message})
	require.NoError(t, err)
	return out.ConversationID
}

func TestConversationServiceListing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	chat := newTestChatService(t, s, &scriptedGenerator{reply: "ok"})
	svc, err := NewConversationService(s, s, logger.Nop())
	require.NoError(t, err)

	for _, msg := range []string{"first", "second", "third"} {
		seedConversation(t, chat, "alice", msg)
	}
	seedConversation(t, chat, "bob", "not yours")

	page, err := svc.ListConversations(ctx, "alice", Page{})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Equal(t, DefaultConversationPageSize, page.Limit)
	require.Len(t, page.Conversations, 3)
	for _, c := range page.Conversations {
		require.Equal(t, "alice", c.UserID)
	}

	page, err = svc.ListConversations(ctx, "alice", Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	require.Equal(t, 3, page.Total)

	_, err = svc.ListConversations(ctx, "alice", Page{Limit: MaxPageSize + 1})
	require.True(t, IsCode(err, ErrorValidation))
	_, err = svc.ListConversations(ctx, "alice", Page{Limit: 5, Offset: -1})
	require.True(t, IsCode(err, ErrorValidation))
}

func TestConversationServiceMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	chat := newTestChatService(t, s, &scriptedGenerator{reply: "ok"})
	svc, err := NewConversationService(s, s, logger.Nop())
	require.NoError(t, err)

	id := seedConversation(t, chat, "alice", "hello")

	page, err := svc.GetConversationMessages(ctx, "alice", id, Page{})
	require.NoError(t, err)
	require.Equal(t, DefaultMessagePageSize, page.Limit)
	require.Equal(t, 2, page.Total)
	require.Len(t, page.Messages, 2)
	require.Equal(t, "hello", page.Messages[0].Content)

	_, err = svc.GetConversationMessages(ctx, "bob", id, Page{})
	require.True(t, IsCode(err, ErrorConversationNotFound))
}

func TestConversationServiceRename(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	chat := newTestChatService(t, s, &scriptedGenerator{reply: "ok"})
	svc, err := NewConversationService(s, s, logger.Nop())
	require.NoError(t, err)

	id := seedConversation(t, chat, "alice", "hello")

	conv, err := svc.RenameConversation(ctx, "alice", id, "  Retirement plan  ")
	require.NoError(t, err)
	require.Equal(t, "Retirement plan", *conv.Title)

	_, err = svc.RenameConversation(ctx, "alice", id, "   ")
	require.True(t, IsCode(err, ErrorInvalidTitle))

	_, err = svc.RenameConversation(ctx, "alice", id, strings.Repeat("x", MaxTitleLength+1))
	require.True(t, IsCode(err, ErrorInvalidTitle))

	_, err = svc.RenameConversation(ctx, "bob", id, "mine now")
	require.True(t, IsCode(err, ErrorConversationNotFound))
}

func TestConversationServiceDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	chat := newTestChatService(t, s, &scriptedGenerator{reply: "ok"})
	svc, err := NewConversationService(s, s, logger.Nop())
	require.NoError(t, err)

	id := seedConversation(t, chat, "alice", "hello")

	err = svc.DeleteConversation(ctx, "bob", id)
	require.True(t, IsCode(err, ErrorConversationNotFound))

	require.NoError(t, svc.DeleteConversation(ctx, "alice", id))

	page, err := svc.ListConversations(ctx, "alice", Page{})
	require.NoError(t, err)
	require.Zero(t, page.Total)

	_, err = svc.GetConversationMessages(ctx, "alice", id, Page{})
	require.True(t, IsCode(err, ErrorConversationNotFound))

	// A deleted conversation can no longer be continued.
	_, err = chat.SendMessage(ctx, SendMessageInput{UserID: "alice", ConversationID: id, Message: "still there?"})
	require.True(t, IsCode(err, ErrorConversationNotFound))

	err = svc.DeleteConversation(ctx, "alice", id)
	require.True(t, IsCode(err, ErrorConversationNotFound))
}
