package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// steppedClock makes every write observe a strictly later timestamp.
func steppedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Millisecond)
		return current
	}
}

func TestSQLiteUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	user, err := s.CreateUser(ctx, "ada@example.com", "hash")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)

	_, err = s.CreateUser(ctx, "ada@example.com", "other")
	require.ErrorIs(t, err, ErrConflict)

	byEmail, err := s.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, user.ID, byEmail.ID)
	require.Nil(t, byEmail.RiskProfile)

	profile := "balanced"
	updated, err := s.UpdateRiskProfile(ctx, user.ID, &profile)
	require.NoError(t, err)
	require.Equal(t, "balanced", *updated.RiskProfile)

	_, err = s.GetUserByID(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteRevokedTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	revoked, err := s.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, s.RevokeToken(ctx, "jti-1", time.Now().Add(time.Hour)))
	require.NoError(t, s.RevokeToken(ctx, "jti-1", time.Now().Add(time.Hour)))

	revoked, err = s.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)
}

func TestSQLiteConversationOwnership(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	title := "Emergency fund"
	conv, err := s.CreateConversation(ctx, "user-a", &title)
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, conv.ID, "user-a")
	require.NoError(t, err)
	require.Equal(t, "Emergency fund", *got.Title)

	_, err = s.GetConversation(ctx, conv.ID, "user-b")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.RenameConversation(ctx, conv.ID, "user-b", "stolen")
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, s.SoftDeleteConversation(ctx, conv.ID, "user-b"), ErrNotFound)

	require.NoError(t, s.SoftDeleteConversation(ctx, conv.ID, "user-a"))
	_, err = s.GetConversation(ctx, conv.ID, "user-a")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.SoftDeleteConversation(ctx, conv.ID, "user-a"), ErrNotFound)
}

func TestSQLiteListConversationsByRecency(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	s.now = steppedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	var ids []string
	for i := 0; i < 3; i++ {
		conv, err := s.CreateConversation(ctx, "user-a", nil)
		require.NoError(t, err)
		ids = append(ids, conv.ID)
	}
	_, err := s.CreateConversation(ctx, "user-b", nil)
	require.NoError(t, err)

	// Activity on the oldest conversation moves it to the front.
	require.NoError(t, s.TouchConversation(ctx, ids[0]))

	list, err := s.ListConversations(ctx, "user-a", 20, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, []string{ids[0], ids[2], ids[1]}, []string{list[0].ID, list[1].ID, list[2].ID})

	total, err := s.CountConversations(ctx, "user-a")
	require.NoError(t, err)
	require.Equal(t, 3, total)

	page, err := s.ListConversations(ctx, "user-a", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, ids[1], page[0].ID)

	require.ErrorIs(t, s.TouchConversation(ctx, "missing"), ErrNotFound)
}

func TestSQLiteRenameBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	s.now = steppedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	conv, err := s.CreateConversation(ctx, "user-a", nil)
	require.NoError(t, err)

	renamed, err := s.RenameConversation(ctx, conv.ID, "user-a", "Retirement plan")
	require.NoError(t, err)
	require.Equal(t, "Retirement plan", *renamed.Title)
	require.True(t, renamed.UpdatedAt.After(conv.UpdatedAt))
}

func TestSQLiteMessagesRoundTripInOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	conv, err := s.CreateConversation(ctx, "user-a", nil)
	require.NoError(t, err)

	const pairs = 15
	for i := 0; i < pairs; i++ {
		_, err := s.CreateMessage(ctx, NewMessage{ConversationID: conv.ID, Role: RoleUser, Content: fmt.Sprintf("q%d", i)})
		require.NoError(t, err)
		_, err = s.CreateMessage(ctx, NewMessage{ConversationID: conv.ID, Role: RoleAssistant, Content: fmt.Sprintf("a%d", i)})
		require.NoError(t, err)
	}

	all, err := s.ListMessages(ctx, conv.ID, 100, 0)
	require.NoError(t, err)
	require.Len(t, all, 2*pairs)
	for i, msg := range all {
		if i%2 == 0 {
			require.Equal(t, RoleUser, msg.Role)
			require.Equal(t, fmt.Sprintf("q%d", i/2), msg.Content)
		} else {
			require.Equal(t, RoleAssistant, msg.Role)
			require.Equal(t, fmt.Sprintf("a%d", i/2), msg.Content)
		}
	}

	count, err := s.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, 2*pairs, count)

	recent, err := s.ListRecentMessages(ctx, conv.ID, 4)
	require.NoError(t, err)
	require.Equal(t, []string{"q13", "a13", "q14", "a14"},
		[]string{recent[0].Content, recent[1].Content, recent[2].Content, recent[3].Content})

	// Pages tile the full list without gaps or repeats.
	var paged []Message
	for offset := 0; offset < 2*pairs; offset += 7 {
		page, err := s.ListMessages(ctx, conv.ID, 7, offset)
		require.NoError(t, err)
		paged = append(paged, page...)
	}
	require.Equal(t, all, paged)
}

func TestSQLiteMessageMetadata(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	conv, err := s.CreateConversation(ctx, "user-a", nil)
	require.NoError(t, err)

	_, err = s.CreateMessage(ctx, NewMessage{
		ConversationID: conv.ID,
		Role:           RoleAssistant,
		Content:        "fallback",
		Metadata:       map[string]any{"fallback": true},
	})
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, conv.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, map[string]any{"fallback": true}, msgs[0].Metadata)
}

func TestSQLiteCreateMessageRejectsUnknownRole(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.CreateMessage(context.Background(), NewMessage{ConversationID: "c", Role: "model", Content: "x"})
	require.ErrorContains(t, err, "invalid message role")
}
