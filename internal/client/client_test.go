package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bullground.com/advisor-chat/internal/core"
	"bullground.com/advisor-chat/internal/sse"
	"bullground.com/advisor-chat/internal/store"
)

func TestClientLoginStoresToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "ada@example.com", body["email"])
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"user":{"id":"u1","email":"ada@example.com"},"session":{"accessToken":"tok-1","refreshToken":"ref-1"},"message":"Login successful"}`)
		case "/chat/conversations":
			gotAuth = r.Header.Get("Authorization")
			require.Equal(t, "5", r.URL.Query().Get("limit"))
			_, _ = io.WriteString(w, `{"conversations":[{"id":"c1","userId":"u1"}],"total":1,"limit":5,"offset":0}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	session, err := c.Login(context.Background(), "ada@example.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, "u1", session.User.ID)
	require.Equal(t, "tok-1", c.Token())

	page, err := c.ListConversations(context.Background(), 5, 0)
	require.NoError(t, err)
	require.Equal(t, "Bearer tok-1", gotAuth)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "c1", page.Conversations[0].ID)
}

func TestClientDecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"message":"Conversation not found","code":"CONVERSATION_NOT_FOUND"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Messages(context.Background(), "c1", 0, 0)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "CONVERSATION_NOT_FOUND", apiErr.Code)
}

func TestClientSendMessageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Contains(t, body, "conversationId")
		require.Nil(t, body["conversationId"])
		_, _ = io.WriteString(w, `{"conversationId":"c1","userMessage":{"id":"m1","role":"user","content":"hi"},"assistantMessage":{"id":"m2","role":"assistant","content":"hello"}}`)
	}))
	defer srv.Close()

	out, err := New(srv.URL).SendMessage(context.Background(), "", "hi")
	require.NoError(t, err)
	require.Equal(t, "c1", out.ConversationID)
	require.Equal(t, store.RoleAssistant, out.AssistantMessage.Role)
}

func TestClientStreamMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/messages/stream", r.URL.Path)
		sse.SetHeaders(w.Header())
		sw := sse.NewWriter(w)
		events := []core.StreamEvent{
			{Type: core.EventMetadata, Data: core.MetadataPayload{ConversationID: "c1", UserMessage: &store.Message{ID: "m1", Role: store.RoleUser, Content: "hi"}}},
			{Type: core.EventChunk, Data: "Hel"},
			{Type: "mystery", Data: 1},
			{Type: core.EventChunk, Data: "lo"},
			{Type: core.EventDone, Data: core.DonePayload{AssistantMessage: &store.Message{ID: "m2", Role: store.RoleAssistant, Content: "Hello"}}},
		}
		for _, ev := range events {
			require.NoError(t, sw.WriteEvent(ev))
		}
		require.NoError(t, sw.WriteDone())
	}))
	defer srv.Close()

	stream, err := New(srv.URL).StreamMessage(context.Background(), "", "hi")
	require.NoError(t, err)
	defer stream.Close()

	var got []Event
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}

	require.Len(t, got, 4)
	require.Equal(t, "c1", got[0].ConversationID)
	require.Equal(t, "Hel", got[1].Text)
	require.Equal(t, "lo", got[2].Text)
	require.Equal(t, "Hello", got[3].AssistantMessage.Content)
}

type recordingRenderer struct {
	mu       sync.Mutex
	appended strings.Builder
	replaced []string
}

func (r *recordingRenderer) Append(c rune) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended.WriteRune(c)
}

func (r *recordingRenderer) Replace(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaced = append(r.replaced, text)
}

func (r *recordingRenderer) shown() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appended.String()
}

func TestTypewriterDrainsAndRestarts(t *testing.T) {
	r := &recordingRenderer{}
	tw := NewTypewriter(r, time.Millisecond)

	tw.Push("héllo")
	require.Eventually(t, func() bool { return r.shown() == "héllo" && !tw.Running() }, time.Second, time.Millisecond)
	require.Zero(t, tw.Pending())

	tw.Push(" world")
	require.Eventually(t, func() bool { return r.shown() == "héllo world" && !tw.Running() }, time.Second, time.Millisecond)

	require.Zero(t, tw.Finish("héllo world"))
	require.Equal(t, []string{"héllo world"}, r.replaced)
}

func TestTypewriterFinishDiscardsQueue(t *testing.T) {
	r := &recordingRenderer{}
	tw := NewTypewriter(r, time.Hour)

	tw.Push("partial text")
	require.Equal(t, len("partial text"), tw.Pending())

	dropped := tw.Finish("The final persisted reply.")
	require.Equal(t, len("partial text"), dropped)
	require.Empty(t, r.shown())
	require.Equal(t, []string{"The final persisted reply."}, r.replaced)
	require.False(t, tw.Running())

	tw.Push("ignored")
	require.Zero(t, tw.Pending())
	require.Zero(t, tw.Finish("again"))
	require.Len(t, r.replaced, 1)
}

func TestWriterRenderer(t *testing.T) {
	var out strings.Builder
	r := NewWriterRenderer(&out)
	for _, c := range "Hel" {
		r.Append(c)
	}
	r.Replace("Hello")
	require.Equal(t, "Hello", out.String())

	r.Replace("Something else")
	require.Equal(t, "Hello\nSomething else", out.String())
}
