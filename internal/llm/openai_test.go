package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newOpenAITestServer(t *testing.T, handler func(w http.ResponseWriter, req capturedRequest)) *OpenAIGenerator {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req capturedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(w, req)
	}))
	t.Cleanup(srv.Close)

	g, err := NewOpenAIGenerator("sk-test", "gpt-test", zerolog.Nop(), WithOpenAIBaseURL(srv.URL+"/v1"))
	require.NoError(t, err)
	return g
}

var advisorRequest = Request{
	SystemInstruction: "be careful",
	Turns: []Turn{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
		{Role: RoleUser, Content: "what is a bond?"},
	},
}

func TestOpenAIGenerate(t *testing.T) {
	g := newOpenAITestServer(t, func(w http.ResponseWriter, req capturedRequest) {
		require.Equal(t, "gpt-test", req.Model)
		require.False(t, req.Stream)
		require.Len(t, req.Messages, 4)
		require.Equal(t, "system", req.Messages[0].Role)
		require.Equal(t, "assistant", req.Messages[2].Role)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"A bond is a loan."}}]}`)
	})

	got, err := g.Generate(context.Background(), advisorRequest)
	require.NoError(t, err)
	require.Equal(t, "A bond is a loan.", got)
}

func TestOpenAIGenerateEmptyAndBlocked(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"no choices", `{"id":"1","choices":[]}`, ErrEmptyResponse},
		{"empty content", `{"id":"1","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":""}}]}`, ErrEmptyResponse},
		{"content filter", `{"id":"1","choices":[{"index":0,"finish_reason":"content_filter","message":{"role":"assistant","content":""}}]}`, ErrBlocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newOpenAITestServer(t, func(w http.ResponseWriter, _ capturedRequest) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tt.body)
			})
			_, err := g.Generate(context.Background(), advisorRequest)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOpenAIGenerateUpstreamError(t *testing.T) {
	g := newOpenAITestServer(t, func(w http.ResponseWriter, _ capturedRequest) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	})

	_, err := g.Generate(context.Background(), advisorRequest)
	require.ErrorContains(t, err, "openai chat completion failed")
}

func TestOpenAIGenerateStream(t *testing.T) {
	g := newOpenAITestServer(t, func(w http.ResponseWriter, req capturedRequest) {
		require.True(t, req.Stream)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"A bond ", "", "is a loan."} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := g.GenerateStream(context.Background(), advisorRequest)
	require.NoError(t, err)
	defer stream.Close()

	var chunks []string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
	require.Equal(t, []string{"A bond ", "is a loan."}, chunks)
	require.NoError(t, stream.Close())
}

func TestOpenAIRequiresUserTurn(t *testing.T) {
	g, err := NewOpenAIGenerator("sk-test", "gpt-test", zerolog.Nop())
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), Request{Turns: []Turn{{Role: RoleAssistant, Content: "hi"}}})
	require.ErrorIs(t, err, ErrNoUserTurn)
}
