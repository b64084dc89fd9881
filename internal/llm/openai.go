package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// OpenAIGenerator targets any OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

var _ Generator = (*OpenAIGenerator)(nil)

type OpenAIOption func(*openai.ClientConfig)

func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(c *openai.ClientConfig) {
		if baseURL != "" {
			c.BaseURL = baseURL
		}
	}
}

func WithOpenAIHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openai.ClientConfig) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

func NewOpenAIGenerator(apiKey, model string, logger zerolog.Logger, opts ...OpenAIOption) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("llm: openai api key must not be empty")
	}
	if model == "" {
		return nil, errors.New("llm: openai model must not be empty")
	}

	cfg := openai.DefaultConfig(apiKey)
	for _, opt := range opts {
		opt(&cfg)
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}, nil
}

func (g *OpenAIGenerator) request(req Request, stream bool) (openai.ChatCompletionRequest, error) {
	if err := lastUserTurn(req.Turns); err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.SystemInstruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemInstruction,
		})
	}
	for _, t := range req.Turns {
		role := openai.ChatMessageRoleUser
		switch t.Role {
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	return openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: Temperature,
		TopP:        TopP,
		MaxTokens:   int(MaxOutputTokens),
		Stream:      stream,
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	chatReq, err := g.request(req, false)
	if err != nil {
		return "", err
	}

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", ErrBlocked
	}
	if choice.Message.Content == "" {
		g.logger.Warn().Str("model", g.model).Msg("OpenAI response had no content")
		return "", ErrEmptyResponse
	}
	return choice.Message.Content, nil
}

func (g *OpenAIGenerator) GenerateStream(ctx context.Context, req Request) (Stream, error) {
	chatReq, err := g.request(req, true)
	if err != nil {
		return nil, err
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai stream failed to create: %w", err)
	}
	return &openaiStream{stream: stream}, nil
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
	closed bool
}

func (s *openaiStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("openai stream failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason == openai.FinishReasonContentFilter {
			return "", ErrBlocked
		}
		if choice.Delta.Content != "" {
			return choice.Delta.Content, nil
		}
	}
}

func (s *openaiStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stream.Close()
}
