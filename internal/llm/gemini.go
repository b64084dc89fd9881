package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	DefaultGeminiModel = "gemini-1.5-pro"

	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

type GeminiGenerator struct {
	client  *genai.Client
	modelID string
	logger  zerolog.Logger
}

var _ Generator = (*GeminiGenerator)(nil)

func NewGeminiGenerator(ctx context.Context, apiKey, modelID string, logger zerolog.Logger, opts ...option.ClientOption) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("llm: gemini api key must not be empty")
	}
	if modelID == "" {
		modelID = DefaultGeminiModel
	}

	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiGenerator{client: client, modelID: modelID, logger: logger}, nil
}

func (g *GeminiGenerator) Close() error {
	if g.client == nil {
		return nil
	}
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("error closing GenAI client: %w", err)
	}
	g.logger.Debug().Msg("GenAI client closed")
	return nil
}

func (g *GeminiGenerator) model(systemInstruction string) *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.modelID)
	model.SetTemperature(Temperature)
	model.SetTopK(TopK)
	model.SetTopP(TopP)
	model.SetMaxOutputTokens(MaxOutputTokens)
	if systemInstruction != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemInstruction)},
		}
	}
	return model
}

func (g *GeminiGenerator) startChat(req Request) (*genai.ChatSession, *genai.Content, error) {
	history, last, err := toGeminiContents(req.Turns)
	if err != nil {
		return nil, nil, err
	}
	session := g.model(req.SystemInstruction).StartChat()
	session.History = history
	return session, last, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	session, last, err := g.startChat(req)
	if err != nil {
		return "", err
	}

	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", classifyGeminiError(err))
	}

	text := responseText(resp)
	if text == "" {
		g.logger.Warn().Str("model", g.modelID).Msg("Gemini response was empty or had no text parts")
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (g *GeminiGenerator) GenerateStream(ctx context.Context, req Request) (Stream, error) {
	session, last, err := g.startChat(req)
	if err != nil {
		return nil, err
	}
	return &geminiStream{iter: session.SendMessageStream(ctx, last.Parts...)}, nil
}

type geminiStream struct {
	iter *genai.GenerateContentResponseIterator
	done bool
}

func (s *geminiStream) Recv() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		resp, err := s.iter.Next()
		if errors.Is(err, iterator.Done) {
			s.done = true
			return "", io.EOF
		}
		if err != nil {
			s.done = true
			return "", fmt.Errorf("gemini stream failed: %w", classifyGeminiError(err))
		}
		// Chunks without text (safety ratings, usage metadata) are skipped.
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}
}

// Close marks the stream finished. The iterator owns its HTTP stream and
// releases it once the request context is cancelled or the body is drained.
func (s *geminiStream) Close() error {
	s.done = true
	return nil
}

// toGeminiContents maps turns onto Gemini's user/model roles. System turns
// travel as the system instruction, so they are dropped here. Gemini expects
// history to open with a user turn and alternate, so leading model turns
// are trimmed and consecutive same-role turns are merged.
func toGeminiContents(turns []Turn) ([]*genai.Content, *genai.Content, error) {
	if err := lastUserTurn(turns); err != nil {
		return nil, nil, err
	}

	var contents []*genai.Content
	var texts [][]string
	for _, t := range turns {
		var role string
		switch t.Role {
		case RoleUser:
			role = geminiRoleUser
		case RoleAssistant:
			role = geminiRoleModel
		default:
			continue
		}
		if len(contents) == 0 && role == geminiRoleModel {
			continue
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			texts[n-1] = append(texts[n-1], t.Content)
			continue
		}
		contents = append(contents, &genai.Content{Role: role})
		texts = append(texts, []string{t.Content})
	}
	for i, c := range contents {
		c.Parts = []genai.Part{genai.Text(strings.Join(texts[i], "\n\n"))}
	}

	last := contents[len(contents)-1]
	return contents[:len(contents)-1], last, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

func classifyGeminiError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return fmt.Errorf("%w: %v", ErrBlocked, err)
	}
	return err
}
