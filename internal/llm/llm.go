// Package llm talks to the external text-generation providers. Every
// provider implements Generator for both buffered and streaming replies.
package llm

import (
	"context"
	"errors"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

var (
	// ErrEmptyResponse means the provider answered without any text.
	ErrEmptyResponse = errors.New("llm: empty response")
	// ErrBlocked means the provider refused to answer (safety filters).
	ErrBlocked = errors.New("llm: response blocked")
	// ErrNoUserTurn means the request did not end with a user message.
	ErrNoUserTurn = errors.New("llm: conversation must end with a user turn")
)

// Generation parameters shared by all providers.
const (
	Temperature     float32 = 0.7
	TopK            int32   = 40
	TopP            float32 = 0.95
	MaxOutputTokens int32   = 2048
)

type Turn struct {
	Role    string
	Content string
}

type Request struct {
	SystemInstruction string
	Turns             []Turn
}

// Stream yields reply chunks until it returns io.EOF. Close releases the
// underlying connection and is safe to call more than once.
type Stream interface {
	Recv() (string, error)
	Close() error
}

type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	GenerateStream(ctx context.Context, req Request) (Stream, error)
}

func lastUserTurn(turns []Turn) error {
	if len(turns) == 0 || turns[len(turns)-1].Role != RoleUser {
		return ErrNoUserTurn
	}
	return nil
}
