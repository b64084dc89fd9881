package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bullground.com/advisor-chat/internal/llm"
	"bullground.com/advisor-chat/internal/store"
)

type EventType string

const (
	EventMetadata EventType = "metadata"
	EventChunk    EventType = "chunk"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// StreamEvent is the {type, data} envelope sent to streaming clients.
type StreamEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type MetadataPayload struct {
	ConversationID string         `json:"conversationId"`
	UserMessage    *store.Message `json:"userMessage"`
}

type DonePayload struct {
	AssistantMessage *store.Message `json:"assistantMessage"`
}

type ErrorPayload struct {
	Message string    `json:"message"`
	Code    ErrorCode `json:"code,omitempty"`
}

// ErrorEvent builds the in-band error envelope for err.
func ErrorEvent(err error) StreamEvent {
	e := AsError(err)
	return StreamEvent{Type: EventError, Data: ErrorPayload{Message: e.Reason, Code: e.Code}}
}

type StreamState int

const (
	StateAwaitingHistory StreamState = iota
	StateStreaming
	StateFinalizing
	StateDone
)

func (s StreamState) String() string {
	switch s {
	case StateAwaitingHistory:
		return "awaiting_history"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	}
	return "unknown"
}

const streamFailureReason = "Failed to generate streaming response. Your message was saved and you can retry later."

// MessageStream is a one-shot, forward-only sequence of events for a single
// streamed reply. It is not safe for concurrent use.
//
// The first event is always metadata and the last is always done. Every
// durable write happens before the event that depends on it is returned.
type MessageStream struct {
	svc    *ChatService
	turn   *turn
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state   StreamState
	pending []StreamEvent
	source  llm.Stream
	reply   strings.Builder
	chunks  int
	started time.Time
	closed  bool
}

// SendMessageStreaming runs validation, conversation resolution and the user
// message write eagerly; errors from those steps are returned directly and
// no stream is created. The returned stream must be closed.
//
// Generation is bound to LLMTimeout only, not to ctx: a client that goes
// away does not cut the reply short.
func (s *ChatService) SendMessageStreaming(ctx context.Context, in SendMessageInput) (*MessageStream, error) {
	t, err := s.beginTurn(ctx, in)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := s.withLLMTimeout(context.WithoutCancel(ctx))
	s.metrics.StreamStarted()

	return &MessageStream{
		svc:    s,
		turn:   t,
		logger: s.logger.With().Str("conversation_id", t.conversation.ID).Str("user_id", t.userID).Logger(),
		ctx:    genCtx,
		cancel: cancel,
		state:  StateAwaitingHistory,
		pending: []StreamEvent{{
			Type: EventMetadata,
			Data: MetadataPayload{ConversationID: t.conversation.ID, UserMessage: t.userMessage},
		}},
	}, nil
}

func (m *MessageStream) State() StreamState {
	return m.state
}

func (m *MessageStream) ConversationID() string {
	return m.turn.conversation.ID
}

func (m *MessageStream) IsNewConversation() bool {
	return m.turn.isNew
}

// Next returns the next event, or io.EOF once the terminal done event has
// been delivered.
func (m *MessageStream) Next() (StreamEvent, error) {
	for {
		if len(m.pending) > 0 {
			ev := m.pending[0]
			m.pending = m.pending[1:]
			return ev, nil
		}

		switch m.state {
		case StateAwaitingHistory:
			m.open()
		case StateStreaming:
			if chunk, ok := m.read(); ok {
				return StreamEvent{Type: EventChunk, Data: chunk}, nil
			}
		case StateFinalizing:
			m.state = StateDone
		case StateDone:
			return StreamEvent{}, io.EOF
		}
	}
}

func (m *MessageStream) open() {
	req, _, err := m.svc.buildRequest(m.ctx, m.turn.userID, m.turn.conversation.ID)
	if err != nil {
		m.fail(err)
		return
	}

	m.started = time.Now()
	source, err := m.svc.generator.GenerateStream(m.ctx, req)
	if err != nil {
		m.svc.metrics.RecordLLMRequest(modeStream, time.Since(m.started), err)
		m.fail(err)
		return
	}
	m.source = source
	m.state = StateStreaming
}

// read pulls one chunk from the provider. It reports false once the stream
// has moved on to finalizing.
func (m *MessageStream) read() (string, bool) {
	chunk, err := m.source.Recv()
	if err == nil {
		m.reply.WriteString(chunk)
		m.chunks++
		return chunk, true
	}

	m.closeSource()
	if errors.Is(err, io.EOF) {
		m.complete()
		return "", false
	}
	m.svc.metrics.RecordLLMRequest(modeStream, time.Since(m.started), err)
	m.fail(err)
	return "", false
}

func (m *MessageStream) complete() {
	text := m.reply.String()
	if strings.TrimSpace(text) == "" {
		m.svc.metrics.RecordLLMRequest(modeStream, time.Since(m.started), llm.ErrEmptyResponse)
		m.fail(llm.ErrEmptyResponse)
		return
	}
	m.svc.metrics.RecordLLMRequest(modeStream, time.Since(m.started), nil)

	assistant, err := m.svc.persistAssistant(m.ctx, m.turn.conversation.ID, text, nil)
	if err != nil {
		m.fail(dbError("Failed to save assistant reply", err))
		return
	}

	m.logger.Info().Int("chunks", m.chunks).Msg("Streaming exchange completed")
	m.pending = append(m.pending, StreamEvent{Type: EventDone, Data: DonePayload{AssistantMessage: assistant}})
	m.state = StateFinalizing
}

// fail persists exactly one fallback reply and queues the error + done pair.
func (m *MessageStream) fail(cause error) {
	m.logger.Error().Err(cause).Msg("Streaming LLM generation failed, but user message is saved")

	fallback, err := m.svc.persistFallback(m.ctx, m.turn.conversation.ID, modeStream)
	if err != nil {
		m.logger.Error().Err(errors.Join(cause, err)).Msg("Stream ended without a persisted assistant reply")
	}

	m.pending = append(m.pending,
		StreamEvent{Type: EventError, Data: ErrorPayload{Message: streamFailureReason, Code: ErrorLLMStreaming}},
		StreamEvent{Type: EventDone, Data: DonePayload{AssistantMessage: fallback}},
	)
	m.state = StateFinalizing
}

// finish drives the remaining states without emitting anything.
func (m *MessageStream) finish() {
	for {
		switch m.state {
		case StateAwaitingHistory:
			m.open()
		case StateStreaming:
			m.read()
		default:
			return
		}
	}
}

func (m *MessageStream) closeSource() {
	if m.source == nil {
		return
	}
	if err := m.source.Close(); err != nil {
		m.logger.Debug().Err(err).Msg("Error closing provider stream")
	}
	m.source = nil
}

// Close releases the provider stream. Closing before the terminal event
// blocks until generation finishes and the reply is stored, exactly as if
// every event had been read. The fallback is written only when generation
// itself fails.
func (m *MessageStream) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	if m.state == StateAwaitingHistory || m.state == StateStreaming {
		m.logger.Info().Stringer("state", m.state).Msg("Stream consumer left early, finishing reply")
		m.finish()
	}
	m.pending = nil
	m.state = StateDone

	m.cancel()
	m.svc.metrics.StreamFinished()
	return nil
}
