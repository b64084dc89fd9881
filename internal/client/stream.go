package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"bullground.com/advisor-chat/internal/core"
	"bullground.com/advisor-chat/internal/sse"
	"bullground.com/advisor-chat/internal/store"
)

// Event is a decoded streaming event. Only the fields for its Type are set.
type Event struct {
	Type core.EventType

	ConversationID   string
	UserMessage      *store.Message
	Text             string
	AssistantMessage *store.Message
	Message          string
	Code             string
}

// EventStream is a single-pass sequence of events for one streamed reply.
type EventStream struct {
	body   io.ReadCloser
	reader *sse.Reader
}

// StreamMessage sends a message to the streaming endpoint. The caller must
// Close the returned stream.
func (c *Client) StreamMessage(ctx context.Context, conversationID, message string) (*EventStream, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/chat/messages/stream", newSendRequest(conversationID, message))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The overall client timeout would cut long replies short.
	hc := *c.httpClient
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST /chat/messages/stream: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	return &EventStream{
		body:   resp.Body,
		reader: sse.NewReader(resp.Body, c.logger),
	}, nil
}

// Next returns the next event, io.EOF after the end-of-stream marker, or
// sse.ErrTruncated if the connection dropped first.
func (s *EventStream) Next() (Event, error) {
	for {
		env, err := s.reader.Next()
		if err != nil {
			return Event{}, err
		}
		ev, err := decodeEvent(env)
		if err != nil {
			// Unknown or malformed payloads are skipped like malformed records.
			continue
		}
		return ev, nil
	}
}

func (s *EventStream) Close() error {
	return s.body.Close()
}

var errUnknownEvent = errors.New("unknown event type")

func decodeEvent(env sse.Envelope) (Event, error) {
	ev := Event{Type: core.EventType(env.Type)}
	switch ev.Type {
	case core.EventMetadata:
		var p core.MetadataPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Event{}, err
		}
		ev.ConversationID = p.ConversationID
		ev.UserMessage = p.UserMessage
	case core.EventChunk:
		if err := json.Unmarshal(env.Data, &ev.Text); err != nil {
			return Event{}, err
		}
	case core.EventDone:
		var p core.DonePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Event{}, err
		}
		ev.AssistantMessage = p.AssistantMessage
	case core.EventError:
		var p core.ErrorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Event{}, err
		}
		ev.Message = p.Message
		ev.Code = string(p.Code)
	default:
		return Event{}, errUnknownEvent
	}
	return ev, nil
}
