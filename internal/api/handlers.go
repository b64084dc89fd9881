package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"bullground.com/advisor-chat/internal/core"
	"bullground.com/advisor-chat/internal/metrics"
	"bullground.com/advisor-chat/internal/sse"
)

type APIHandler struct {
	chat          *core.ChatService
	conversations *core.ConversationService
	auth          *core.AuthService
	metrics       *metrics.Metrics
	logger        zerolog.Logger
	devAuthBypass bool
}

type HandlerConfig struct {
	Chat          *core.ChatService
	Conversations *core.ConversationService
	Auth          *core.AuthService
	Metrics       *metrics.Metrics // optional
	Logger        zerolog.Logger
	// DevAuthBypass accepts the X-Test-User-Id header instead of a token.
	DevAuthBypass bool
}

func NewAPIHandler(cfg HandlerConfig) (*APIHandler, error) {
	if cfg.Chat == nil || cfg.Conversations == nil || cfg.Auth == nil {
		return nil, errors.New("api: chat, conversation and auth services are required")
	}
	return &APIHandler{
		chat:          cfg.Chat,
		conversations: cfg.Conversations,
		auth:          cfg.Auth,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With().Str("component", "api").Logger(),
		devAuthBypass: cfg.DevAuthBypass,
	}, nil
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: errorBody{Message: "Route not found", Code: core.ErrorNotFound}})
}

type SendMessageRequest struct {
	ConversationID *string `json:"conversationId"`
	Message        string  `json:"message"`
}

func (h *APIHandler) decodeSendMessage(w http.ResponseWriter, r *http.Request) (core.SendMessageInput, error) {
	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return core.SendMessageInput{}, err
	}

	in := core.SendMessageInput{UserID: UserIDFromContext(r.Context()), Message: req.Message}
	if req.ConversationID != nil && *req.ConversationID != "" {
		if err := validateID(*req.ConversationID, "conversation ID"); err != nil {
			return core.SendMessageInput{}, err
		}
		in.ConversationID = *req.ConversationID
	}

	switch n := utf8.RuneCountInString(req.Message); {
	case n == 0:
		return core.SendMessageInput{}, core.ValidationError("Message cannot be empty")
	case n > core.MaxMessageLength:
		return core.SendMessageInput{}, core.ValidationError("Message too long")
	}
	return in, nil
}

func (h *APIHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodeSendMessage(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.chat.SendMessage(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// StreamMessageHandler streams one reply as server-sent events. Once the
// stream headers are out every failure is reported in-band, including
// failures detected before the first event.
func (h *APIHandler) StreamMessageHandler(w http.ResponseWriter, r *http.Request) {
	sse.SetHeaders(w.Header())
	sw := sse.NewWriter(w)
	log := h.logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()

	in, err := h.decodeSendMessage(w, r)
	var stream *core.MessageStream
	if err == nil {
		stream, err = h.chat.SendMessageStreaming(r.Context(), in)
	}
	if err != nil {
		log.Warn().Err(err).Msg("Streaming request rejected")
		if writeErr := sw.WriteEvent(core.ErrorEvent(err)); writeErr == nil {
			_ = sw.WriteDone()
		}
		return
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Error().Err(err).Msg("Streaming failed")
			return
		}
		if err := sw.WriteEvent(ev); err != nil {
			// Close completes the turn with a fallback reply.
			log.Info().Err(err).Str("conversation_id", stream.ConversationID()).Msg("Client went away mid-stream")
			return
		}
	}
	if err := sw.WriteDone(); err != nil {
		log.Debug().Err(err).Msg("Failed to write end-of-stream marker")
	}
}

func parsePage(r *http.Request) (core.Page, error) {
	var page core.Page
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return page, core.ValidationError("limit must be a positive integer")
		}
		page.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return page, core.ValidationError("offset must be a non-negative integer")
		}
		page.Offset = offset
	}
	return page, nil
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.conversations.ListConversations(r.Context(), UserIDFromContext(r.Context()), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) ConversationMessagesHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if err := validateID(conversationID, "conversation ID"); err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.conversations.GetConversationMessages(r.Context(), UserIDFromContext(r.Context()), conversationID, page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type RenameRequest struct {
	Title string `json:"title"`
}

func (h *APIHandler) RenameConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if err := validateID(conversationID, "conversation ID"); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req RenameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	conv, err := h.conversations.RenameConversation(r.Context(), UserIDFromContext(r.Context()), conversationID, req.Title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if err := validateID(conversationID, "conversation ID"); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.conversations.DeleteConversation(r.Context(), UserIDFromContext(r.Context()), conversationID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
