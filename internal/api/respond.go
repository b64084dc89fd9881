package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"bullground.com/advisor-chat/internal/core"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Message string         `json:"message"`
	Code    core.ErrorCode `json:"code"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encode failure has no one to go to.
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as the {error:{message,code}} envelope. Server-side
// failures are logged with their cause; the cause never reaches the client.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := core.AsError(err)
	status := e.HTTPStatus()

	event := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = h.logger.Error()
	}
	event.Err(e.Err).
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("code", string(e.Code)).
		Int("status", status).
		Msg(e.Reason)

	writeJSON(w, status, errorResponse{Error: errorBody{Message: e.Reason, Code: e.Code}})
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v as is.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return core.ValidationError("Invalid request body")
	}
	return nil
}

func validateID(id, field string) error {
	if _, err := uuid.Parse(id); err != nil {
		return core.ValidationError("Invalid " + field)
	}
	return nil
}
