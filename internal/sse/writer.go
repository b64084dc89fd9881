// Package sse implements the data-only server-sent event framing used by the
// streaming chat endpoint: one JSON envelope per "data:" record, terminated
// by a literal [DONE] record.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	dataPrefix = "data: "
	doneToken  = "[DONE]"
)

// SetHeaders prepares h for an event stream that must not be buffered by
// proxies.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer frames values as SSE records and flushes after each one so chunks
// reach the client as soon as they are produced.
type Writer struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func NewWriter(w http.ResponseWriter) *Writer {
	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout. Recorders in tests do not
	// support deadlines.
	_ = rc.SetWriteDeadline(time.Time{})
	return &Writer{w: w, rc: rc}
}

func (w *Writer) WriteEvent(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: encode event: %w", err)
	}
	return w.writeRecord(payload)
}

func (w *Writer) WriteDone() error {
	return w.writeRecord([]byte(doneToken))
}

func (w *Writer) writeRecord(payload []byte) error {
	buf := make([]byte, 0, len(dataPrefix)+len(payload)+2)
	buf = append(buf, dataPrefix...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	if _, err := w.w.Write(buf); err != nil {
		return fmt.Errorf("sse: write record: %w", err)
	}
	if err := w.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("sse: flush: %w", err)
	}
	return nil
}
