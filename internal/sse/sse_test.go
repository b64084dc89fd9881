package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func TestWriterFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec.Header())
	w := NewWriter(rec)

	require.NoError(t, w.WriteEvent(testEvent{Type: "chunk", Data: "Hello"}))
	require.NoError(t, w.WriteDone())

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	require.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	require.True(t, rec.Flushed)
	require.Equal(t, "data: {\"type\":\"chunk\",\"data\":\"Hello\"}\n\ndata: [DONE]\n\n", rec.Body.String())
}

func TestDecoderSplitAcrossDeliveries(t *testing.T) {
	dec := NewDecoder(zerolog.Nop())

	first := dec.Feed([]byte("data: {\"type\":\"chunk\",\"data\":\"Hel"))
	require.Empty(t, first)
	require.Positive(t, dec.Buffered())

	second := dec.Feed([]byte("lo\"}\n\ndata: [DONE]\n\n"))
	require.Len(t, second, 1)
	require.Equal(t, "chunk", second[0].Type)
	require.JSONEq(t, `"Hello"`, string(second[0].Data))
	require.True(t, dec.Done())

	require.Empty(t, dec.Feed([]byte("data: {\"type\":\"chunk\",\"data\":\"late\"}\n\n")))
}

func TestDecoderSeparatorStraddlesDeliveries(t *testing.T) {
	dec := NewDecoder(zerolog.Nop())

	require.Empty(t, dec.Feed([]byte("data: {\"type\":\"chunk\",\"data\":\"a\"}\n")))
	got := dec.Feed([]byte("\ndata: {\"type\":\"chunk\",\"data\":\"b\"}\n\n"))
	require.Len(t, got, 2)
	require.JSONEq(t, `"a"`, string(got[0].Data))
	require.JSONEq(t, `"b"`, string(got[1].Data))
	require.Zero(t, dec.Buffered())
}

func TestDecoderByteAtATimeMatchesWholeStream(t *testing.T) {
	var stream bytes.Buffer
	for _, text := range []string{"Index ", "funds ", "track ", "markets."} {
		payload, err := json.Marshal(testEvent{Type: "chunk", Data: text})
		require.NoError(t, err)
		stream.WriteString("data: ")
		stream.Write(payload)
		stream.WriteString("\n\n")
	}
	stream.WriteString("data: [DONE]\n\n")

	whole := NewDecoder(zerolog.Nop()).Feed(stream.Bytes())
	require.Len(t, whole, 4)

	dec := NewDecoder(zerolog.Nop())
	var pieces []Envelope
	for _, b := range stream.Bytes() {
		pieces = append(pieces, dec.Feed([]byte{b})...)
	}
	require.Equal(t, whole, pieces)
	require.True(t, dec.Done())
}

func TestDecoderSkipsMalformedRecords(t *testing.T) {
	var logs bytes.Buffer
	dec := NewDecoder(zerolog.New(&logs))

	got := dec.Feed([]byte(": keep-alive\n\n" +
		"data: {not json}\n\n" +
		"event: ignored\n\n" +
		"data: {\"type\":\"metadata\",\"data\":{\"conversationId\":\"c1\"}}\n\n"))
	require.Len(t, got, 1)
	require.Equal(t, "metadata", got[0].Type)
	require.Contains(t, logs.String(), "Discarding malformed stream record")
}

func TestDecoderMultiLineData(t *testing.T) {
	dec := NewDecoder(zerolog.Nop())
	got := dec.Feed([]byte("data: {\"type\":\"chunk\",\r\ndata: \"data\":\"x\"}\r\n\n"))
	require.Len(t, got, 1)
	require.Equal(t, "chunk", got[0].Type)
}

func TestDecoderCRLFFraming(t *testing.T) {
	stream := "data: {\"type\":\"chunk\",\"data\":\"a\"}\r\n\r\n" +
		"data: {\"type\":\"chunk\",\"data\":\"b\"}\n\n" +
		"data: [DONE]\r\n\r\n"

	whole := NewDecoder(zerolog.Nop())
	got := whole.Feed([]byte(stream))
	require.Len(t, got, 2)
	require.JSONEq(t, `"a"`, string(got[0].Data))
	require.JSONEq(t, `"b"`, string(got[1].Data))
	require.True(t, whole.Done())

	dec := NewDecoder(zerolog.Nop())
	var pieces []Envelope
	for i := 0; i < len(stream); i++ {
		pieces = append(pieces, dec.Feed([]byte{stream[i]})...)
	}
	require.Equal(t, got, pieces)
	require.True(t, dec.Done())
}

func TestReader(t *testing.T) {
	body := "data: {\"type\":\"metadata\",\"data\":{}}\n\n" +
		"data: {\"type\":\"chunk\",\"data\":\"hi\"}\n\n" +
		"data: {\"type\":\"done\",\"data\":{}}\n\n" +
		"data: [DONE]\n\n"

	r := NewReader(iotest.OneByteReader(strings.NewReader(body)), zerolog.Nop())
	var types []string
	for {
		env, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		types = append(types, env.Type)
	}
	require.Equal(t, []string{"metadata", "chunk", "done"}, types)

	_, err := r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderTruncated(t *testing.T) {
	r := NewReader(strings.NewReader("data: {\"type\":\"chunk\",\"data\":\"hi\"}\n\ndata: {\"type\""), zerolog.Nop())

	env, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, "chunk", env.Type)

	_, err = r.Next()
	require.ErrorIs(t, err, ErrTruncated)
}
