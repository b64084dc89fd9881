package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/rs/zerolog"
)

// Envelope is one decoded {type, data} record.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var (
	lfSeparator   = []byte("\n\n")
	crlfSeparator = []byte("\r\n\r\n")
)

// nextSeparator returns the offset and width of the first blank line in b,
// or -1 when there is none yet.
func nextSeparator(b []byte) (int, int) {
	lf := bytes.Index(b, lfSeparator)
	crlf := bytes.Index(b, crlfSeparator)
	if crlf >= 0 && (lf < 0 || crlf < lf) {
		return crlf, len(crlfSeparator)
	}
	if lf >= 0 {
		return lf, len(lfSeparator)
	}
	return -1, 0
}

// Decoder reassembles records from arbitrarily fragmented deliveries. Each
// Feed only scans bytes that arrived since the previous call, so the total
// work is proportional to the stream length and no record is produced twice.
type Decoder struct {
	buf      []byte
	consumed int // prefix of buf already turned into records
	scanned  int // prefix of buf known to hold no separator past consumed
	done     bool
	logger   zerolog.Logger
}

func NewDecoder(logger zerolog.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Done reports whether the [DONE] record has been seen. Input after it is
// ignored.
func (d *Decoder) Done() bool {
	return d.done
}

// Buffered returns the number of bytes held for an incomplete record.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.consumed
}

// Feed appends one delivery and returns the envelopes it completed, in
// order. Malformed records are logged and skipped.
func (d *Decoder) Feed(p []byte) []Envelope {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, p...)

	var out []Envelope
	for !d.done {
		// A separator may straddle two deliveries, so back up far enough to
		// catch the widest one.
		from := max(d.scanned-(len(crlfSeparator)-1), d.consumed)
		idx, width := nextSeparator(d.buf[from:])
		if idx < 0 {
			d.scanned = len(d.buf)
			break
		}
		end := from + idx
		record := d.buf[d.consumed:end]
		d.consumed = end + width
		d.scanned = d.consumed

		if env, ok := d.parseRecord(record); ok {
			out = append(out, env)
		}
	}
	d.compact()
	return out
}

func (d *Decoder) compact() {
	if d.consumed == 0 {
		return
	}
	if d.done {
		d.buf, d.consumed, d.scanned = nil, 0, 0
		return
	}
	if d.consumed < len(d.buf)/2 && d.consumed < 4096 {
		return
	}
	n := copy(d.buf, d.buf[d.consumed:])
	d.buf = d.buf[:n]
	d.scanned -= d.consumed
	d.consumed = 0
}

func (d *Decoder) parseRecord(record []byte) (Envelope, bool) {
	var data []byte
	found := false
	for _, line := range bytes.Split(record, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		value, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			// Comments, event names and ids carry nothing for this protocol.
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		if found {
			data = append(data, '\n')
		}
		data = append(data, value...)
		found = true
	}
	if !found {
		return Envelope{}, false
	}

	if string(data) == doneToken {
		d.done = true
		return Envelope{}, false
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		d.logger.Warn().Err(err).Bytes("record", truncate(data, 256)).Msg("Discarding malformed stream record")
		return Envelope{}, false
	}
	return env, true
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// ErrTruncated is returned when the connection ends before [DONE].
var ErrTruncated = errors.New("sse: stream ended before [DONE]")

// Reader turns a byte stream into a single-pass sequence of envelopes.
type Reader struct {
	r       io.Reader
	dec     *Decoder
	pending []Envelope
	chunk   []byte
	err     error
}

func NewReader(r io.Reader, logger zerolog.Logger) *Reader {
	return &Reader{r: r, dec: NewDecoder(logger), chunk: make([]byte, 4096)}
}

// Next blocks until the next envelope is complete. It returns io.EOF after
// [DONE] and ErrTruncated if the connection closes first.
func (r *Reader) Next() (Envelope, error) {
	for {
		if len(r.pending) > 0 {
			env := r.pending[0]
			r.pending = r.pending[1:]
			return env, nil
		}
		if r.dec.Done() {
			return Envelope{}, io.EOF
		}
		if r.err != nil {
			return Envelope{}, r.err
		}

		n, err := r.r.Read(r.chunk)
		if n > 0 {
			r.pending = append(r.pending, r.dec.Feed(r.chunk[:n])...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrTruncated
			}
			r.err = err
		}
	}
}
