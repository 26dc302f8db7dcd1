// Package sse incrementally decodes a Server-Sent-Events body into the JSON
// payloads carried by its data: lines.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

const defaultReadSize = 32 * 1024

var (
	crlf       = []byte("\r\n")
	lf         = []byte("\n")
	frameDelim = []byte("\n\n")
	dataPrefix = []byte("data:")
)

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for frame diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMalformedHandler registers a callback for data: payloads that are not
// valid JSON. Such payloads are always skipped; the callback only observes them.
func WithMalformedHandler(fn func(payload []byte)) Option {
	return func(d *Decoder) {
		d.onMalformed = fn
	}
}

// WithReadSize sets how many bytes are requested per Read.
func WithReadSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.readSize = n
		}
	}
}

// Decoder turns an event-stream body into JSON payloads, one per data: line.
// Bytes are buffered until a whole frame is available, so reads that split a
// line or a multi-byte character are handled transparently.
type Decoder struct {
	r           io.Reader
	logger      *slog.Logger
	onMalformed func([]byte)
	readSize    int

	chunk []byte
	buf   []byte
	ready []json.RawMessage
	err   error
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		r:        r,
		logger:   slog.Default(),
		readSize: defaultReadSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next payload. It returns io.EOF once the underlying reader
// is exhausted; any unterminated trailing frame is dropped.
func (d *Decoder) Next() (json.RawMessage, error) {
	for {
		if len(d.ready) > 0 {
			payload := d.ready[0]
			d.ready = d.ready[1:]
			return payload, nil
		}
		if d.err != nil {
			return nil, d.err
		}

		if d.chunk == nil {
			d.chunk = make([]byte, d.readSize)
		}
		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
			d.frame()
		}
		switch {
		case err == io.EOF:
			if len(bytes.TrimSpace(d.buf)) > 0 {
				d.logger.Debug("discarding unterminated event frame", slog.Int("bytes", len(d.buf)))
			}
			d.buf = nil
			d.err = io.EOF
		case err != nil:
			d.err = fmt.Errorf("stream read error: %w", err)
		}
	}
}

// frame extracts every complete frame from the buffer. A trailing '\r' stays
// buffered until the next read shows whether it starts a "\r\n".
func (d *Decoder) frame() {
	d.buf = bytes.ReplaceAll(d.buf, crlf, lf)
	for {
		idx := bytes.Index(d.buf, frameDelim)
		if idx < 0 {
			return
		}
		d.parseFrame(d.buf[:idx])
		d.buf = d.buf[idx+len(frameDelim):]
	}
}

func (d *Decoder) parseFrame(frame []byte) {
	for _, line := range bytes.Split(frame, lf) {
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if len(payload) == 0 {
			continue
		}
		if !json.Valid(payload) {
			d.logger.Debug("skipping malformed event payload", slog.String("payload", truncate(payload, 200)))
			if d.onMalformed != nil {
				d.onMalformed(bytes.Clone(payload))
			}
			continue
		}
		d.ready = append(d.ready, json.RawMessage(bytes.Clone(payload)))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
