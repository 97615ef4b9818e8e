package httpstream

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rtmpcore/rtmp-core/internal/buffer"
)

// BodyMode selects how a BodyReader frames the end of the body.
type BodyMode int

const (
	BodyChunked BodyMode = iota
	BodyContentLength
	BodyReadToClose
)

// BodyReader consumes a request/response body out of the same Stream
// the headers were parsed from, in one of the three modes spec'd for
// HTTP/1.x: chunked transfer encoding, a fixed Content-Length, or (for
// a response with neither) read-until-peer-closes.
type BodyReader struct {
	stream *buffer.Stream
	reader buffer.Reader
	mode   BodyMode

	remaining int64 // BodyContentLength
	chunkLeft int64 // BodyChunked: bytes left in the current chunk
	done      bool
}

// ForMode picks a mode from a parsed Header the way the reference
// parser does: chunked wins if present, then Content-Length, else
// read-to-close (only valid for responses).
func ForMode(h *Header) (BodyMode, int64, error) {
	if strings.EqualFold(h.Get("Transfer-Encoding"), "chunked") {
		return BodyChunked, 0, nil
	}
	if cl := h.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("httpstream: malformed Content-Length %q", cl)
		}
		return BodyContentLength, n, nil
	}
	return BodyReadToClose, 0, nil
}

// NewBodyReader builds a reader; for BodyContentLength, length is the
// parsed Content-Length value.
func NewBodyReader(s *buffer.Stream, reader buffer.Reader, mode BodyMode, length int64) *BodyReader {
	return &BodyReader{stream: s, reader: reader, mode: mode, remaining: length}
}

// Read implements io.Reader, returning io.EOF once the body is fully
// consumed per its framing mode.
func (b *BodyReader) Read(p []byte) (int, error) {
	if b.done {
		return 0, io.EOF
	}

	switch b.mode {
	case BodyContentLength:
		return b.readContentLength(p)
	case BodyChunked:
		return b.readChunked(p)
	default:
		return b.readToClose(p)
	}
}

func (b *BodyReader) readContentLength(p []byte) (int, error) {
	if b.remaining <= 0 {
		b.done = true
		return 0, io.EOF
	}
	want := int64(len(p))
	if want > b.remaining {
		want = b.remaining
	}
	if err := b.stream.Grow(b.reader, int(want)); err != nil && b.stream.Size() == 0 {
		return 0, err
	}
	avail := int64(b.stream.Size())
	if avail > want {
		avail = want
	}
	if avail == 0 {
		return 0, io.EOF
	}
	data, err := b.stream.ReadSlice(int(avail))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	b.remaining -= int64(n)
	return n, nil
}

func (b *BodyReader) readToClose(p []byte) (int, error) {
	if err := b.stream.Grow(b.reader, 1); err != nil {
		b.done = true
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, err
	}
	avail := b.stream.Size()
	if avail > len(p) {
		avail = len(p)
	}
	data, err := b.stream.ReadSlice(avail)
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

func (b *BodyReader) readChunked(p []byte) (int, error) {
	if b.chunkLeft == 0 {
		size, err := b.readChunkSizeLine()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			// trailing CRLF after the zero-size chunk
			if err := b.discardLine(); err != nil {
				return 0, err
			}
			b.done = true
			return 0, io.EOF
		}
		b.chunkLeft = size
	}

	want := int64(len(p))
	if want > b.chunkLeft {
		want = b.chunkLeft
	}
	if err := b.stream.Grow(b.reader, int(want)); err != nil {
		return 0, err
	}
	data, err := b.stream.ReadSlice(int(want))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	b.chunkLeft -= int64(n)

	if b.chunkLeft == 0 {
		if err := b.discardLine(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (b *BodyReader) readChunkSizeLine() (int64, error) {
	line, err := readLine(b.stream, b.reader, maxLineLength)
	if err != nil {
		return 0, err
	}
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("httpstream: malformed chunk size %q", line)
	}
	return size, nil
}

func (b *BodyReader) discardLine() error {
	_, err := readLine(b.stream, b.reader, maxLineLength)
	return err
}
