package httpstream

import (
	"fmt"
	"net"
	"strconv"
)

// Writer builds an HTTP/1.x response or request, exposing an
// order-preserving header map the caller fills in before
// WriteStatusLine, which picks the framing (Content-Length if already
// set, chunked transfer-encoding otherwise).
type Writer struct {
	Header *Header

	wire       func(bufs net.Buffers) (int64, error)
	wroteLine  bool
	useChunked bool
	closed     bool
}

// NewWriter wraps a vectored write function (typically a closure over
// sched.Writev against the connection's task/descriptor) so the
// writer can batch status line, headers, and chunk framing into a
// single writev the way the reference writer's Send() does.
func NewWriter(wire func(bufs net.Buffers) (int64, error)) *Writer {
	return &Writer{Header: NewHeader(), wire: wire}
}

// WriteStatusLine sends "HTTP/1.1 200 OK\r\n" plus every header
// accumulated so far, followed by the blank line terminating the
// header block. After this call, framing mode is fixed: chunked
// unless Content-Length was set on Header before calling.
func (w *Writer) WriteStatusLine(statusCode int, statusText string) error {
	if w.wroteLine {
		return fmt.Errorf("httpstream: status line already written")
	}
	w.wroteLine = true
	w.useChunked = w.Header.Get("Content-Length") == ""
	if w.useChunked {
		w.Header.Set("Transfer-Encoding", "chunked")
	}
	if w.Header.Get("Server") == "" {
		w.Header.Set("Server", "rtmp-core")
	}

	bufs := net.Buffers{[]byte(fmt.Sprintf("HTTP/1.1 %d %s\r\n", statusCode, statusText))}
	for _, k := range w.Header.Keys() {
		for _, v := range w.Header.values[k] {
			bufs = append(bufs, []byte(canonicalHeaderName(k)+": "+v+"\r\n"))
		}
	}
	bufs = append(bufs, []byte("\r\n"))

	_, err := w.wire(bufs)
	return err
}

// Write sends a body chunk. Under chunked framing this batches the
// size line, CRLF, payload, and trailing CRLF into one vectored
// write; under Content-Length framing it writes the payload as-is.
func (w *Writer) Write(data []byte) (int, error) {
	if !w.wroteLine {
		return 0, fmt.Errorf("httpstream: must WriteStatusLine before Write")
	}
	if w.closed {
		return 0, fmt.Errorf("httpstream: writer already closed")
	}

	if !w.useChunked {
		n, err := w.wire(net.Buffers{data})
		return int(n), err
	}

	if len(data) == 0 {
		return 0, nil
	}

	bufs := net.Buffers{
		[]byte(strconv.FormatInt(int64(len(data)), 16) + "\r\n"),
		data,
		[]byte("\r\n"),
	}
	_, err := w.wire(bufs)
	return len(data), err
}

// Close finishes a chunked body with the terminating zero-size chunk.
// For Content-Length framing it is a no-op (the client already knows
// the body is done once it reads exactly the advertised byte count).
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if !w.useChunked {
		return nil
	}
	_, err := w.wire(net.Buffers{[]byte("0\r\n\r\n")})
	return err
}

// canonicalHeaderName restores conventional header capitalization
// (e.g. "content-type" -> "Content-Type") for the wire; internally
// headers are stored lower-cased for case-insensitive lookups.
func canonicalHeaderName(lower string) string {
	b := []byte(lower)
	upperNext := true
	for i, c := range b {
		if upperNext && c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
		upperNext = c == '-'
	}
	return string(b)
}
