// Package httpstream implements a streaming HTTP/1.x request/response
// parser and writer on top of the shared Fast Buffered Stream
// (internal/buffer), used for HTTP-FLV/HLS playback and the process
// supervision metrics dump. It is deliberately narrower than
// net/http: just enough of the wire format to serve progressive
// media downloads over a connection the scheduler already owns.
package httpstream

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/rtmpcore/rtmp-core/internal/buffer"
)

// Header is an order-preserving header map: a repeated key keeps its
// first position and every value in arrival order (Get returns the
// first; Writer emits one header line per value).
type Header struct {
	order  []string
	values map[string][]string
}

// NewHeader creates an empty header map.
func NewHeader() *Header {
	return &Header{values: make(map[string][]string)}
}

func canonicalKey(k string) string { return strings.ToLower(k) }

// Set replaces all values for key.
func (h *Header) Set(key, value string) {
	ck := canonicalKey(key)
	if _, ok := h.values[ck]; !ok {
		h.order = append(h.order, ck)
	}
	h.values[ck] = []string{value}
}

// Add appends a value, registering key's position on first use.
func (h *Header) Add(key, value string) {
	ck := canonicalKey(key)
	if _, ok := h.values[ck]; !ok {
		h.order = append(h.order, ck)
	}
	h.values[ck] = append(h.values[ck], value)
}

// Get returns the first value for key, or "" if absent.
func (h *Header) Get(key string) string {
	vs := h.values[canonicalKey(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Keys returns header names in first-seen order.
func (h *Header) Keys() []string { return h.order }

// Request is a parsed HTTP/1.x request line plus headers; the body is
// read separately via NewBodyReader.
type Request struct {
	Method    string
	URL       string
	Version   string
	Header    *Header
	KeepAlive bool
}

// Response is a parsed (or to-be-written) status line plus headers.
type Response struct {
	Version    string
	StatusCode int
	StatusText string
	Header     *Header
	KeepAlive  bool
}

// readLine pulls lines out of a buffer.Stream without consuming
// bytes past the terminating CRLF until the full line is available,
// matching the stream's no-partial-consumption discipline.
func readLine(s *buffer.Stream, reader buffer.Reader, maxLine int) (string, error) {
	for {
		if idx := bytes.Index(s.Bytes(), []byte("\r\n")); idx >= 0 {
			line, err := s.ReadSlice(idx + 2)
			if err != nil {
				return "", err
			}
			return string(line[:len(line)-2]), nil
		}
		if s.Size() >= maxLine {
			return "", fmt.Errorf("httpstream: line exceeds %d bytes", maxLine)
		}
		if err := s.Grow(reader, s.Size()+1); err != nil {
			return "", err
		}
	}
}

const maxLineLength = 16 * 1024

// ParseRequest reads a request line and headers from s, growing it
// from reader as needed. Parsing halts at the blank line terminating
// the headers; the body is the caller's responsibility via
// NewBodyReader.
func ParseRequest(s *buffer.Stream, reader buffer.Reader) (*Request, error) {
	line, err := readLine(s, reader, maxLineLength)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("httpstream: malformed request line %q", line)
	}

	req := &Request{Method: parts[0], URL: parts[1], Version: parts[2], Header: NewHeader()}

	if err := parseHeaders(s, reader, req.Header); err != nil {
		return nil, err
	}

	req.KeepAlive = defaultKeepAlive(req.Version)
	if conn := req.Header.Get("Connection"); conn != "" {
		req.KeepAlive = strings.EqualFold(conn, "keep-alive")
	}

	return req, nil
}

// ParseResponse reads a status line and headers from s.
func ParseResponse(s *buffer.Stream, reader buffer.Reader) (*Response, error) {
	line, err := readLine(s, reader, maxLineLength)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("httpstream: malformed status line %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("httpstream: malformed status code %q", parts[1])
	}

	resp := &Response{Version: parts[0], StatusCode: code, Header: NewHeader()}
	if len(parts) == 3 {
		resp.StatusText = parts[2]
	}

	if err := parseHeaders(s, reader, resp.Header); err != nil {
		return nil, err
	}

	resp.KeepAlive = defaultKeepAlive(resp.Version)
	if conn := resp.Header.Get("Connection"); conn != "" {
		resp.KeepAlive = strings.EqualFold(conn, "keep-alive")
	}

	return resp, nil
}

func defaultKeepAlive(version string) bool {
	return version == "HTTP/1.1"
}

func parseHeaders(s *buffer.Stream, reader buffer.Reader, h *Header) error {
	for {
		line, err := readLine(s, reader, maxLineLength)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return fmt.Errorf("httpstream: malformed header line %q", line)
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		h.Add(key, value)
	}
}
