package httpstream

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/rtmpcore/rtmp-core/internal/buffer"
)

func readerFor(data []byte) buffer.Reader {
	r := bytes.NewReader(data)
	return func(buf []byte) (int, error) { return r.Read(buf) }
}

func TestParseRequestLineAndHeaders(t *testing.T) {
	raw := "GET /live/stream.flv HTTP/1.1\r\nHost: example.com\r\nX-Forwarded-For: 1.2.3.4\r\n\r\n"
	s := buffer.New()
	req, err := ParseRequest(s, readerFor([]byte(raw)))
	if err != nil {
		t.Fatal(err)
	}
	if req.Method != "GET" || req.URL != "/live/stream.flv" || req.Version != "HTTP/1.1" {
		t.Fatalf("unexpected request line: %+v", req)
	}
	if req.Header.Get("Host") != "example.com" {
		t.Fatalf("expected Host header, got %q", req.Header.Get("Host"))
	}
	if !req.KeepAlive {
		t.Fatal("expected HTTP/1.1 to default to keep-alive")
	}
}

func TestParseResponseStatusLine(t *testing.T) {
	raw := "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n"
	s := buffer.New()
	resp, err := ParseResponse(s, readerFor([]byte(raw)))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 404 || resp.StatusText != "Not Found" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestBodyReaderContentLength(t *testing.T) {
	raw := "hello"
	s := buffer.New()
	br := NewBodyReader(s, readerFor([]byte(raw)), BodyContentLength, int64(len(raw)))
	got, err := io.ReadAll(br)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != raw {
		t.Fatalf("got %q want %q", got, raw)
	}
}

func TestBodyReaderChunked(t *testing.T) {
	raw := "5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	s := buffer.New()
	br := NewBodyReader(s, readerFor([]byte(raw)), BodyChunked, 0)
	got, err := io.ReadAll(br)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestWriterChunkedFraming(t *testing.T) {
	var sent [][]byte
	w := NewWriter(func(bufs net.Buffers) (int64, error) {
		var n int64
		for _, b := range bufs {
			cp := append([]byte(nil), b...)
			sent = append(sent, cp)
			n += int64(len(b))
		}
		return n, nil
	})
	if err := w.WriteStatusLine(200, "OK"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	all := bytes.Join(sent, nil)
	if !bytes.Contains(all, []byte("Transfer-Encoding: Chunked\r\n")) &&
		!bytes.Contains(all, []byte("Transfer-Encoding: chunked\r\n")) {
		t.Fatalf("expected chunked transfer-encoding header, got %q", all)
	}
	if !bytes.Contains(all, []byte("3\r\nabc\r\n")) {
		t.Fatalf("expected chunk framing for payload, got %q", all)
	}
	if !bytes.HasSuffix(all, []byte("0\r\n\r\n")) {
		t.Fatalf("expected terminating chunk, got %q", all)
	}
}

func TestParseStreamURLBasic(t *testing.T) {
	u := ParseStreamURL("/live/mykey?token=abc")
	if u.App != "live" || u.Key != "mykey" || u.Query["token"] != "abc" {
		t.Fatalf("unexpected parse: %+v", u)
	}
}

func TestParseStreamURLVhostLegacySyntax(t *testing.T) {
	u := ParseStreamURL("/app...vhost...example.com/mykey")
	if u.App != "app" || u.VHost != "example.com" || u.Key != "mykey" {
		t.Fatalf("unexpected parse: %+v", u)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	h := NewHeader()
	h.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	if got := ClientIP(h, "127.0.0.1"); got != "9.9.9.9" {
		t.Fatalf("got %q", got)
	}
}
