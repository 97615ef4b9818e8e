package main

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/rtmpcore/rtmp-core/internal/buffer"
	"github.com/rtmpcore/rtmp-core/internal/httpstream"
	"github.com/rtmpcore/rtmp-core/internal/media"
	"github.com/rtmpcore/rtmp-core/internal/rlog"
	"github.com/rtmpcore/rtmp-core/internal/sched"
)

// listenHTTP serves two things over plain HTTP: GET /metrics, a
// process-supervision counter dump, and GET /{app}/{key}.flv, a
// progressive-download snapshot of whatever is currently cached for
// that channel (its codec headers, its GOP cache, and its current
// metadata). It does not follow the stream live past that snapshot —
// the player abstraction the RTMP fan-out path relays new frames
// through (Registry.Players/AddPlayer) is typed to *session.Session
// and tied to the RTMP wire framing, so wiring a live HTTP tail would
// need a second player kind threaded through every fan-out call site;
// out of scope for what this entry point needs to demonstrate.
func (s *server) listenHTTP(wg *sync.WaitGroup) error {
	addr := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.HTTPPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	rlog.Info("listening for HTTP on " + addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ln.Close()
		for {
			c, err := ln.Accept()
			if err != nil {
				rlog.Error(err)
				return
			}
			go s.handleHTTPConnection(c)
		}
	}()
	return nil
}

func (s *server) handleHTTPConnection(c net.Conn) {
	defer c.Close()

	id := s.newSessionID()
	sched.Spawn(id, 0, func(self *sched.Task) error {
		desc := sched.NewDescriptor(c)
		stream := buffer.New()

		reader := func(buf []byte) (int, error) {
			return sched.Read(self, desc, buf, sched.NoDeadline)
		}
		req, err := httpstream.ParseRequest(stream, reader)
		if err != nil {
			return err
		}

		// Neither route this server offers reads a body, but a
		// spec-compliant HTTP/1.x server still drains whatever the
		// client sent before responding, so a keep-alive connection
		// doesn't desync on the next request's bytes.
		if mode, length, err := httpstream.ForMode(req.Header); err == nil && mode != httpstream.BodyReadToClose {
			body := httpstream.NewBodyReader(stream, reader, mode, length)
			io.Copy(io.Discard, body)
		}

		wire := func(bufs net.Buffers) (int64, error) {
			return sched.Writev(self, desc, bufs, sched.NoDeadline)
		}
		w := httpstream.NewWriter(wire)

		switch {
		case req.URL == "/metrics":
			serveMetrics(w)
		case strings.HasSuffix(req.URL, ".flv"):
			serveHTTPFLV(s, w, req)
		default:
			w.Header.Set("Content-Length", "0")
			w.WriteStatusLine(404, "Not Found")
		}

		return w.Close()
	})
}

func serveMetrics(w *httpstream.Writer) {
	served, active := sched.Stats()
	body := fmt.Sprintf("tasks_served %d\ntasks_active %d\n", served, active)

	w.Header.Set("Content-Type", "text/plain; charset=utf-8")
	w.Header.Set("Content-Length", strconv.Itoa(len(body)))
	if err := w.WriteStatusLine(200, "OK"); err != nil {
		return
	}
	w.Write([]byte(body))
}

func serveHTTPFLV(s *server, w *httpstream.Writer, req *httpstream.Request) {
	path := strings.TrimSuffix(req.URL, ".flv")
	u := httpstream.ParseStreamURL(path)

	publisher := s.registry.GetPublisher(u.App)
	if publisher == nil {
		w.Header.Set("Content-Length", "0")
		w.WriteStatusLine(404, "Not Found")
		return
	}

	w.Header.Set("Content-Type", "video/x-flv")
	if err := w.WriteStatusLine(200, "OK"); err != nil {
		return
	}

	publisher.PublishSnapshot(func(metaData, audioHeader, videoHeader []byte) {
		w.Write(flvFileHeader(len(audioHeader) > 0, len(videoHeader) > 0))

		if len(metaData) > 0 {
			w.Write(flvTag(flvTagScript, 0, metaData))
		}
		if len(audioHeader) > 0 {
			w.Write(flvTag(flvTagAudio, 0, audioHeader))
		}
		if len(videoHeader) > 0 {
			w.Write(flvTag(flvTagVideo, 0, videoHeader))
		}
	}, func(h *media.Handle) {
		w.Write(flvTag(h.TypeID, h.Timestamp, h.Payload()))
	})
}

const (
	flvTagAudio  byte = 8
	flvTagVideo  byte = 9
	flvTagScript byte = 18
)

// flvFileHeader builds the 9-byte FLV signature/flags/offset header
// plus the 4-byte zero PreviousTagSize0 every FLV stream opens with.
func flvFileHeader(hasAudio, hasVideo bool) []byte {
	var flags byte
	if hasAudio {
		flags |= 0x04
	}
	if hasVideo {
		flags |= 0x01
	}
	return []byte{
		'F', 'L', 'V', 1, flags,
		0, 0, 0, 9,
		0, 0, 0, 0,
	}
}

// flvTag encodes one FLV tag (11-byte header plus payload) followed by
// its own trailing PreviousTagSize field.
func flvTag(typeID byte, timestamp uint32, payload []byte) []byte {
	size := len(payload)
	out := make([]byte, 0, 11+size+4)

	out = append(out, typeID)
	out = append(out, byte(size>>16), byte(size>>8), byte(size))
	out = append(out, byte(timestamp>>16), byte(timestamp>>8), byte(timestamp), byte(timestamp>>24))
	out = append(out, 0, 0, 0)
	out = append(out, payload...)

	tagLen := uint32(11 + size)
	out = append(out, byte(tagLen>>24), byte(tagLen>>16), byte(tagLen>>8), byte(tagLen))
	return out
}
