// Package session ties the message, command, resource, media and
// control-plane layers into the publish/play state machine: this is
// the generalization of the teacher's monolithic RTMPSession and
// RTMPServer structs into reusable, independently testable pieces.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/rtmpcore/rtmp-core/internal/callback"
	"github.com/rtmpcore/rtmp-core/internal/control"
	"github.com/rtmpcore/rtmp-core/internal/media"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/chunk"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/command"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/message"
)

// Session holds everything about one connected RTMP client: its wire
// connection, its negotiated stream ids, and whether it is currently
// publishing, playing, idling (waiting for a publisher to appear) or
// paused. Grounded on the teacher's RTMPSession struct, trimmed of
// bitrate-cache bookkeeping the spec's Non-goals exclude
// (statistics/telemetry).
type Session struct {
	ID uint64
	IP string

	conn *message.Conn

	// writeMu serializes sends: a publisher's task writes directly
	// into a player's connection when relaying media, so the same
	// out-socket write path the spec calls implicitly single-writer
	// must be guarded explicitly the way the teacher's own SendSync
	// guards conn.Write with s.mutex.
	writeMu sync.Mutex

	mu sync.Mutex

	// publishMu guards every field a publisher's reader task and a
	// player session reaching into that publisher can touch at the
	// same time: IsPublishing, the codec headers/metadata, and the
	// GOPCache (a container/list.List with no synchronization of its
	// own). Grounded on the teacher's dedicated publish_mutex in
	// rtmp_session.go/rtmp_publisher.go, which wraps exactly this set
	// of operations for exactly this reason.
	publishMu sync.Mutex

	objectEncoding float64

	Channel  string
	Key      string
	StreamID string

	PlayStreamID    uint32
	PublishStreamID uint32

	IsConnected  bool
	IsPublishing bool
	IsPlaying    bool
	IsIdling     bool
	IsPause      bool

	ReceiveAudio bool
	ReceiveVideo bool

	GopPlayNo    bool
	GopPlayClear bool

	MetaData   []byte
	AudioCodec uint32
	VideoCodec uint32

	AudioHeader []byte
	VideoHeader []byte

	Clock int64

	GOPCache *media.GOPCache

	Notifier *callback.Notifier
	Control  *control.Connection
}

// New builds a session around a message-layer connection.
func New(id uint64, ip string, conn *message.Conn, gopLimit int64) *Session {
	return &Session{
		ID:           id,
		IP:           ip,
		conn:         conn,
		ReceiveAudio: true,
		ReceiveVideo: true,
		GOPCache:     media.NewGOPCache(gopLimit),
	}
}

// StreamPath returns "/{channel}/{key}", used in log lines and status
// message descriptions the same way the teacher's GetStreamPath does.
func (s *Session) StreamPath() string {
	return "/" + s.Channel + "/" + s.Key
}

// send serializes writes to the connection from whichever goroutine
// calls it — the session's own reader task, or another session's
// publisher relaying media to this one as a player.
func (s *Session) send(msg *chunk.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.SendMessage(msg)
}

// SendCommand encodes and sends an AMF0 command message on the invoke
// channel for the given stream id.
func (s *Session) SendCommand(streamID uint32, payload []byte) error {
	return s.send(&chunk.Message{
		ChunkStreamID: chunkStreamInvoke,
		TypeID:        commandTypeAMF0,
		StreamID:      streamID,
		Payload:       payload,
	})
}

// SendStatus sends an onStatus command for streamID.
func (s *Session) SendStatus(streamID uint32, level, code, description string) error {
	return s.SendCommand(streamID, command.StatusMessage(level, code, description))
}

// SendMetadata forwards a publisher's @setDataFrame metadata payload
// to a player, rewritten onto that player's own clock if nonzero.
func (s *Session) SendMetadata(metaData []byte, timestamp uint32) error {
	if len(metaData) == 0 {
		return nil
	}
	return s.send(&chunk.Message{
		ChunkStreamID: chunkStreamData,
		TypeID:        dataTypeAMF0,
		Timestamp:     timestamp,
		Payload:       metaData,
	})
}

// SendMediaHandle relays a retained media handle (audio or video) to
// this session, rewriting only the timestamp; every other header field
// is the handle's own, and the payload bytes are shared, not copied,
// per internal/media's refcounting contract.
func (s *Session) SendMediaHandle(h *media.Handle, timestamp uint32) error {
	msg := h.Message()
	msg.Timestamp = timestamp
	return s.send(msg)
}

const (
	chunkStreamInvoke = 3
	chunkStreamData   = 6
	commandTypeAMF0   = 20
	dataTypeAMF0      = 18
)

// SendWindowAckSize, SendPeerBandwidth, SetOutChunkSize and
// SendUserControl delegate to the message-layer connection's protocol
// control helpers, serialized through the same writeMu every other
// send on this session goes through.
func (s *Session) SendWindowAckSize(size uint32) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.SendWindowAckSize(size)
}

func (s *Session) SendPeerBandwidth(size uint32, limitType byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.SendPeerBandwidth(size, limitType)
}

func (s *Session) SetOutChunkSize(size uint32) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.SetOutChunkSize(size)
}

func (s *Session) SendUserControl(event uint16, data ...uint32) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.SendUserControl(event, data...)
}

// OnWindowAckSize installs a callback invoked whenever the peer
// reports its receive window, forwarding to the underlying connection.
func (s *Session) OnWindowAckSize(fn func(uint32)) {
	s.conn.OnWindowAckSize(fn)
}

// RecvMessage reads the next application message off the connection,
// transparently applying protocol control messages underneath.
func (s *Session) RecvMessage() (*chunk.Message, error) {
	return s.conn.RecvMessage()
}

// Kill closes the underlying connection, interrupting whatever the
// session's task is currently blocked on.
func (s *Session) Kill() {
	s.conn.Close()
}

// Lock/Unlock guard the Session's own state fields (Channel, Key,
// IsPlaying, IsIdling, etc.) against concurrent access from the
// session's own task and cross-session calls made into it as a
// player. Publish-side state (IsPublishing, GOPCache, codec headers,
// MetaData) is guarded by publishMu instead — see its field comment.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// SetObjectEncoding records the AMF encoding version negotiated at
// connect time (0 = AMF0, 3 = AMF3), used when building the connect
// response.
func (s *Session) SetObjectEncoding(v float64) { s.objectEncoding = v }

// ObjectEncoding returns the negotiated encoding version.
func (s *Session) ObjectEncoding() float64 { return s.objectEncoding }

// ParsePublishOrPlayKey splits a streamName argument into the bare key
// and its legacy "?query" suffix, and applies the cache=no/cache=clear
// play parameters the teacher's getRTMPParamsSimple recognizes.
func (s *Session) ParsePublishOrPlayKey(streamName string) {
	parts := strings.SplitN(streamName, "?", 2)
	s.Key = parts[0]
	if len(parts) < 2 {
		return
	}
	for _, pair := range strings.Split(parts[1], "&") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "cache":
			s.GopPlayNo = kv[1] == "no"
			s.GopPlayClear = kv[1] == "clear"
		}
	}
}

// NowMillis is the session layer's one time.Now() touchpoint, kept in
// a single function so callers needing to stub it in tests can do so
// without reaching into unrelated code.
func NowMillis() int64 { return time.Now().UnixMilli() }
