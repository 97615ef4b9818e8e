package session

import (
	"bytes"
	"crypto/rand"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rtmpcore/rtmp-core/internal/amf0"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/chunk"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/command"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/handshake"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/message"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/packet"
	"github.com/rtmpcore/rtmp-core/internal/sched"
)

// clientHandshake drives the client's half of the simple handshake
// over a raw net.Conn: C0/C1 out, S0/S1/S2 in, C1 echoed back as C2.
// internal/rtmp/handshake only exports the server side, so a test
// standing in for a client hand-rolls this the way a real player does.
func clientHandshake(conn net.Conn) error {
	c1 := make([]byte, handshake.SigSize)
	if _, err := rand.Read(c1); err != nil {
		return err
	}
	if _, err := conn.Write(append([]byte{handshake.Version}, c1...)); err != nil {
		return err
	}

	s0s1s2 := make([]byte, 1+2*handshake.SigSize)
	if _, err := io.ReadFull(conn, s0s1s2); err != nil {
		return err
	}
	s1 := s0s1s2[1 : 1+handshake.SigSize]
	_, err := conn.Write(s1)
	return err
}

// serverHandshake drives the server's half directly against
// internal/rtmp/handshake, the same sequence cmd/rtmpcore's own
// serverHandshake runs, just over plain blocking net.Conn I/O instead
// of the scheduler's descriptor helpers, since the handshake phase
// here runs before a Session/message.Conn exists to hand a task to.
func serverHandshake(conn net.Conn) error {
	c0c1 := make([]byte, 1+handshake.SigSize)
	if _, err := io.ReadFull(conn, c0c1); err != nil {
		return err
	}
	resp, err := handshake.Respond(c0c1[1:])
	if err != nil {
		return err
	}
	if _, err := conn.Write(resp); err != nil {
		return err
	}
	c2 := make([]byte, handshake.SigSize)
	_, err = io.ReadFull(conn, c2)
	return err
}

// scenarioPeer is a hand-driven RTMP client sitting on the non-Session
// end of a net.Pipe, used to script connect/createStream/publish/play
// exchanges against a real Session running the full Run/Dispatcher
// loop on the other end.
type scenarioPeer struct {
	conn *message.Conn
}

// newScenarioPeer completes a handshake over a fresh net.Pipe, spawns
// a Session on one end running the ordinary dispatch loop, and returns
// a scenarioPeer wrapping the other end for the test to drive.
func newScenarioPeer(t *testing.T, registry *Registry, dispatcher *Dispatcher, id uint64) (*scenarioPeer, <-chan error) {
	t.Helper()

	clientRaw, serverRaw := net.Pipe()
	hsErr := make(chan error, 2)
	go func() { hsErr <- clientHandshake(clientRaw) }()
	go func() { hsErr <- serverHandshake(serverRaw) }()
	for i := 0; i < 2; i++ {
		if err := <-hsErr; err != nil {
			t.Fatalf("handshake: %v", err)
		}
	}

	runErr := make(chan error, 1)
	sched.Spawn(id, 0, func(task *sched.Task) error {
		conn := message.New(task, sched.NewDescriptor(serverRaw))
		s := New(id, "127.0.0.1", conn, 64)
		err := s.Run(registry, dispatcher)
		runErr <- err
		return err
	})

	clientTask := sched.Spawn(id+1000, 0, func(task *sched.Task) error { return nil })
	clientConn := message.New(clientTask, sched.NewDescriptor(clientRaw))

	return &scenarioPeer{conn: clientConn}, runErr
}

// sendCommand AMF0-encodes an invoke and writes it on the usual
// command chunk stream for streamID.
func (p *scenarioPeer) sendCommand(t *testing.T, streamID uint32, name string, txnID float64, args ...*amf0.Value) {
	t.Helper()
	if err := p.conn.SendMessage(&chunk.Message{
		ChunkStreamID: packet.ChunkStreamInvoke,
		TypeID:        packet.TypeCommandAMF0,
		StreamID:      streamID,
		Payload:       command.Encode(name, txnID, args...),
	}); err != nil {
		t.Fatalf("send %s: %v", name, err)
	}
}

// recvCommand reads messages until it finds an AMF0 command, silently
// skipping anything else the message layer bubbles up to us (bare
// control messages like SetPeerBandwidth that a Session would act on
// but a raw message.Conn just passes through unhandled).
func (p *scenarioPeer) recvCommand(t *testing.T) *command.Command {
	t.Helper()
	for {
		msg, err := p.conn.RecvMessage()
		if err != nil {
			t.Fatalf("RecvMessage: %v", err)
		}
		if msg.TypeID != packet.TypeCommandAMF0 {
			continue
		}
		cmd, err := command.Decode(msg.Payload)
		if err != nil {
			t.Fatalf("command.Decode: %v", err)
		}
		return cmd
	}
}

// TestHandshakeConnectPublishPlayEndToEnd composes the handshake,
// message and session layers into a full publisher/player exchange
// over net.Pipe: a publisher connects, creates a stream and publishes,
// then a second client connects, creates a stream and plays, and
// finally a video frame the publisher sends is relayed to the player
// unchanged.
func TestHandshakeConnectPublishPlayEndToEnd(t *testing.T) {
	registry := NewRegistry()
	dispatcher := NewDispatcher(registry)

	publisher, pubRunErr := newScenarioPeer(t, registry, dispatcher, 1)
	player, playRunErr := newScenarioPeer(t, registry, dispatcher, 2)

	connectArgs := func() *amf0.Value {
		obj := amf0.Obj()
		obj.Set("app", amf0.Str("live"))
		obj.Set("objectEncoding", amf0.Num(0))
		return obj
	}

	// Publisher: connect, createStream, publish.
	publisher.sendCommand(t, 0, "connect", 1, connectArgs())
	result := publisher.recvCommand(t)
	if result.Name != "_result" {
		t.Fatalf("publisher connect: got %q, want _result", result.Name)
	}
	if code := result.Arg(1).Get("code").AsString(); code != "NetConnection.Connect.Success" {
		t.Fatalf("publisher connect code = %q", code)
	}

	publisher.sendCommand(t, 0, "createStream", 2, amf0.Null())
	result = publisher.recvCommand(t)
	streamID := uint32(result.Arg(1).AsNumber())
	if streamID != 1 {
		t.Fatalf("createStream returned stream id %d, want 1", streamID)
	}

	publisher.sendCommand(t, streamID, "publish", 3, amf0.Null(), amf0.Str("key1"), amf0.Str("live"))
	result = publisher.recvCommand(t)
	if result.Name != "onStatus" {
		t.Fatalf("publish reply: got %q, want onStatus", result.Name)
	}
	if code := result.Arg(1).Get("code").AsString(); code != "NetStream.Publish.Start" {
		t.Fatalf("publish status code = %q", code)
	}

	// Player: connect, createStream, play against the same channel/key.
	player.sendCommand(t, 0, "connect", 1, connectArgs())
	result = player.recvCommand(t)
	if code := result.Arg(1).Get("code").AsString(); code != "NetConnection.Connect.Success" {
		t.Fatalf("player connect code = %q", code)
	}

	player.sendCommand(t, 0, "createStream", 2, amf0.Null())
	result = player.recvCommand(t)
	playStreamID := uint32(result.Arg(1).AsNumber())

	player.sendCommand(t, playStreamID, "play", 3, amf0.Null(), amf0.Str("key1"))
	result = player.recvCommand(t)
	if result.Name != "onStatus" {
		t.Fatalf("play reply: got %q, want onStatus", result.Name)
	}
	if code := result.Arg(1).Get("code").AsString(); code != "NetStream.Play.Start" {
		t.Fatalf("play status code = %q", code)
	}

	// A non-header video frame the publisher sends after play() must
	// reach the player relayed, unchanged, as a TypeVideo message. The
	// read below also drains the pending StreamBegin user-control
	// event the play reply queued, which message.Conn swallows
	// transparently and which must clear before the publisher session
	// can flip this player into its playing state.
	videoCh := make(chan *chunk.Message, 1)
	videoErrCh := make(chan error, 1)
	go func() {
		msg, err := player.conn.RecvMessage()
		if err != nil {
			videoErrCh <- err
			return
		}
		videoCh <- msg
	}()

	videoPayload := []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}
	if err := publisher.conn.SendMessage(&chunk.Message{
		ChunkStreamID: packet.ChunkStreamVideo,
		TypeID:        packet.TypeVideo,
		StreamID:      streamID,
		Payload:       videoPayload,
	}); err != nil {
		t.Fatalf("publisher send video: %v", err)
	}

	select {
	case msg := <-videoCh:
		if msg.TypeID != packet.TypeVideo {
			t.Fatalf("relayed message type = %d, want TypeVideo", msg.TypeID)
		}
		if !bytes.Equal(msg.Payload, videoPayload) {
			t.Fatalf("relayed payload = %v, want %v", msg.Payload, videoPayload)
		}
	case err := <-videoErrCh:
		t.Fatalf("player RecvMessage: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for relayed video frame")
	}

	publisher.conn.Close()
	player.conn.Close()

	select {
	case <-pubRunErr:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for publisher session to exit")
	}
	select {
	case <-playRunErr:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for player session to exit")
	}
}
