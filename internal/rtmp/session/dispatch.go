package session

import (
	"github.com/rtmpcore/rtmp-core/internal/callback"
	"github.com/rtmpcore/rtmp-core/internal/rlog"
	"github.com/rtmpcore/rtmp-core/internal/rtmperr"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/command"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/message"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/packet"
)

// MaxStreamIDLength bounds channel/key length; the teacher's
// validateStreamIDString enforces a configurable max the same way.
const MaxStreamIDLength = 128

func validStreamIDString(s string, maxLen int) bool {
	if s == "" || len(s) > maxLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.':
		default:
			return false
		}
	}
	return true
}

// Dispatcher routes decoded commands to Session methods, holding the
// channel registry every handler needs (the notifier and control
// connection are per-Session fields). Grounded on HandleInvoke's name-to-method switch in
// rtmp_session.go.
type Dispatcher struct {
	Registry *Registry
}

// NewDispatcher builds a dispatcher bound to a channel registry.
func NewDispatcher(r *Registry) *Dispatcher {
	return &Dispatcher{Registry: r}
}

// Handle dispatches one decoded command against s, returning false
// only for failures that should end the connection (the same
// true/false split HandlePacket/HandleInvoke return in the teacher).
// msgStreamID is the chunk message's own StreamID header field: publish
// and play record it as the session's publish/play stream id, and
// closeStream, which (unlike deleteStream) carries no explicit
// stream-id argument and instead targets whatever stream the message
// itself arrived on.
func (d *Dispatcher) Handle(s *Session, cmd *command.Command, msgStreamID uint32) (bool, error) {
	switch cmd.Name {
	case "connect":
		return d.handleConnect(s, cmd)
	case "createStream":
		return d.handleCreateStream(s, cmd)
	case "publish":
		s.Lock()
		s.PublishStreamID = msgStreamID
		s.Unlock()
		return d.handlePublish(s, cmd)
	case "play":
		s.Lock()
		s.PlayStreamID = msgStreamID
		s.Unlock()
		return d.handlePlay(s, cmd)
	case "pause":
		return d.handlePause(s, cmd)
	case "deleteStream":
		return d.handleDeleteStream(s, uint32(cmd.Arg(1).AsInt()))
	case "closeStream":
		return d.handleDeleteStream(s, msgStreamID)
	case "receiveAudio":
		s.Lock()
		s.ReceiveAudio = cmd.Arg(1).AsBool()
		s.Unlock()
	case "receiveVideo":
		s.Lock()
		s.ReceiveVideo = cmd.Arg(1).AsBool()
		s.Unlock()
	}
	return true, nil
}

func (d *Dispatcher) handleConnect(s *Session, cmd *command.Command) (bool, error) {
	cmdObj := cmd.Arg(0)
	channel := cmdObj.Get("app").AsString()

	if !validStreamIDString(channel, MaxStreamIDLength) {
		rlog.Warning("[session] invalid channel '" + channel + "'")
		return false, rtmperr.New(rtmperr.KindProtocol, "invalid channel name")
	}

	s.Lock()
	s.Channel = channel
	s.IsConnected = true
	s.SetObjectEncoding(cmdObj.Get("objectEncoding").AsNumber())
	s.Unlock()

	rlog.Info("[session] CONNECT '" + channel + "'")

	if err := s.SendWindowAckSize(message.DefaultWindowAckSize); err != nil {
		return false, err
	}
	if err := s.SendPeerBandwidth(message.DefaultWindowAckSize, packet.LimitDynamic); err != nil {
		return false, err
	}
	return true, s.SendCommand(0, command.ConnectResult(cmd.TxnID, s.ObjectEncoding()))
}

func (d *Dispatcher) handleCreateStream(s *Session, cmd *command.Command) (bool, error) {
	return true, s.SendCommand(0, command.CreateStreamResult(cmd.TxnID, 1))
}

func (d *Dispatcher) handlePublish(s *Session, cmd *command.Command) (bool, error) {
	s.ParsePublishOrPlayKey(cmd.Arg(1).AsString())

	s.Lock()
	connected := s.IsConnected
	channel := s.Channel
	key := s.Key
	s.Unlock()

	if key == "" || !connected {
		return true, nil
	}
	if !validStreamIDString(key, MaxStreamIDLength) {
		s.SendStatus(s.PublishStreamID, "error", "NetStream.Publish.BadName", "Invalid stream key provided")
		return false, nil
	}

	s.publishMu.Lock()
	alreadyPublishing := s.IsPublishing
	s.publishMu.Unlock()
	if alreadyPublishing {
		s.SendStatus(s.PublishStreamID, "error", "NetStream.Publish.BadConnection", "Connection already publishing")
		return true, nil
	}
	if d.Registry.IsPublishing(channel) {
		s.SendStatus(s.PublishStreamID, "error", "NetStream.Publish.BadName", "Stream already publishing")
		return false, nil
	}

	rlog.Info("[session] PUBLISH '" + channel + "'")

	var streamID string
	if s.Control != nil && s.Control.Enabled() {
		accepted, sid := s.Control.RequestPublish(channel, key, s.IP)
		if !accepted {
			s.SendStatus(s.PublishStreamID, "error", "NetStream.Publish.BadName", "Invalid stream key provided")
			return false, nil
		}
		streamID = sid
	} else if s.Notifier.Enabled() {
		sid, ok := s.Notifier.NotifyStart(callback.StartPayload{Channel: channel, Key: key, ClientIP: s.IP})
		if !ok {
			s.SendStatus(s.PublishStreamID, "error", "NetStream.Publish.BadName", "Invalid stream key provided")
			return false, nil
		}
		streamID = sid
	}

	s.Lock()
	s.StreamID = streamID
	s.Unlock()
	s.publishMu.Lock()
	s.IsPublishing = true
	s.publishMu.Unlock()

	if err := d.Registry.SetPublisher(channel, key, streamID, s); err != nil {
		return false, err
	}

	s.SendStatus(s.PublishStreamID, "status", "NetStream.Publish.Start", s.StreamPath()+" is now published.")
	s.StartIdlePlayers(d.Registry)
	return true, nil
}

func (d *Dispatcher) handlePlay(s *Session, cmd *command.Command) (bool, error) {
	s.ParsePublishOrPlayKey(cmd.Arg(1).AsString())

	s.Lock()
	key := s.Key
	channel := s.Channel
	connected := s.IsConnected
	s.Unlock()

	if key == "" || !connected {
		return true, nil
	}

	s.Lock()
	already := s.IsIdling || s.IsPlaying
	s.Unlock()
	if already {
		s.SendStatus(s.PlayStreamID, "error", "NetStream.Play.BadConnection", "Connection already playing")
		return true, nil
	}

	rlog.Info("[session] PLAY '" + channel + "'")

	s.SendStatus(s.PlayStreamID, "status", "NetStream.Play.Start", s.StreamPath()+" is now playing.")
	s.sendStreamEvent(streamEventBegin, s.PlayStreamID)

	idle := d.Registry.AddPlayer(channel, key, s)
	if !idle {
		if publisher := d.Registry.GetPublisher(channel); publisher != nil {
			publisher.StartPlayer(s)
		}
	} else {
		rlog.Info("[session] PLAY IDLE '" + channel + "'")
		s.Lock()
		s.IsIdling = true
		s.Unlock()
	}

	return true, nil
}

func (d *Dispatcher) handlePause(s *Session, cmd *command.Command) (bool, error) {
	s.Lock()
	playing := s.IsPlaying
	s.Unlock()
	if !playing {
		return true, nil
	}

	pause := cmd.Arg(1).AsBool()
	s.Lock()
	s.IsPause = pause
	channel := s.Channel
	s.Unlock()

	if pause {
		s.sendStreamEvent(streamEventEOF, s.PlayStreamID)
		s.SendStatus(s.PlayStreamID, "status", "NetStream.Pause.Notify", "Paused live")
	} else {
		s.sendStreamEvent(streamEventBegin, s.PlayStreamID)
		if publisher := d.Registry.GetPublisher(channel); publisher != nil {
			publisher.ResumePlayer(s)
		}
		s.SendStatus(s.PlayStreamID, "status", "NetStream.Unpause.Notify", "Unpaused live")
	}
	return true, nil
}

func (d *Dispatcher) handleDeleteStream(s *Session, streamID uint32) (bool, error) {
	s.Lock()
	playID := s.PlayStreamID
	pubID := s.PublishStreamID
	channel := s.Channel
	s.Unlock()

	if streamID == playID && playID != 0 {
		d.Registry.RemovePlayer(channel, s)
		s.SendStatus(playID, "status", "NetStream.Play.Stop", "Stopped playing stream.")
		s.Lock()
		s.PlayStreamID = 0
		s.IsPlaying = false
		s.IsIdling = false
		s.Unlock()
	}

	if streamID == pubID && pubID != 0 {
		s.EndPublish(d.Registry, false)
		s.Lock()
		s.PublishStreamID = 0
		s.Unlock()
	}

	return true, nil
}

// OnClose tears down whatever streams s still holds when its
// connection is closed, mirroring rtmp_session.go's OnClose/DeleteStream.
func (d *Dispatcher) OnClose(s *Session) {
	s.Lock()
	playID := s.PlayStreamID
	pubID := s.PublishStreamID
	channel := s.Channel
	s.Unlock()

	if playID > 0 {
		d.Registry.RemovePlayer(channel, s)
		s.Lock()
		s.PlayStreamID = 0
		s.IsPlaying = false
		s.IsIdling = false
		s.Unlock()
	}
	if pubID > 0 {
		s.EndPublish(d.Registry, true)
		s.Lock()
		s.PublishStreamID = 0
		s.Unlock()
	}
	s.Lock()
	s.IsConnected = false
	s.Unlock()
}
