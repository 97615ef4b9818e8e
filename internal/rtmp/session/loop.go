package session

import (
	"github.com/rtmpcore/rtmp-core/internal/amf0"
	"github.com/rtmpcore/rtmp-core/internal/rlog"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/chunk"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/command"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/packet"
	"github.com/rtmpcore/rtmp-core/internal/rtmperr"
)

// Run reads messages off the session's connection until the peer
// disconnects or a handler signals the connection should end,
// dispatching each one by its RTMP message type id. Generalizes the
// teacher's HandleSession/HandlePacket read loop in rtmp_session.go.
func (s *Session) Run(registry *Registry, d *Dispatcher) error {
	defer d.OnClose(s)

	for {
		msg, err := s.RecvMessage()
		if err != nil {
			return err
		}

		cont, err := s.handleMessage(registry, d, msg)
		if err != nil {
			rlog.Warning("[session] " + err.Error())
			return err
		}
		if !cont {
			return nil
		}
	}
}

func (s *Session) handleMessage(registry *Registry, d *Dispatcher, msg *chunk.Message) (bool, error) {
	switch msg.TypeID {
	case packet.TypeCommandAMF0:
		cmd, err := command.Decode(msg.Payload)
		if err != nil && cmd == nil {
			return true, rtmperr.Wrap(rtmperr.KindProtocol, "malformed AMF0 command", err)
		}
		return d.Handle(s, cmd, msg.StreamID)

	case packet.TypeFlexMessage:
		if len(msg.Payload) < 1 {
			return true, nil
		}
		cmd, err := command.Decode(msg.Payload[1:])
		if err != nil && cmd == nil {
			return true, rtmperr.Wrap(rtmperr.KindProtocol, "malformed AMF3 command", err)
		}
		return d.Handle(s, cmd, msg.StreamID)

	case packet.TypeDataAMF0:
		s.handleData(registry, msg.Payload)

	case packet.TypeFlexStream:
		if len(msg.Payload) >= 1 {
			s.handleData(registry, msg.Payload[1:])
		}

	case packet.TypeAudio:
		s.HandleAudioPacket(registry, msg)

	case packet.TypeVideo:
		s.HandleVideoPacket(registry, msg)
	}

	return true, nil
}

// handleData rebuilds and forwards @setDataFrame("onMetaData", ...)
// metadata messages, the only data-channel message the relay acts on,
// matching HandleRTMPData/BuildMetadata in the teacher.
func (s *Session) handleData(registry *Registry, payload []byte) {
	values, err := amf0.DecodeAll(payload)
	if err != nil && len(values) == 0 {
		return
	}
	if len(values) == 0 || values[0].AsString() != "@setDataFrame" {
		return
	}
	if len(values) < 3 {
		return
	}

	meta := amf0.Str("onMetaData")
	dataObj := values[2]
	encoded := amf0.Encode(nil, meta)
	encoded = amf0.Encode(encoded, dataObj)

	s.SetMetaData(registry, encoded)
}
