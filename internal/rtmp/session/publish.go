package session

import (
	"crypto/subtle"

	"github.com/rtmpcore/rtmp-core/internal/callback"
	"github.com/rtmpcore/rtmp-core/internal/media"
	"github.com/rtmpcore/rtmp-core/internal/rlog"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/chunk"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/packet"
)

// streamEventBegin/EOF are the user-control event ids for
// StreamBegin/StreamEOF, sent on the protocol control chunk stream.
const (
	streamEventBegin = uint16(packet.EventStreamBegin)
	streamEventEOF   = uint16(packet.EventStreamEOF)
)

func (s *Session) sendStreamEvent(event uint16, streamID uint32) error {
	return s.SendUserControl(event, streamID)
}

// startPlayerLocked sends the codec headers and replays the GOP cache
// to player, then flips it into the playing state. Grounded on
// StartPlayer/StartIdlePlayers in rtmp_publisher.go — both functions
// there do exactly this sequence, just reached from two different
// trigger points (a player arriving mid-stream vs. a publisher
// starting while players are already idling). The caller must hold
// s.publishMu, the same way the teacher's publish_mutex is held across
// both call sites.
func (s *Session) startPlayerLocked(player *Session) {
	player.SendMetadata(s.MetaData, 0)
	if len(s.AudioHeader) > 0 {
		player.send(&chunk.Message{ChunkStreamID: 4, TypeID: 8, Payload: s.AudioHeader})
	}
	if len(s.VideoHeader) > 0 {
		player.send(&chunk.Message{ChunkStreamID: 5, TypeID: 9, Payload: s.VideoHeader})
	}

	if !player.GopPlayNo {
		s.GOPCache.Each(func(h *media.Handle) {
			player.SendMediaHandle(h, h.Timestamp)
		})
	}

	player.Lock()
	player.IsPlaying = true
	player.IsIdling = false
	player.Unlock()

	if player.GopPlayClear {
		s.GOPCache.Clear()
		s.GOPCache.SetEnabled(false)
	}
}

// StartIdlePlayers wakes every player currently idling on s's
// channel whose key matches s's publishing key (constant-time, as the
// teacher's subtle.ConstantTimeCompare does), killing any whose key
// does not match — an idling player only ever reaches this point
// because it connected before any publisher existed, so a mismatched
// key here means it guessed wrong.
func (s *Session) StartIdlePlayers(registry *Registry) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	idle := registry.IdlePlayers(s.Channel)
	for _, player := range idle {
		if subtle.ConstantTimeCompare([]byte(s.Key), []byte(player.Key)) == 1 {
			rlog.Info("[session] play start '" + player.Channel + "'")
			s.startPlayerLocked(player)
		} else {
			rlog.Warning("[session] invalid stream key provided for idle player")
			player.SendStatus(player.PlayStreamID, "error", "NetStream.Play.BadName", "Invalid stream key provided")
			player.Kill()
		}
	}
}

// StartPlayer is called for a player that just issued play() while s
// is (or might not be) actively publishing.
func (s *Session) StartPlayer(player *Session) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if !s.IsPublishing {
		player.Lock()
		player.IsPlaying = false
		player.IsIdling = true
		player.Unlock()
		return
	}
	s.startPlayerLocked(player)
}

// ResumePlayer re-sends codec headers to a player coming out of
// pause, so its decoder has fresh sequence headers before media
// resumes.
func (s *Session) ResumePlayer(player *Session) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if len(s.AudioHeader) > 0 {
		player.send(&chunk.Message{ChunkStreamID: 4, TypeID: 8, Timestamp: uint32(s.Clock), Payload: s.AudioHeader})
	}
	if len(s.VideoHeader) > 0 {
		player.send(&chunk.Message{ChunkStreamID: 5, TypeID: 9, Timestamp: uint32(s.Clock), Payload: s.VideoHeader})
	}
}

// EndPublish tears down a publishing session: notifies every player
// that the stream ended, clears the channel's publisher slot, and
// fires the stop notification (webhook or coordinator, whichever is
// configured) exactly once per EndPublish call.
func (s *Session) EndPublish(registry *Registry, isClose bool) {
	s.publishMu.Lock()
	wasPublishing := s.IsPublishing
	s.IsPublishing = false

	if !wasPublishing {
		s.publishMu.Unlock()
		return
	}

	if !isClose {
		s.SendStatus(s.PublishStreamID, "status", "NetStream.Unpublish.Success", s.StreamPath()+" is now unpublished.")
	}

	idled := registry.RemovePublisher(s.Channel)
	for _, p := range idled {
		p.Lock()
		p.IsIdling = true
		p.IsPlaying = false
		p.Unlock()
		p.SendStatus(p.PlayStreamID, "status", "NetStream.Play.UnpublishNotify", "stream is now unpublished.")
		p.sendStreamEvent(streamEventEOF, p.PlayStreamID)
	}

	s.GOPCache.Clear()
	s.publishMu.Unlock()

	if s.Control != nil && s.Control.Enabled() {
		s.Control.PublishEnd(s.Channel, s.StreamID)
	} else if s.Notifier.Enabled() {
		s.Notifier.NotifyStop(callback.StopPayload{
			Channel:  s.Channel,
			Key:      s.Key,
			StreamID: s.StreamID,
			ClientIP: s.IP,
		})
	}
}

// HandleAudioPacket relays an audio message to every active player on
// the channel, retaining the AAC sequence header and feeding the GOP
// cache the same way HandleAudioPacket does in rtmp_session.go. Held
// under s.publishMu for its whole body, the same way the teacher
// holds publish_mutex across its own HandleAudioPacket — the GOP
// cache and codec headers it touches are read by a different
// session's goroutine via StartPlayer/ResumePlayer/StartIdlePlayers.
func (s *Session) HandleAudioPacket(registry *Registry, msg *chunk.Message) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if !s.IsPublishing {
		return
	}

	var isHeader bool
	if len(msg.Payload) >= 2 {
		soundFormat := (msg.Payload[0] >> 4) & 0x0f
		if s.AudioCodec == 0 {
			s.AudioCodec = uint32(soundFormat)
		}
		isHeader = (soundFormat == 10 || soundFormat == 13) && msg.Payload[1] == 0
		if isHeader {
			s.AudioHeader = msg.Payload
		}
	}

	h := media.Create(&chunk.Message{
		ChunkStreamID: 4,
		TypeID:        8,
		Timestamp:     uint32(s.Clock),
		Payload:       append([]byte(nil), msg.Payload...),
	})
	defer h.Release()

	if !isHeader {
		s.GOPCache.Push(h)
	}

	for _, p := range registry.Players(s.Channel) {
		if p.ReceiveAudio {
			p.SendMediaHandle(h, h.Timestamp)
		}
	}
}

// HandleVideoPacket relays a video message the same way, additionally
// clearing the GOP cache on a new keyframe/sequence header so replay
// to the next joining player starts from a clean GOP. Locking
// discipline matches HandleAudioPacket above.
func (s *Session) HandleVideoPacket(registry *Registry, msg *chunk.Message) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if !s.IsPublishing {
		return
	}

	var isHeader bool
	if len(msg.Payload) >= 2 {
		frameType := (msg.Payload[0] >> 4) & 0x0f
		codecID := msg.Payload[0] & 0x0f
		isHeader = (codecID == 7 || codecID == 12) && frameType == 1 && msg.Payload[1] == 0
		if isHeader {
			s.VideoHeader = msg.Payload
			s.GOPCache.Clear()
		}
		if s.VideoCodec == 0 {
			s.VideoCodec = uint32(codecID)
		}
	}

	h := media.Create(&chunk.Message{
		ChunkStreamID: 5,
		TypeID:        9,
		Timestamp:     uint32(s.Clock),
		Payload:       append([]byte(nil), msg.Payload...),
	})
	defer h.Release()

	if !isHeader {
		s.GOPCache.Push(h)
	}

	for _, p := range registry.Players(s.Channel) {
		if p.ReceiveVideo {
			p.SendMediaHandle(h, h.Timestamp)
		}
	}
}

// PublishSnapshot hands a caller outside this package a consistent
// view of the publisher's current metadata, codec headers and GOP
// cache, all read under s.publishMu: header is called once with the
// metadata/header snapshot, then each once per cached handle. Used by
// the HTTP-FLV progressive-download handler to assemble its dump the
// same way startPlayerLocked assembles one for a newly joined RTMP
// player, so a concurrent HandleAudioPacket/HandleVideoPacket can't
// observe or produce a torn read of the GOP cache mid-dump.
func (s *Session) PublishSnapshot(header func(metaData, audioHeader, videoHeader []byte), each func(h *media.Handle)) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	header(s.MetaData, s.AudioHeader, s.VideoHeader)
	s.GOPCache.Each(each)
}

// SetMetaData updates the publisher's metadata (from @setDataFrame)
// and pushes it to every current player, holding s.publishMu across
// the update and the fan-out the same way the teacher's SetMetaData
// holds publish_mutex.
func (s *Session) SetMetaData(registry *Registry, metaData []byte) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if !s.IsPublishing {
		return
	}
	s.MetaData = metaData

	for _, p := range registry.Players(s.Channel) {
		p.SendMetadata(metaData, 0)
	}
}
