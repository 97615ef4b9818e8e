package session

import (
	"fmt"
	"sync"

	"github.com/rtmpcore/rtmp-core/internal/resource"
)

// playerRecord adapts a *Session to resource.Record so the channel's
// player list gets the manager's re-entrancy-safe snapshot-before-
// notify and deferred-disposal behavior for free. Disposal here is a
// no-op: removing a player from a channel never implies closing its
// connection, only that it stops receiving media on that channel.
type playerRecord struct {
	session *Session
}

func (p *playerRecord) Dispose() {}

// Channel is one streaming channel's live state: who's publishing (if
// anyone) and the set of sessions registered as players. Grounded on
// the teacher's RTMPChannel plus the player-iteration methods
// (GetPlayers/GetIdlePlayers/AddPlayer/RemovePlayer) on RTMPServer.
type Channel struct {
	Name      string
	Key       string
	StreamID  string
	Publisher *Session

	players *resource.Manager
}

func newChannel(name string) *Channel {
	return &Channel{Name: name, players: resource.New()}
}

// Registry holds every live channel, created lazily on first
// publish/play and removed once it has no publisher and no players
// left — matching the teacher's RTMPServer.channels lifecycle.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
}

// NewRegistry builds an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

func (r *Registry) channelLocked(name string) *Channel {
	c := r.channels[name]
	if c == nil {
		c = newChannel(name)
		r.channels[name] = c
	}
	return c
}

func (r *Registry) pruneLocked(c *Channel) {
	if c.Publisher == nil && len(c.players.At()) == 0 {
		delete(r.channels, c.Name)
	}
}

// KillPublisher closes the connection of whatever is publishing on
// name, if streamID is empty or matches the channel's current stream
// id. Used by both the coordinator's STREAM-KILL RPC and the Redis
// admin command channel to force a publisher off, the same
// effect the teacher's control/redis-triggered disconnects have.
func (r *Registry) KillPublisher(name, streamID string) {
	r.mu.Lock()
	c := r.channels[name]
	if c == nil || c.Publisher == nil {
		r.mu.Unlock()
		return
	}
	if streamID != "" && c.StreamID != streamID {
		r.mu.Unlock()
		return
	}
	publisher := c.Publisher
	r.mu.Unlock()

	publisher.Kill()
}

// IsPublishing reports whether channel currently has an active
// publisher.
func (r *Registry) IsPublishing(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.channels[name]
	return c != nil && c.Publisher != nil
}

// GetPublisher returns the current publisher for name, or nil.
func (r *Registry) GetPublisher(name string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.channels[name]
	if c == nil {
		return nil
	}
	return c.Publisher
}

// SetPublisher claims name for s, failing if another publisher is
// already active.
func (r *Registry) SetPublisher(name, key, streamID string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.channelLocked(name)
	if c.Publisher != nil {
		return fmt.Errorf("session: channel %q already has a publisher", name)
	}
	c.Key = key
	c.StreamID = streamID
	c.Publisher = s
	return nil
}

// RemovePublisher clears name's publisher (if it is s) and idles
// every registered player, mirroring RemovePublisher's side effect of
// flipping isPlaying off on every session in the channel.
func (r *Registry) RemovePublisher(name string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.channels[name]
	if c == nil {
		return nil
	}
	c.Publisher = nil

	var idled []*Session
	for _, rec := range c.players.At() {
		p := rec.(*playerRecord).session
		idled = append(idled, p)
	}
	r.pruneLocked(c)
	return idled
}

// AddPlayer registers s as a player on name, returning whether it
// started idle (true) because no publisher is active, matching the
// teacher's AddPlayer key-check (only enforced once a publisher
// exists — an idling player's key is validated later, when a
// publisher with a matching key shows up).
func (r *Registry) AddPlayer(name, key string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.channelLocked(name)
	c.players.Add(s.ID, &playerRecord{session: s})

	return c.Publisher == nil
}

// RemovePlayer unregisters s from name, pruning the channel if it is
// now both unpublished and empty.
func (r *Registry) RemovePlayer(name string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.channels[name]
	if c == nil {
		return
	}
	c.players.Remove(s.ID, "", 0, false)
	c.players.Sweep()
	r.pruneLocked(c)
}

// Players returns every session on name currently flagged as an
// active player (playing, not paused), the same filter the teacher's
// GetPlayers applies.
func (r *Registry) Players(name string) []*Session {
	return r.filterPlayers(name, func(s *Session) bool {
		return s.IsPlaying && !s.IsPause
	})
}

// IdlePlayers returns every session on name currently idling, waiting
// for a publisher.
func (r *Registry) IdlePlayers(name string) []*Session {
	return r.filterPlayers(name, func(s *Session) bool {
		return s.IsIdling
	})
}

func (r *Registry) filterPlayers(name string, want func(*Session) bool) []*Session {
	r.mu.Lock()
	c := r.channels[name]
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	var out []*Session
	for _, rec := range c.players.At() {
		p := rec.(*playerRecord).session
		p.Lock()
		match := want(p)
		p.Unlock()
		if match {
			out = append(out, p)
		}
	}
	return out
}
