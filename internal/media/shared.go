// Package media implements the zero-copy fan-out primitive the
// publish/play data path is built on: a reference-counted shared
// message that many subscribers can hold a handle to without each one
// copying the payload.
package media

import (
	"sync/atomic"

	"github.com/rtmpcore/rtmp-core/internal/rtmp/chunk"
)

// Shared is a reference-counted wrapper around one RTMP message's
// payload. The payload bytes are only ever freed when the last
// handle drops its reference; every other field (timestamp, type,
// stream id) is value-copied per handle so one subscriber pausing or
// rewriting its own view never disturbs another's.
type Shared struct {
	refs    atomic.Int32
	payload []byte
}

// Handle is what a subscriber actually holds: its own header view
// plus a pointer to the shared, refcounted payload underneath.
type Handle struct {
	ChunkStreamID uint32
	TypeID        byte
	StreamID      uint32
	Timestamp     uint32

	shared *Shared
}

// Create builds a new Shared message by taking ownership of msg's
// payload slice — the caller must not touch msg.Payload again — and
// returns the first handle to it, with a reference count of one.
func Create(msg *chunk.Message) *Handle {
	s := &Shared{payload: msg.Payload}
	s.refs.Store(1)
	return &Handle{
		ChunkStreamID: msg.ChunkStreamID,
		TypeID:        msg.TypeID,
		StreamID:      msg.StreamID,
		Timestamp:     msg.Timestamp,
		shared:        s,
	}
}

// Copy returns a new handle to the same underlying payload,
// incrementing the refcount. The new handle's header fields are an
// independent copy of h's, so the caller is free to retarget
// ChunkStreamID/StreamID/Timestamp for a specific subscriber (e.g.
// rewriting the timestamp relative to that subscriber's clock)
// without affecting any other handle.
func (h *Handle) Copy() *Handle {
	h.shared.refs.Add(1)
	return &Handle{
		ChunkStreamID: h.ChunkStreamID,
		TypeID:        h.TypeID,
		StreamID:      h.StreamID,
		Timestamp:     h.Timestamp,
		shared:        h.shared,
	}
}

// Payload returns the shared, read-only payload bytes. A caller must
// not mutate them; two handles may observe the same backing array.
func (h *Handle) Payload() []byte {
	return h.shared.payload
}

// Release drops this handle's reference. Once the last handle to a
// Shared releases, its payload becomes eligible for garbage
// collection; there is no separate pooled-buffer reuse here, since Go
// already reclaims it without a manual free.
func (h *Handle) Release() {
	if h.shared.refs.Add(-1) == 0 {
		h.shared.payload = nil
	}
}

// RefCount reports the current number of live handles, exposed for
// tests and diagnostics.
func (h *Handle) RefCount() int32 {
	return h.shared.refs.Load()
}

// Message reconstructs a chunk.Message view of this handle, for
// passing to the message layer's SendMessage.
func (h *Handle) Message() *chunk.Message {
	return &chunk.Message{
		ChunkStreamID: h.ChunkStreamID,
		TypeID:        h.TypeID,
		StreamID:      h.StreamID,
		Timestamp:     h.Timestamp,
		Payload:       h.shared.payload,
	}
}
