package media

import "container/list"

// GOPCache holds shared-message handles for the frames since the last
// keyframe, replayed to a player joining mid-stream so it doesn't have
// to wait for the next keyframe to render anything. It mirrors the
// reference server's container/list-based cache, generalized to hold
// Handles instead of raw packets so entries participate in the same
// refcounting as the live fan-out path.
type GOPCache struct {
	entries *list.List
	size    int64
	limit   int64
	enabled bool
}

// NewGOPCache creates a cache bounded at limit bytes (base overhead
// included per entry, matching the per-packet accounting the
// reference server uses so the limit reflects real memory pressure,
// not just payload size).
func NewGOPCache(limit int64) *GOPCache {
	return &GOPCache{
		entries: list.New(),
		limit:   limit,
		enabled: true,
	}
}

// packetBaseOverhead approximates the fixed per-message bookkeeping
// cost (headers, list node) the reference server's RTMP_PACKET_BASE_SIZE
// constant accounted for.
const packetBaseOverhead = 65

// SetEnabled turns caching on or off. Turning it off does not drop
// frames already cached; Clear does that.
func (g *GOPCache) SetEnabled(enabled bool) { g.enabled = enabled }

// Enabled reports whether new frames are currently being retained.
func (g *GOPCache) Enabled() bool { return g.enabled }

// Clear drops every retained handle, releasing its reference, and
// resets the accounted size to zero. Called when a new keyframe
// starts a fresh GOP.
func (g *GOPCache) Clear() {
	for e := g.entries.Front(); e != nil; e = e.Next() {
		e.Value.(*Handle).Release()
	}
	g.entries.Init()
	g.size = 0
}

// Push retains an additional reference to h and appends it to the
// cache, evicting from the front until the size limit is respected
// again.
func (g *GOPCache) Push(h *Handle) {
	if !g.enabled {
		return
	}
	retained := h.Copy()
	g.entries.PushBack(retained)
	g.size += int64(len(retained.Payload())) + packetBaseOverhead

	for g.size > g.limit && g.entries.Len() > 0 {
		front := g.entries.Front()
		evicted := front.Value.(*Handle)
		g.size -= int64(len(evicted.Payload())) + packetBaseOverhead
		evicted.Release()
		g.entries.Remove(front)
	}
}

// Each calls fn with every cached handle in retention order, the
// order a newly joined player must replay them in to see a coherent
// GOP.
func (g *GOPCache) Each(fn func(*Handle)) {
	for e := g.entries.Front(); e != nil; e = e.Next() {
		fn(e.Value.(*Handle))
	}
}

// Len reports how many frames are currently cached.
func (g *GOPCache) Len() int { return g.entries.Len() }
