// Package resource implements the generic registry the RTMP core uses
// for every live collection it needs to track and fan callbacks across
// concurrently: connected sessions, channel publishers, and a
// channel's subscribed players. It generalizes the session/channel
// maps the reference server keeps directly on its server struct into
// one reusable, concurrency-safe component.
package resource

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rtmpcore/rtmp-core/internal/rtmperr"
	"github.com/rtmpcore/rtmp-core/internal/sched"
)

// Record is anything the manager can track. Disposal is the record's
// own responsibility; the manager only decides when to call it.
type Record interface {
	Dispose()
}

// Manager is a concurrency-safe collection of Records, addressable by
// numeric id, by name, and (for the hot path) by a fast pre-hashed
// key. Removal does not dispose a record synchronously: it is queued
// on a zombie list and disposed by the sweep loop, so a callback
// iterating the manager's subscriber list never has a record vanish
// under it mid-callback.
type Manager struct {
	mu sync.Mutex

	byID   map[uint64]Record
	byName map[string]Record

	fastSlots []fastSlot

	subscribers map[uint64]func(Record, bool)
	subSeq      uint64

	zombies []Record
}

type fastSlot struct {
	occupied bool
	key      uint64
	record   Record
}

const fastTableSize = 1024

// New creates an empty manager.
func New() *Manager {
	return &Manager{
		byID:        make(map[uint64]Record),
		byName:      make(map[string]Record),
		fastSlots:   make([]fastSlot, fastTableSize),
		subscribers: make(map[uint64]func(Record, bool)),
	}
}

// Add registers r under id with no name and no fast-id shortcut.
func (m *Manager) Add(id uint64, r Record) {
	m.AddWithName(id, "", r)
}

// AddWithName registers r under id and, if name is non-empty, also
// indexes it for FindByName.
func (m *Manager) AddWithName(id uint64, name string, r Record) {
	m.mu.Lock()
	m.byID[id] = r
	if name != "" {
		m.byName[name] = r
	}
	m.mu.Unlock()
	m.notify(r, true)
}

// AddWithFastID additionally populates the direct-mapped fast-id
// cache for key, so later FindByFastID calls skip the map lookup
// entirely on the common case. A colliding key simply falls back to
// the regular id map; it never evicts another record's fast slot.
func (m *Manager) AddWithFastID(id uint64, name string, key uint64, r Record) {
	m.mu.Lock()
	m.byID[id] = r
	if name != "" {
		m.byName[name] = r
	}
	slot := &m.fastSlots[key%fastTableSize]
	if !slot.occupied {
		slot.occupied = true
		slot.key = key
		slot.record = r
	}
	m.mu.Unlock()
	m.notify(r, true)
}

// FastKey hashes name into the key space AddWithFastID/FindByFastID
// use, so callers never hand-roll their own hash.
func FastKey(name string) uint64 {
	return xxhash.Sum64String(name)
}

// FindByID returns the record registered under id, or nil.
func (m *Manager) FindByID(id uint64) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

// FindByName returns the record registered under name, or nil.
func (m *Manager) FindByName(name string) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byName[name]
}

// FindByFastID checks the direct-mapped cache first and falls back to
// nothing if the slot is empty or occupied by a different key; a
// caller that needs certainty should keep the id around and use
// FindByID instead.
func (m *Manager) FindByFastID(key uint64) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := &m.fastSlots[key%fastTableSize]
	if slot.occupied && slot.key == key {
		return slot.record
	}
	return nil
}

// At returns a snapshot of every currently registered record, safe
// for a caller to range over without holding the manager's lock.
func (m *Manager) At() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.byID))
	for _, r := range m.byID {
		out = append(out, r)
	}
	return out
}

// Remove unregisters id (and name/fast key, if given) and queues the
// record for asynchronous disposal instead of calling Dispose inline,
// so a remove triggered from inside a subscriber callback never
// disposes a record while that very callback loop is still iterating.
func (m *Manager) Remove(id uint64, name string, fastKey uint64, hasFastKey bool) {
	m.mu.Lock()
	r, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byID, id)
	if name != "" {
		delete(m.byName, name)
	}
	if hasFastKey {
		slot := &m.fastSlots[fastKey%fastTableSize]
		if slot.occupied && slot.key == fastKey {
			*slot = fastSlot{}
		}
	}
	m.zombies = append(m.zombies, r)
	m.mu.Unlock()

	m.notify(r, false)
}

// Subscribe registers fn to be called whenever a record is added or
// removed, returning a token to pass to Unsubscribe. fn is called
// with added=true on Add* and added=false on Remove.
func (m *Manager) Subscribe(fn func(r Record, added bool)) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subSeq++
	token := m.subSeq
	m.subscribers[token] = fn
	return token
}

// Unsubscribe removes a subscriber. It is safe to call from inside a
// subscriber callback, including the subscriber's own callback
// unsubscribing itself; pending notifications already in flight for
// other subscribers on the same event still complete because notify
// takes its own snapshot of the subscriber list before calling out.
func (m *Manager) Unsubscribe(token uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, token)
}

func (m *Manager) notify(r Record, added bool) {
	m.mu.Lock()
	snapshot := make([]func(Record, bool), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		snapshot = append(snapshot, fn)
	}
	m.mu.Unlock()

	for _, fn := range snapshot {
		fn(r, added)
	}
}

// Sweep disposes every zombie queued since the last sweep. It is
// meant to be called periodically from a scheduler task (see
// RunSweepLoop); disposal happens outside the manager's lock so a
// record's Dispose can itself call back into the manager.
func (m *Manager) Sweep() {
	m.mu.Lock()
	pending := m.zombies
	m.zombies = nil
	m.mu.Unlock()

	for _, r := range pending {
		r.Dispose()
	}
}

// RunSweepLoop runs Sweep on the given task every interval until the
// task is interrupted, the idiomatic way a session or server wires a
// manager's disposal into the cooperative scheduler.
func RunSweepLoop(t *sched.Task, m *Manager, interval time.Duration) error {
	for {
		m.Sweep()
		if err := sched.Sleep(t, interval); err != nil {
			m.Sweep()
			if rtmperr.Is(err, rtmperr.KindInterrupted) {
				return nil
			}
			return err
		}
	}
}
