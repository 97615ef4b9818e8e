package sched

import (
	"net"
	"sync/atomic"
	"time"
)

// Descriptor wraps a non-blocking OS socket/pipe/file so every
// suspension-aware read/write in io.go shares the same deadline and
// byte-counter bookkeeping. It is owned exclusively by whatever
// task/component holds it; closing it yields the fd back to the OS.
type Descriptor struct {
	conn net.Conn

	recvDeadline atomic.Value // time.Time
	sendDeadline atomic.Value // time.Time

	recvBytes atomic.Uint64
	sendBytes atomic.Uint64

	userData atomic.Value

	serializeAccept bool
}

// NewDescriptor wraps an already-connected/accepted net.Conn.
func NewDescriptor(conn net.Conn) *Descriptor {
	d := &Descriptor{conn: conn}
	d.recvDeadline.Store(time.Time{})
	d.sendDeadline.Store(time.Time{})
	return d
}

// Conn exposes the underlying net.Conn for callers (e.g. TLS upgrade)
// that need it directly.
func (d *Descriptor) Conn() net.Conn { return d.conn }

// SetRecvDeadline / SetSendDeadline set the deadline future Read/Write
// calls on this descriptor use when the caller passes sched.NoDeadline.
func (d *Descriptor) SetRecvDeadline(t time.Time) { d.recvDeadline.Store(t) }
func (d *Descriptor) SetSendDeadline(t time.Time) { d.sendDeadline.Store(t) }

func (d *Descriptor) recvDeadlineOrDefault(override time.Time) time.Time {
	if !override.IsZero() {
		return override
	}
	return d.recvDeadline.Load().(time.Time)
}

func (d *Descriptor) sendDeadlineOrDefault(override time.Time) time.Time {
	if !override.IsZero() {
		return override
	}
	return d.sendDeadline.Load().(time.Time)
}

// RecvBytes / SendBytes return the cumulative byte counters.
func (d *Descriptor) RecvBytes() uint64 { return d.recvBytes.Load() }
func (d *Descriptor) SendBytes() uint64 { return d.sendBytes.Load() }

// SetUserData / UserData store an opaque per-descriptor pointer, e.g. a
// *resource.Record the owning connection is registered under.
func (d *Descriptor) SetUserData(v any) { d.userData.Store(v) }
func (d *Descriptor) UserData() any     { return d.userData.Load() }

// EnableSerializeAccept marks this descriptor (expected to wrap a
// net.Listener-backed connection is never the case; this flag only has
// meaning on listener descriptors created via NewListenerDescriptor)
// for accept serialization.
func (d *Descriptor) EnableSerializeAccept() { d.serializeAccept = true }

// Close closes the underlying connection, which the runtime treats as
// yielding the fd back to the OS once any suspended waiter on it has
// been woken by the resulting I/O error.
func (d *Descriptor) Close() error {
	return d.conn.Close()
}

// NoDeadline is the zero time.Time, meaning "use the descriptor's
// configured deadline, or block forever if none is set."
var NoDeadline = time.Time{}

// ListenerDescriptor wraps a net.Listener for Accept.
type ListenerDescriptor struct {
	listener        net.Listener
	serializeAccept bool
}

// NewListenerDescriptor wraps l for use with Accept.
func NewListenerDescriptor(l net.Listener) *ListenerDescriptor {
	return &ListenerDescriptor{listener: l}
}

// EnableSerializeAccept installs the process-wide accept lock for this
// listener (see SerializeAccept in scheduler.go).
func (l *ListenerDescriptor) EnableSerializeAccept() {
	l.serializeAccept = true
	SerializeAccept(l.listener)
}

// Close closes the listener and drops its accept-lock bookkeeping.
func (l *ListenerDescriptor) Close() error {
	forgetListener(l.listener)
	return l.listener.Close()
}
