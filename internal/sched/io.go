package sched

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/rtmpcore/rtmp-core/internal/rtmperr"
)

// classify turns a net.Conn/net.PacketConn error into the taxonomy the
// rest of the core expects: TIMEOUT for deadline expiry, EOF for a
// graceful close, SOCKET_IO for anything else.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return rtmperr.Wrap(rtmperr.KindTimeout, "deadline exceeded", err)
	}
	if errors.Is(err, io.EOF) {
		return rtmperr.Wrap(rtmperr.KindEOF, "peer closed", err)
	}
	return rtmperr.Wrap(rtmperr.KindSocketIO, "i/o failed", err)
}

// raceIO runs a blocking operation on its own goroutine and races it
// against the calling task's interrupt channel, which is how this
// runtime gives Interrupt() the ability to cut short an in-flight
// syscall instead of only taking effect at the next suspension point
// that hasn't started yet. Forcing the deadline to "now" nudges the
// underlying conn to unblock promptly; op's goroutine is always
// drained before raceIO returns so it never leaks past the call.
func raceIO(t *Task, setDeadline func(time.Time) error, op func() (int, error)) (int, error) {
	if err := t.checkInterrupt(); err != nil {
		return 0, err
	}

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := op()
		ch <- result{n, err}
	}()

	select {
	case r := <-ch:
		return r.n, classify(r.err)
	case <-t.interruptCh:
		setDeadline(time.Now())
		r := <-ch
		if r.err == nil {
			return r.n, nil
		}
		return r.n, rtmperr.Interrupted
	}
}

// Read attempts a single recv; if it would block it suspends the
// calling task until the descriptor is readable or deadline fires.
func Read(t *Task, d *Descriptor, buf []byte, deadline time.Time) (int, error) {
	d.conn.SetReadDeadline(d.recvDeadlineOrDefault(deadline))
	n, err := raceIO(t, d.conn.SetReadDeadline, func() (int, error) {
		return d.conn.Read(buf)
	})
	if n > 0 {
		d.recvBytes.Add(uint64(n))
	}
	return n, err
}

// Write attempts a single send; suspends on would-block the same way
// Read does.
func Write(t *Task, d *Descriptor, buf []byte, deadline time.Time) (int, error) {
	d.conn.SetWriteDeadline(d.sendDeadlineOrDefault(deadline))
	n, err := raceIO(t, d.conn.SetWriteDeadline, func() (int, error) {
		return d.conn.Write(buf)
	})
	if n > 0 {
		d.sendBytes.Add(uint64(n))
	}
	return n, err
}

// ReadFully loops Read until buf is completely filled or the deadline
// fires, matching the runtime contract's read_fully helper.
func ReadFully(t *Task, d *Descriptor, buf []byte, deadline time.Time) (int, error) {
	d.SetRecvDeadline(deadline)
	total := 0
	for total < len(buf) {
		n, err := Read(t, d, buf[total:], NoDeadline)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, rtmperr.Wrap(rtmperr.KindEOF, "short read", io.ErrUnexpectedEOF)
		}
	}
	return total, nil
}

// WriteFully loops Write until buf is completely sent or the deadline
// fires.
func WriteFully(t *Task, d *Descriptor, buf []byte, deadline time.Time) (int, error) {
	d.SetSendDeadline(deadline)
	total := 0
	for total < len(buf) {
		n, err := Write(t, d, buf[total:], NoDeadline)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Readv fills each buffer in order, suspending between them as needed;
// Go's net.Conn has no vectored read, so this is the cooperative
// emulation of readv the spec calls for.
func Readv(t *Task, d *Descriptor, bufs [][]byte, deadline time.Time) (int, error) {
	d.SetRecvDeadline(deadline)
	total := 0
	for _, b := range bufs {
		n, err := ReadFully(t, d, b, NoDeadline)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Writev batches buffers into a single vectored syscall via
// net.Buffers where the underlying conn supports it (plain TCP does),
// falling back transparently to sequential writes otherwise.
func Writev(t *Task, d *Descriptor, bufs net.Buffers, deadline time.Time) (int64, error) {
	d.conn.SetWriteDeadline(d.sendDeadlineOrDefault(deadline))
	n64, err := func() (int64, error) {
		raw, err := raceIO(t, d.conn.SetWriteDeadline, func() (int, error) {
			n, err := bufs.WriteTo(d.conn)
			return int(n), err
		})
		return int64(raw), err
	}()
	if n64 > 0 {
		d.sendBytes.Add(uint64(n64))
	}
	return n64, err
}

// Accept waits for a connection on the listener, suspending the
// calling task until one arrives or the deadline fires. If the
// listener has accept-serialization enabled, only one task across the
// process may be inside Accept for it at a time.
func Accept(t *Task, l *ListenerDescriptor, deadline time.Time) (*Descriptor, error) {
	if l.serializeAccept {
		lock := acceptLockFor(l.listener)
		if lock != nil {
			lock.Lock()
			defer lock.Unlock()
		}
	}

	if tl, ok := l.listener.(interface {
		SetDeadline(time.Time) error
	}); ok {
		tl.SetDeadline(deadline)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.listener.Accept()
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, classify(r.err)
		}
		return NewDescriptor(r.conn), nil
	case <-t.interruptCh:
		if tl, ok := l.listener.(interface {
			SetDeadline(time.Time) error
		}); ok {
			tl.SetDeadline(time.Now())
		}
		r := <-ch
		if r.err == nil {
			r.conn.Close()
		}
		return nil, rtmperr.Interrupted
	}
}

// SendTo and RecvFrom support datagram descriptors (e.g. a UDP-based
// transport some caller layers over the scheduler); they follow the
// same suspend-on-would-block contract as Read/Write.
func SendTo(t *Task, pc net.PacketConn, buf []byte, addr net.Addr, deadline time.Time) (int, error) {
	pc.SetWriteDeadline(deadline)
	n, err := raceIO(t, pc.SetWriteDeadline, func() (int, error) {
		return pc.WriteTo(buf, addr)
	})
	return n, err
}

func RecvFrom(t *Task, pc net.PacketConn, buf []byte, deadline time.Time) (int, net.Addr, error) {
	pc.SetReadDeadline(deadline)
	type result struct {
		n    int
		addr net.Addr
		err  error
	}
	if err := t.checkInterrupt(); err != nil {
		return 0, nil, err
	}
	ch := make(chan result, 1)
	go func() {
		n, addr, err := pc.ReadFrom(buf)
		ch <- result{n, addr, err}
	}()
	select {
	case r := <-ch:
		return r.n, r.addr, classify(r.err)
	case <-t.interruptCh:
		pc.SetReadDeadline(time.Now())
		r := <-ch
		return r.n, r.addr, rtmperr.Interrupted
	}
}
