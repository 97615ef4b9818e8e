package sched

import (
	"sync"
	"time"

	"github.com/rtmpcore/rtmp-core/internal/rtmperr"
)

// Cond is a condition variable usable from task handlers: Wait and
// TimedWait are suspension points that check the calling task's
// interrupt flag the same way the I/O helpers do. Signal and Broadcast
// are both implemented as a channel close (closing a channel wakes
// every current waiter at once), so there is no single-wake variant -
// this matches the runtime's documented primitives, which only ever
// describe "signal" and "broadcast" as distinct wakeup counts in
// implementations with OS-level wait queues; here both release every
// waiter and let them race to re-check their own predicate.
type Cond struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewCond creates a ready-to-use condition variable.
func NewCond() *Cond {
	return &Cond{ch: make(chan struct{})}
}

// Signal wakes every task currently blocked in Wait/TimedWait.
func (c *Cond) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.ch)
	c.ch = make(chan struct{})
}

// Broadcast is an alias for Signal; see the type doc comment.
func (c *Cond) Broadcast() {
	c.Signal()
}

// Wait suspends the calling task until the next Signal/Broadcast, or
// returns INTERRUPTED if the task is interrupted first.
func (c *Cond) Wait(t *Task) error {
	if err := t.checkInterrupt(); err != nil {
		return err
	}
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-t.interruptCh:
		return rtmperr.Interrupted
	}
}

// TimedWait is Wait with a deadline: it additionally returns TIMEOUT
// if d elapses before a signal arrives.
func (c *Cond) TimedWait(t *Task, d time.Duration) error {
	if err := t.checkInterrupt(); err != nil {
		return err
	}
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return rtmperr.Timeout
	case <-t.interruptCh:
		return rtmperr.Interrupted
	}
}

// Mutex is a cooperative, interruptible mutual-exclusion lock. Unlike
// sync.Mutex, Enter is a suspension point that a blocked task can be
// woken out of early via Interrupt.
type Mutex struct {
	slot chan struct{}
}

// NewMutex creates an unlocked Mutex.
func NewMutex() *Mutex {
	m := &Mutex{slot: make(chan struct{}, 1)}
	m.slot <- struct{}{}
	return m
}

// Enter acquires the lock, suspending the calling task if it is held.
func (m *Mutex) Enter(t *Task) error {
	if err := t.checkInterrupt(); err != nil {
		return err
	}
	select {
	case <-m.slot:
		return nil
	case <-t.interruptCh:
		return rtmperr.Interrupted
	}
}

// Leave releases the lock. Leave on an already-unlocked Mutex is a
// silent no-op rather than a panic, since the zombie-sweep style
// re-entrant disposal paths this guards may race a Leave against a
// concurrent timeout-triggered abandonment.
func (m *Mutex) Leave() {
	select {
	case m.slot <- struct{}{}:
	default:
	}
}
