// Package sched is the task runtime every connection, timer and
// background job in the core runs on. A Task owns a goroutine (Go
// already gives every goroutine a growable stack, so that part of the
// classical stackful-coroutine design is free), a correlation id, a
// join condition and a sticky interrupt flag. Suspension points -
// Sleep, Cond.Wait, Join, the descriptor I/O helpers in io.go - are
// where a task observes its interrupt flag or is woken by another
// task. There is no run token: tasks are ordinary goroutines that run
// in parallel with one another, so state shared between tasks is
// guarded by its own locks (internal/resource's mutex, a session's
// publishMu and writeMu).
package sched

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rtmpcore/rtmp-core/internal/rtmperr"
)

// Status mirrors the terminal states a Task moves through.
type Status int32

const (
	StatusPending Status = iota
	StatusRunning
	StatusStopped
	StatusDisposed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	case StatusDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Task is the handle returned by Spawn. Handlers receive it so they can
// check Interrupted() at their own suspension points and pass it down
// to the I/O helpers in io.go.
type Task struct {
	id   uint64
	name string

	status atomic.Int32

	interruptOnce sync.Once
	interrupted   atomic.Bool
	interruptCh   chan struct{}

	doneCh chan struct{}
	err    error

	userData atomic.Value
}

var taskSeq atomic.Uint64

// servedCount and activeCount back Stats(), the process-supervision
// counter dump: servedCount is every task ever spawned, activeCount is
// how many are currently running.
var (
	servedCount atomic.Uint64
	activeCount atomic.Int64
)

// Stats reports the lifetime spawned-task count and the number
// currently running, the raw numbers the HTTP metrics endpoint and a
// SIGUSR1 dump hook format for an operator.
func Stats() (served uint64, active int64) {
	return servedCount.Load(), activeCount.Load()
}

// Spawn creates and starts a task running handler on its own goroutine.
// cid is the caller-chosen correlation id (e.g. a connection id); pass
// 0 to have one assigned. stackSize is accepted for interface fidelity
// with the spec's fixed-stack-at-creation model but is otherwise
// unused: Go grows goroutine stacks on demand, so there is no fixed
// arena to size here.
func Spawn(cid uint64, stackSize int, handler func(*Task) error) *Task {
	if cid == 0 {
		cid = taskSeq.Add(1)
	}
	t := &Task{
		id:          cid,
		interruptCh: make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	t.status.Store(int32(StatusPending))

	servedCount.Add(1)
	activeCount.Add(1)

	go func() {
		t.status.Store(int32(StatusRunning))
		err := handler(t)
		t.err = err
		t.status.Store(int32(StatusStopped))
		activeCount.Add(-1)
		close(t.doneCh)
	}()

	return t
}

// ID returns the task's correlation id.
func (t *Task) ID() uint64 { return t.id }

// Status returns the task's current terminal-status value.
func (t *Task) Status() Status { return Status(t.status.Load()) }

// SetUserData stores an opaque per-task pointer, mirroring the
// Descriptor Handle's optional user pointer field for tasks that need
// one (e.g. a connection object keyed by task id).
func (t *Task) SetUserData(v any) { t.userData.Store(v) }

// UserData retrieves the value set by SetUserData, or nil.
func (t *Task) UserData() any { return t.userData.Load() }

// Interrupt sets the sticky interrupt flag. It does not unwind the
// task's stack; the handler observes INTERRUPTED the next time it
// reaches a suspension point, and is expected to propagate that as a
// failure up to task exit.
func Interrupt(t *Task) {
	t.interruptOnce.Do(func() {
		t.interrupted.Store(true)
		close(t.interruptCh)
	})
}

// Interrupted reports whether Interrupt has been called on this task.
func (t *Task) Interrupted() bool {
	return t.interrupted.Load()
}

// checkInterrupt is the fast-path guard every suspension point calls
// before doing any work, so an already-interrupted task never
// re-enters a blocking wait.
func (t *Task) checkInterrupt() error {
	if t.interrupted.Load() {
		return rtmperr.Interrupted
	}
	return nil
}

// Join blocks the calling task until target finishes, returning
// target's handler error. If caller is interrupted while waiting, Join
// returns INTERRUPTED instead.
func Join(caller *Task, target *Task) error {
	if err := caller.checkInterrupt(); err != nil {
		return err
	}
	select {
	case <-target.doneCh:
		return target.err
	case <-caller.interruptCh:
		return rtmperr.Interrupted
	}
}

// Yield voluntarily reschedules the calling task behind every other
// currently-runnable goroutine. It never returns an error: a yield
// cannot time out and, per spec, cancellation is only observed at a
// suspension point that can fail - Yield is the one suspension point
// that always succeeds.
func Yield() {
	runtime.Gosched()
}
