package sched

import (
	"testing"
	"time"

	"github.com/rtmpcore/rtmp-core/internal/rtmperr"
)

func TestInterruptStopsSubsequentSuspensions(t *testing.T) {
	done := make(chan error, 1)
	started := make(chan struct{})

	task := Spawn(0, 0, func(self *Task) error {
		close(started)
		// First sleep should succeed normally once woken by the timer.
		if err := Sleep(self, time.Millisecond); err != nil {
			done <- err
			return err
		}
		// Give the test goroutine a chance to interrupt us, then try
		// one more suspension point; it must report INTERRUPTED.
		for !self.Interrupted() {
			Yield()
		}
		err := Sleep(self, time.Second)
		done <- err
		return err
	})

	<-started
	<-time.After(5 * time.Millisecond)
	Interrupt(task)

	select {
	case err := <-done:
		if !rtmperr.Is(err, rtmperr.KindInterrupted) {
			t.Fatalf("expected INTERRUPTED, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task never observed interrupt")
	}
}

func TestJoinWaitsForCompletion(t *testing.T) {
	result := make(chan int, 1)
	worker := Spawn(0, 0, func(self *Task) error {
		result <- 42
		return nil
	})

	caller := Spawn(0, 0, func(self *Task) error {
		return Join(self, worker)
	})

	select {
	case <-caller.doneCh:
	case <-time.After(time.Second):
		t.Fatal("join never completed")
	}
	if v := <-result; v != 42 {
		t.Fatalf("unexpected result %d", v)
	}
}

func TestCondSignalWakesWaiter(t *testing.T) {
	cond := NewCond()
	woke := make(chan struct{})

	waiter := Spawn(0, 0, func(self *Task) error {
		err := cond.Wait(self)
		if err == nil {
			close(woke)
		}
		return err
	})
	_ = waiter

	// Give the waiter a moment to actually block in Wait before we
	// signal, otherwise the signal could race ahead of it.
	time.Sleep(5 * time.Millisecond)
	cond.Signal()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("signal never woke waiter")
	}
}

func TestCondTimedWaitTimesOut(t *testing.T) {
	cond := NewCond()
	caller := Spawn(0, 0, func(self *Task) error {
		return cond.TimedWait(self, 5*time.Millisecond)
	})

	select {
	case <-caller.doneCh:
		if !rtmperr.Is(caller.err, rtmperr.KindTimeout) {
			t.Fatalf("expected TIMEOUT, got %v", caller.err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed wait never returned")
	}
}

func TestMutexExcludesConcurrentEntry(t *testing.T) {
	mu := NewMutex()
	order := make(chan int, 2)

	t1 := Spawn(0, 0, func(self *Task) error {
		if err := mu.Enter(self); err != nil {
			return err
		}
		defer mu.Leave()
		order <- 1
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	time.Sleep(time.Millisecond)
	t2 := Spawn(0, 0, func(self *Task) error {
		if err := mu.Enter(self); err != nil {
			return err
		}
		defer mu.Leave()
		order <- 2
		return nil
	})

	<-t1.doneCh
	<-t2.doneCh
	if first := <-order; first != 1 {
		t.Fatalf("expected task 1 to enter first, got %d", first)
	}
}
