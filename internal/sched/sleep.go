package sched

import (
	"time"

	"github.com/rtmpcore/rtmp-core/internal/rtmperr"
)

// Sleep suspends the calling task until d elapses, or returns
// INTERRUPTED immediately if it is cancelled first. A zero or negative
// duration returns immediately without suspending.
func Sleep(t *Task, d time.Duration) error {
	if err := t.checkInterrupt(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-t.interruptCh:
		return rtmperr.Interrupted
	}
}
