package main

import (
	"github.com/rtmpcore/rtmp-core/internal/rtmp/handshake"
	"github.com/rtmpcore/rtmp-core/internal/sched"
)

// serverHandshake performs the RTMP C0/C1/C2 <-> S0/S1/S2 exchange on a
// freshly accepted connection, before any message framing exists.
// handshake.Respond is a pure byte-transform; the socket I/O around it
// lives here, driven through the scheduler the same way every later
// read/write on this connection is. C2 is read to complete the
// exchange but not checked (handshake.VerifyC2 is not called).
func serverHandshake(t *sched.Task, d *sched.Descriptor) error {
	c0c1 := make([]byte, 1+handshake.SigSize)
	if _, err := sched.ReadFully(t, d, c0c1, sched.NoDeadline); err != nil {
		return err
	}
	c1 := c0c1[1:]

	resp, err := handshake.Respond(c1)
	if err != nil {
		return err
	}
	if _, err := sched.WriteFully(t, d, resp, sched.NoDeadline); err != nil {
		return err
	}

	c2 := make([]byte, handshake.SigSize)
	if _, err := sched.ReadFully(t, d, c2, sched.NoDeadline); err != nil {
		return err
	}

	return nil
}
