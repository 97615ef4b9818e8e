package control

import "testing"

func TestNewWithoutBaseURLRunsStandAlone(t *testing.T) {
	c, err := New("", nil, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Enabled() {
		t.Fatal("expected stand-alone connection to report disabled")
	}

	accepted, streamID := c.RequestPublish("mychannel", "key", "127.0.0.1")
	if !accepted {
		t.Fatal("expected stand-alone publish requests to be auto-accepted")
	}
	if streamID != "" {
		t.Fatalf("expected empty stream id from stand-alone accept, got %q", streamID)
	}
}

func TestDispatchCommandKillSession(t *testing.T) {
	var gotChannel string
	killSession := func(channel string) { gotChannel = channel }

	dispatchCommand("kill-session>mychannel", killSession, nil)

	if gotChannel != "mychannel" {
		t.Fatalf("expected kill-session to fire with channel %q, got %q", "mychannel", gotChannel)
	}
}

func TestDispatchCommandCloseStream(t *testing.T) {
	var gotChannel, gotStreamID string
	closeStream := func(channel, streamID string) {
		gotChannel = channel
		gotStreamID = streamID
	}

	dispatchCommand("close-stream>mychannel|abc123", nil, closeStream)

	if gotChannel != "mychannel" || gotStreamID != "abc123" {
		t.Fatalf("expected close-stream(mychannel, abc123), got (%q, %q)", gotChannel, gotStreamID)
	}
}

func TestDispatchCommandInvalidDoesNotPanic(t *testing.T) {
	dispatchCommand("garbage-with-no-separator", nil, nil)
}

func TestDispatchCommandUnknownIsIgnored(t *testing.T) {
	dispatchCommand("unknown-command>a|b", nil, nil)
}
