package transport

import (
	"context"
	"testing"
	"time"

	"github.com/Chirraag/talkmybio-fv3/internal/protocol"
)

func TestMockDialerLifecycle(t *testing.T) {
	d := &MockDialer{
		StartDelay:   10 * time.Millisecond,
		CallDuration: 5 * time.Second,
		TalkPeriod:   20 * time.Millisecond,
	}

	call, err := d.Dial(context.Background(), CallRequest{StoryID: "s1", SessionID: "x1"})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	waitEvent := func(want protocol.TransportEventType) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case ev, ok := <-call.Events():
				if !ok {
					t.Fatalf("events closed while waiting for %s", want)
				}
				if ev.Type == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %s", want)
			}
		}
	}

	waitEvent(protocol.TransportCallStarted)
	waitEvent(protocol.TransportAgentStartTalking)

	if err := call.Hangup(context.Background()); err != nil {
		t.Fatalf("Hangup() error = %v", err)
	}
	waitEvent(protocol.TransportCallEnded)

	if err := call.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
