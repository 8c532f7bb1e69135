package transport

import (
	"context"
	"sync"
	"time"

	"github.com/Chirraag/talkmybio-fv3/internal/protocol"
)

// MockDialer is a scripted local provider used when no real calling provider
// is configured. It confirms the call shortly after dialing, alternates agent
// talk activity, and ends the call after a fixed duration or on hangup.
type MockDialer struct {
	StartDelay   time.Duration
	CallDuration time.Duration
	TalkPeriod   time.Duration
}

func NewMockDialer() *MockDialer {
	return &MockDialer{
		StartDelay:   300 * time.Millisecond,
		CallDuration: 2 * time.Minute,
		TalkPeriod:   4 * time.Second,
	}
}

func (d *MockDialer) Dial(_ context.Context, _ CallRequest) (Call, error) {
	c := &mockCall{
		events: make(chan protocol.TransportEvent, 64),
		hangup: make(chan struct{}),
	}
	go c.run(d.StartDelay, d.CallDuration, d.TalkPeriod)
	return c, nil
}

type mockCall struct {
	events     chan protocol.TransportEvent
	hangup     chan struct{}
	hangupOnce sync.Once
	closeOnce  sync.Once
}

func (c *mockCall) Events() <-chan protocol.TransportEvent { return c.events }

func (c *mockCall) Hangup(_ context.Context) error {
	c.hangupOnce.Do(func() { close(c.hangup) })
	return nil
}

func (c *mockCall) Close() error {
	c.hangupOnce.Do(func() { close(c.hangup) })
	return nil
}

func (c *mockCall) run(startDelay, duration, talkPeriod time.Duration) {
	defer close(c.events)

	select {
	case <-c.hangup:
		return
	case <-time.After(startDelay):
	}
	c.events <- protocol.TransportEvent{Type: protocol.TransportCallStarted, CallID: "mock-call"}

	deadline := time.NewTimer(duration)
	defer deadline.Stop()
	talk := time.NewTicker(talkPeriod)
	defer talk.Stop()

	talking := false
	for {
		select {
		case <-c.hangup:
			c.events <- protocol.TransportEvent{Type: protocol.TransportCallEnded, CallID: "mock-call"}
			return
		case <-deadline.C:
			c.events <- protocol.TransportEvent{Type: protocol.TransportCallEnded, CallID: "mock-call"}
			return
		case <-talk.C:
			talking = !talking
			evType := protocol.TransportAgentStopTalking
			if talking {
				evType = protocol.TransportAgentStartTalking
			}
			c.events <- protocol.TransportEvent{Type: evType, CallID: "mock-call"}
		}
	}
}
