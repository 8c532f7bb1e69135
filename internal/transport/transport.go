// Package transport is the boundary to the external calling SDK. The provider
// event contract (call_started, call_ended, agent talk activity, error) is
// consumed as typed messages; it is not reimplemented here.
package transport

import (
	"context"

	"github.com/Chirraag/talkmybio-fv3/internal/protocol"
)

// CallRequest describes the call to establish with the automated interviewer.
type CallRequest struct {
	StoryID   string
	SessionID string
	AgentID   string
}

// Call is a live call handle. Events delivers transport events until the call
// ends or fails; the channel closes when the provider connection is gone.
type Call interface {
	Events() <-chan protocol.TransportEvent
	// Hangup asks the provider to end the call from our side.
	Hangup(ctx context.Context) error
	// Close abandons the call and frees the connection. Safe to call twice.
	Close() error
}

// Dialer establishes calls against a calling provider.
type Dialer interface {
	Dial(ctx context.Context, req CallRequest) (Call, error)
}
