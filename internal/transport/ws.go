package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Chirraag/talkmybio-fv3/internal/protocol"
	"github.com/Chirraag/talkmybio-fv3/internal/reliability"
)

const wsDialAttempts = 3

type WSConfig struct {
	URL    string
	APIKey string
}

// WSDialer talks to a websocket calling provider.
type WSDialer struct {
	cfg WSConfig
}

func NewWSDialer(cfg WSConfig) (*WSDialer, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("ws dialer: url is required")
	}
	return &WSDialer{cfg: cfg}, nil
}

func (d *WSDialer) Dial(ctx context.Context, req CallRequest) (Call, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ws dialer: parse url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", req.AgentID)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if d.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}

	var conn *websocket.Conn
	for attempt := 0; ; attempt++ {
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
		if err == nil {
			break
		}
		if attempt+1 >= wsDialAttempts || ctx.Err() != nil {
			return nil, fmt.Errorf("dial call provider: %w", err)
		}
		backoff := reliability.ExponentialBackoff(attempt, 200*time.Millisecond, 2*time.Second)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	c := &wsCall{
		conn:   conn,
		events: make(chan protocol.TransportEvent, 64),
	}
	if err := c.writeJSON(map[string]any{
		"action":     "register_call",
		"agent_id":   req.AgentID,
		"story_id":   req.StoryID,
		"session_id": req.SessionID,
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("register call: %w", err)
	}
	go c.readLoop()
	return c, nil
}

type wsCall struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan protocol.TransportEvent
}

func (c *wsCall) Events() <-chan protocol.TransportEvent { return c.events }

func (c *wsCall) Hangup(_ context.Context) error {
	return c.writeJSON(map[string]any{"action": "end_call"})
}

func (c *wsCall) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
	return nil
}

func (c *wsCall) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsCall) readLoop() {
	defer func() {
		_ = c.Close()
		close(c.events)
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw struct {
			Event  string `json:"event"`
			CallID string `json:"call_id"`
			Code   string `json:"code"`
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}

		var evType protocol.TransportEventType
		switch raw.Event {
		case "call_started":
			evType = protocol.TransportCallStarted
		case "call_ended":
			evType = protocol.TransportCallEnded
		case "agent_start_talking":
			evType = protocol.TransportAgentStartTalking
		case "agent_stop_talking":
			evType = protocol.TransportAgentStopTalking
		case "error":
			evType = protocol.TransportError
		default:
			// Ignore provider control frames we do not consume.
			continue
		}
		c.events <- protocol.TransportEvent{
			Type:   evType,
			CallID: raw.CallID,
			Code:   raw.Code,
			Detail: raw.Detail,
		}
		if evType == protocol.TransportCallEnded || evType == protocol.TransportError {
			return
		}
	}
}
