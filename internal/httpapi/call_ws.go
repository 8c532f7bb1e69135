package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Chirraag/talkmybio-fv3/internal/call"
	"github.com/Chirraag/talkmybio-fv3/internal/capture"
	"github.com/Chirraag/talkmybio-fv3/internal/protocol"
	"github.com/Chirraag/talkmybio-fv3/internal/session"
)

// wsSource is the browser-backed capture source: the permission prompt runs
// on the client, and the grant/deny outcome arrives as a control message on
// the call websocket.
type wsSource struct {
	sessionID string
	results   chan bool
	outbound  chan<- any

	mu     sync.Mutex
	stream *capture.RemoteStream
}

func newWSSource(sessionID string, outbound chan<- any) *wsSource {
	return &wsSource{
		sessionID: sessionID,
		results:   make(chan bool, 4),
		outbound:  outbound,
	}
}

func (s *wsSource) Acquire(ctx context.Context) (capture.Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case granted := <-s.results:
		if !granted {
			return nil, capture.ErrPermissionDenied
		}
		st := capture.NewRemoteStream(func() {
			select {
			case s.outbound <- protocol.CaptureRelease{
				Type:      protocol.TypeCaptureRelease,
				SessionID: s.sessionID,
			}:
			default:
			}
		})
		s.mu.Lock()
		s.stream = st
		s.mu.Unlock()
		return st, nil
	}
}

func (s *wsSource) deliver(granted bool) {
	select {
	case s.results <- granted:
	default:
	}
}

func (s *wsSource) appendVideo(p []byte) {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st != nil {
		st.Append(p)
	}
}

func (s *Server) handleCallWS(w http.ResponseWriter, r *http.Request) {
	storyID := strings.TrimSpace(r.URL.Query().Get("story_id"))
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if storyID == "" || sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_ids", "query parameters story_id and session_id are required")
		return
	}

	sess, err := s.store.Get(r.Context(), storyID, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)

	source := newWSSource(sessionID, outbound)
	controller := call.NewController(
		call.Config{
			ConnectTimeout:  s.cfg.ConnectTimeout,
			CaptureInterval: s.cfg.CaptureInterval,
			PollInterval:    s.cfg.PollInterval,
			AgentID:         s.cfg.CallAgentID,
		},
		s.store, s.uploader, s.dialer, source, s.logger, s.metrics,
	)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = controller.Run(ctx, sess, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(8 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if the
				// outbound queue is saturated.
			}
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		// Permission outcomes and video bytes are capture-source concerns;
		// everything else drives the state machine.
		switch m := parsed.(type) {
		case protocol.ClientControl:
			switch m.Action {
			case protocol.ActionPermissionGranted:
				source.deliver(true)
				continue
			case protocol.ActionPermissionDenied:
				source.deliver(false)
				continue
			}
		case protocol.ClientVideoChunk:
			raw, err := base64.StdEncoding.DecodeString(m.VideoBase64)
			if err != nil {
				s.logger.Warn("undecodable video chunk",
					zap.String("session_id", sessionID),
					zap.Int("seq", m.Seq),
					zap.Error(err))
				continue
			}
			source.appendVideo(raw)
			continue
		}

		select {
		case <-ctx.Done():
			break readLoop
		case <-runDone:
			// Controller has exited; nothing drains inbound anymore.
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
}
