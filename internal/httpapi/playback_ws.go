package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Chirraag/talkmybio-fv3/internal/playback"
	"github.com/Chirraag/talkmybio-fv3/internal/protocol"
	"github.com/Chirraag/talkmybio-fv3/internal/session"
)

// remoteAudio models the client's slave audio element. Commands are relayed
// over the websocket; position between master reports is extrapolated from
// wall time so drift checks do not need a round trip.
type remoteAudio struct {
	mu      sync.Mutex
	pos     time.Duration
	basedAt time.Time
	playing bool
	muted   bool
}

func (a *remoteAudio) CurrentTime() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.playing {
		return a.pos
	}
	return a.pos + time.Since(a.basedAt)
}

func (a *remoteAudio) Seek(pos time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pos = pos
	a.basedAt = time.Now()
}

func (a *remoteAudio) Play() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.playing {
		a.playing = true
		a.basedAt = time.Now()
	}
}

func (a *remoteAudio) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.playing {
		a.pos += time.Since(a.basedAt)
		a.playing = false
	}
}

func (a *remoteAudio) SetMuted(muted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muted = muted
}

func (s *Server) handlePlaybackWS(w http.ResponseWriter, r *http.Request) {
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

	// Without a separate audio artifact the synchronizer is inert and the
	// master plays alone.
	var slave playback.Element
	if sess.AudioURL != "" {
		slave = &remoteAudio{}
	}
	syncer := playback.NewSynchronizer(slave, s.cfg.DriftTolerance, s.logger, s.metrics)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	writeJSON := func(msg any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			return false
		}
		if t, ok := messageTypeOf(msg); ok {
			s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
		}
		return true
	}

	conn.SetReadLimit(1 << 20)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParsePlaybackMessage(data)
		if err != nil {
			if !writeJSON(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_playback_message",
				Source:    "gateway",
				Detail:    err.Error(),
			}) {
				return
			}
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch m := parsed.(type) {
		case protocol.PlaybackMasterEvent:
			for _, cmd := range syncer.HandleMasterEvent(m) {
				if !writeJSON(cmd) {
					return
				}
			}
		case protocol.PlaybackSetMuted:
			for _, cmd := range syncer.SetMuted(m.SessionID, m.Muted) {
				if !writeJSON(cmd) {
					return
				}
			}
			if !writeJSON(m) {
				return
			}
		}
	}
}
