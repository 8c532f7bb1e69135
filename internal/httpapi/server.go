package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Chirraag/talkmybio-fv3/internal/config"
	"github.com/Chirraag/talkmybio-fv3/internal/observability"
	"github.com/Chirraag/talkmybio-fv3/internal/protocol"
	"github.com/Chirraag/talkmybio-fv3/internal/session"
	"github.com/Chirraag/talkmybio-fv3/internal/storage"
	"github.com/Chirraag/talkmybio-fv3/internal/transport"
)

type Server struct {
	cfg      config.Config
	store    session.Store
	uploader storage.Uploader
	dialer   transport.Dialer
	logger   *zap.Logger
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, store session.Store, uploader storage.Uploader, dialer transport.Dialer, logger *zap.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		uploader: uploader,
		dialer:   dialer,
		logger:   logger,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin. This prevents other websites from driving the
				// user's camera session if the service is ever exposed beyond
				// localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/stories/{storyID}/sessions", s.handleCreateSession)
	r.Get("/v1/stories/{storyID}/sessions/{sessionID}", s.handleGetSession)
	r.Post("/v1/stories/{storyID}/sessions/{sessionID}/processed", s.handleProcessed)

	r.Get("/v1/call/ws", s.handleCallWS)
	r.Get("/v1/playback/ws", s.handlePlaybackWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"call_provider": s.cfg.CallProvider,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"call_provider": s.cfg.CallProvider,
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ClientVideoChunk:
		return m.Type, true
	case protocol.CallState:
		return m.Type, true
	case protocol.PermissionRequest:
		return m.Type, true
	case protocol.CaptureRelease:
		return m.Type, true
	case protocol.AgentTalking:
		return m.Type, true
	case protocol.ChunkSaved:
		return m.Type, true
	case protocol.ProcessingProgress:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	case protocol.PlaybackMasterEvent:
		return m.Type, true
	case protocol.PlaybackSetMuted:
		return m.Type, true
	case protocol.PlaybackSync:
		return m.Type, true
	default:
		return "", false
	}
}
