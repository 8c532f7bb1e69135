package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Chirraag/talkmybio-fv3/internal/session"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	storyID := strings.TrimSpace(chi.URLParam(r, "storyID"))
	if storyID == "" {
		respondError(w, http.StatusBadRequest, "invalid_story_id", "missing story id")
		return
	}

	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// Continuing a story reuses the existing record so the conversation
	// history carries across calls.
	if id := strings.TrimSpace(req.SessionID); id != "" {
		sess, err := s.store.Get(r.Context(), storyID, id)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				respondError(w, http.StatusNotFound, "session_not_found", err.Error())
				return
			}
			respondError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		respondJSON(w, http.StatusOK, sess)
		return
	}

	sess, err := s.store.Create(r.Context(), storyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	s.metrics.CallEvents.WithLabelValues("session_created").Inc()
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	storyID := chi.URLParam(r, "storyID")
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.store.Get(r.Context(), storyID, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type processedRequest struct {
	Transcript string `json:"transcript"`
	AudioURL   string `json:"audio_url"`
}

// handleProcessed is the callback surface for the external story pipeline: it
// records the transcript (and the separately captured audio artifact, when
// one exists) and flips the updated flag the completion poller watches.
func (s *Server) handleProcessed(w http.ResponseWriter, r *http.Request) {
	storyID := chi.URLParam(r, "storyID")
	sessionID := chi.URLParam(r, "sessionID")

	var req processedRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if url := strings.TrimSpace(req.AudioURL); url != "" {
		if err := s.store.SetAudioURL(r.Context(), storyID, sessionID, url); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				respondError(w, http.StatusNotFound, "session_not_found", err.Error())
				return
			}
			respondError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
	}

	if err := s.store.MarkProcessed(r.Context(), storyID, sessionID, req.Transcript); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	s.logger.Info("session marked processed",
		zap.String("story_id", storyID),
		zap.String("session_id", sessionID))
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
