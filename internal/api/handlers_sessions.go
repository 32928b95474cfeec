package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/beeper/persona-session-orchestrator/internal/apierr"
	"github.com/beeper/persona-session-orchestrator/internal/domain"
)

type createSessionRequest struct {
	Title           string `json:"title,omitempty"`
	UserDisplayName string `json:"user_display_name,omitempty"`
	UserHandle      string `json:"user_handle,omitempty"`
	UserPersona     string `json:"user_persona,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())

	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apierr.Validation("invalid JSON body"))
			return
		}
	}

	id, err := domain.NewSessionID(owner)
	if err != nil {
		writeError(w, apierr.Internal("generating session id", err))
		return
	}

	sess, err := s.conversations.CreateSession(r.Context(), &domain.Session{
		ID: id, Owner: owner, Title: req.Title,
		UserDisplayName: req.UserDisplayName, UserHandle: req.UserHandle, UserPersona: req.UserPersona,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: sess.ID})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	sessions, err := s.conversations.ListSessions(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

type updateSessionRequest struct {
	Title           *string `json:"title,omitempty"`
	UserDisplayName *string `json:"user_display_name,omitempty"`
	UserHandle      *string `json:"user_handle,omitempty"`
	UserPersona     *string `json:"user_persona,omitempty"`
}

func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("invalid JSON body"))
		return
	}

	sess, err := s.conversations.UpdateSessionMeta(r.Context(), owner, sessionID, domain.SessionMetaPatch{
		Title: req.Title, UserDisplayName: req.UserDisplayName, UserHandle: req.UserHandle, UserPersona: req.UserPersona,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.conversations.DeleteSession(r.Context(), owner, sessionID); err != nil {
		writeError(w, err)
		return
	}
	// Cancel any in-flight turn only after the row is gone, so a racing
	// task that re-reads the session observes NotFound rather than stale data.
	s.orch.CancelSession(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

type enqueueMessageRequest struct {
	Content        string   `json:"content"`
	TargetPersonas []string `json:"target_personas,omitempty"`
}

type enqueueMessageResponse struct {
	MessageID string `json:"message_id"`
}

func (s *Server) enqueueMessage(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	var req enqueueMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeError(w, apierr.Validation("content is required"))
		return
	}

	msg, err := s.orch.Enqueue(r.Context(), owner, sessionID, req.Content, req.TargetPersonas)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueMessageResponse{MessageID: msg.ID})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, apierr.Validation("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	msgs, err := s.conversations.ListMessages(r.Context(), owner, sessionID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
