package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/beeper/persona-session-orchestrator/internal/apierr"
	"github.com/beeper/persona-session-orchestrator/internal/domain"
)

type apiProfileRequest struct {
	Name             string  `json:"name"`
	BaseURL          string  `json:"base_url"`
	Model            string  `json:"model"`
	APIKey           string  `json:"api_key,omitempty"`
	Temperature      float64 `json:"temperature"`
	IsEmbeddingModel bool    `json:"is_embedding_model,omitempty"`
	EmbeddingDim     int     `json:"embedding_dim,omitempty"`
}

func (s *Server) listAPIProfiles(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	profiles, err := s.personas.ListAPIProfiles(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	if profiles == nil {
		profiles = []*domain.APIProfile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) createAPIProfile(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	var req apiProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("invalid JSON body"))
		return
	}
	if req.APIKey == "" {
		writeError(w, apierr.Validation("api_key is required"))
		return
	}
	profile, err := s.personas.CreateAPIProfile(r.Context(), owner, req.Name, req.BaseURL, req.Model, req.APIKey, req.Temperature, req.IsEmbeddingModel, req.EmbeddingDim)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) updateAPIProfile(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	id := chi.URLParam(r, "profileID")

	var req apiProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("invalid JSON body"))
		return
	}
	profile, err := s.personas.UpdateAPIProfile(r.Context(), owner, id, req.Name, req.BaseURL, req.Model, req.APIKey, req.Temperature, req.IsEmbeddingModel, req.EmbeddingDim)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) deleteAPIProfile(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	id := chi.URLParam(r, "profileID")
	if err := s.personas.DeleteAPIProfile(r.Context(), owner, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
