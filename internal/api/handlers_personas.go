package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/beeper/persona-session-orchestrator/internal/apierr"
	"github.com/beeper/persona-session-orchestrator/internal/domain"
)

type personaRequest struct {
	ID               string  `json:"id,omitempty"`
	Handle           string  `json:"handle"`
	DisplayName      string  `json:"display_name"`
	SystemPrompt     string  `json:"system_prompt"`
	Tone             string  `json:"tone,omitempty"`
	Proactivity      float64 `json:"proactivity"`
	MemoryWindow     int     `json:"memory_window"`
	MaxAgentsPerTurn int     `json:"max_agents_per_turn"`
	APIProfileID     string  `json:"api_profile_id"`
	IsDefault        bool    `json:"is_default,omitempty"`
	BackgroundText   string  `json:"background_text,omitempty"`
}

func (req personaRequest) toDomain(owner string) *domain.Persona {
	return &domain.Persona{
		ID: req.ID, Owner: owner, Handle: req.Handle, DisplayName: req.DisplayName,
		SystemPrompt: req.SystemPrompt, Tone: req.Tone, Proactivity: req.Proactivity,
		MemoryWindow: req.MemoryWindow, MaxAgentsPerTurn: req.MaxAgentsPerTurn,
		APIProfileID: req.APIProfileID, IsDefault: req.IsDefault, BackgroundText: req.BackgroundText,
	}
}

func (s *Server) listPersonas(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	personas, err := s.personas.ListPersonas(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	if personas == nil {
		personas = []*domain.Persona{}
	}
	writeJSON(w, http.StatusOK, personas)
}

func (s *Server) createPersona(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	var req personaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("invalid JSON body"))
		return
	}
	created, err := s.personas.CreatePersona(r.Context(), req.toDomain(owner))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getPersona(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	id := chi.URLParam(r, "personaID")
	persona, err := s.personas.GetPersona(r.Context(), owner, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, persona)
}

func (s *Server) updatePersona(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	id := chi.URLParam(r, "personaID")
	var req personaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("invalid JSON body"))
		return
	}
	req.ID = id
	updated, err := s.personas.UpdatePersona(r.Context(), req.toDomain(owner))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deletePersona(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	id := chi.URLParam(r, "personaID")

	persona, err := s.personas.GetPersona(r.Context(), owner, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.personas.DeletePersona(r.Context(), owner, id); err != nil {
		writeError(w, err)
		return
	}
	if s.engine != nil {
		if err := s.engine.DeleteCollection(r.Context(), owner, persona); err != nil {
			s.log.Warn().Err(err).Str("persona_id", id).Msg("failed to drop retrieval collection for deleted persona")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type ingestTextRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

type ingestURLRequest struct {
	URL string `json:"url"`
}

type ingestResponse struct {
	ChunksAdded int    `json:"chunks_added"`
	Collection  string `json:"collection"`
}

func (s *Server) ingestText(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	id := chi.URLParam(r, "personaID")

	var req ingestTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("invalid JSON body"))
		return
	}
	if req.Text == "" || req.Source == "" {
		writeError(w, apierr.Validation("text and source are required"))
		return
	}

	s.ingest(w, r, owner, id, func(persona *domain.Persona, embedCfg *domain.ResolvedLLMConfig, dim int) (int, error) {
		return s.engine.IngestText(r.Context(), owner, persona, embedCfg, dim, req.Text, req.Source)
	})
}

func (s *Server) ingestURL(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	id := chi.URLParam(r, "personaID")

	var req ingestURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("invalid JSON body"))
		return
	}
	if req.URL == "" {
		writeError(w, apierr.Validation("url is required"))
		return
	}

	s.ingest(w, r, owner, id, func(persona *domain.Persona, embedCfg *domain.ResolvedLLMConfig, dim int) (int, error) {
		return s.engine.IngestURL(r.Context(), owner, persona, embedCfg, dim, req.URL)
	})
}

// refreshRAG re-ingests a persona's background_text under its "background"
// source tag, replacing any chunks from a prior refresh (idempotent by
// (collection, source), per spec.md §7).
func (s *Server) refreshRAG(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	id := chi.URLParam(r, "personaID")

	persona, err := s.personas.GetPersona(r.Context(), owner, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if persona.BackgroundText == "" {
		writeError(w, apierr.Validation("persona has no background_text to refresh"))
		return
	}

	s.ingest(w, r, owner, id, func(persona *domain.Persona, embedCfg *domain.ResolvedLLMConfig, dim int) (int, error) {
		return s.engine.IngestText(r.Context(), owner, persona, embedCfg, dim, persona.BackgroundText, "background")
	})
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request, owner, personaID string, run func(*domain.Persona, *domain.ResolvedLLMConfig, int) (int, error)) {
	persona, err := s.personas.GetPersona(r.Context(), owner, personaID)
	if err != nil {
		writeError(w, err)
		return
	}
	profile, err := s.personas.GetAPIProfile(r.Context(), owner, persona.APIProfileID)
	if err != nil {
		writeError(w, err)
		return
	}
	embedCfg, err := s.personas.ResolveLLMConfig(r.Context(), persona)
	if err != nil {
		writeError(w, err)
		return
	}

	added, err := run(persona, embedCfg, profile.EmbeddingDim)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		ChunksAdded: added,
		Collection:  domain.CollectionName(owner, persona.ID),
	})
}
