// Package api implements the API Surface (C8): a thin HTTP/WS translation
// from spec.md §6's external interface onto C1/C2/C3/C6, grounded on
// telnet2-opencode's chi-based HTTP server (internal/server/server.go) —
// the pack's only HTTP-API-shaped sibling, adopted because the teacher
// itself is a Matrix bridge with no HTTP router of its own.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/beeper/persona-session-orchestrator/internal/orchestrator"
	"github.com/beeper/persona-session-orchestrator/internal/retrieval"
	"github.com/beeper/persona-session-orchestrator/internal/store"
)

// Server wires the HTTP router to the store/orchestrator/retrieval layers.
type Server struct {
	router *chi.Mux
	log    zerolog.Logger

	personas      *store.PersonaStore
	conversations *store.ConversationStore
	engine        *retrieval.Engine
	orch          *orchestrator.Orchestrator
}

// New builds a Server and its full route table.
func New(personas *store.PersonaStore, conversations *store.ConversationStore, engine *retrieval.Engine, orch *orchestrator.Orchestrator, log zerolog.Logger) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		log:           log,
		personas:      personas,
		conversations: conversations,
		engine:        engine,
		orch:          orch,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root http.Handler for this server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)
	s.router.Use(authMiddleware)
}

// requestLogger logs each request's outcome through the component's bound
// zerolog.Logger, matching the ambient-stack convention of never reaching
// for a package-level logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Get("/", s.listSessions)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Patch("/", s.updateSession)
			r.Delete("/", s.deleteSession)
			r.Post("/messages", s.enqueueMessage)
			r.Get("/messages", s.listMessages)
		})
	})
	r.Get("/ws/sessions/{sessionID}", s.sessionEvents)

	r.Route("/personas", func(r chi.Router) {
		r.Get("/", s.listPersonas)
		r.Post("/", s.createPersona)
		r.Route("/{personaID}", func(r chi.Router) {
			r.Get("/", s.getPersona)
			r.Patch("/", s.updatePersona)
			r.Delete("/", s.deletePersona)
			r.Post("/ingest-url", s.ingestURL)
			r.Post("/ingest-text", s.ingestText)
			r.Post("/refresh-rag", s.refreshRAG)
		})
	})

	r.Route("/api-profiles", func(r chi.Router) {
		r.Get("/", s.listAPIProfiles)
		r.Post("/", s.createAPIProfile)
		r.Route("/{profileID}", func(r chi.Router) {
			r.Patch("/", s.updateAPIProfile)
			r.Delete("/", s.deleteAPIProfile)
		})
	})
}
