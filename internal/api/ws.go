package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// sessionEvents upgrades to a WebSocket and streams the session's event bus
// (C7) as JSON text frames: message.new, agent.start, agent.chunk, agent.end
// and agent.error, in publish order, until the client disconnects or the
// subscription's channel is closed (slow-subscriber drop or session deletion).
func (s *Server) sessionEvents(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := s.conversations.GetSession(r.Context(), owner, sessionID); err != nil {
		writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	sub := s.orch.Bus(sessionID).Subscribe()
	defer sub.Unsubscribe()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "subscriber dropped")
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.log.Error().Err(err).Msg("failed to marshal event for websocket")
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
