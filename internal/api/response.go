package api

import (
	"encoding/json"
	"net/http"

	"github.com/beeper/persona-session-orchestrator/internal/apierr"
)

// writeJSON writes data as a JSON response, grounded on the teacher-adjacent
// telnet2-opencode HTTP server's writeJSON helper (internal/server/response.go).
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorDetail is the `{detail: string}` shape spec.md §6 mandates for error
// responses, distinct from the richer {error:{code,message}} shape the
// grounding example uses — the wire format here follows the spec exactly.
type errorDetail struct {
	Detail string `json:"detail"`
}

// writeError maps err to its apierr.Kind's HTTP status and writes the
// {detail} body. Internal errors never leak their wrapped cause to callers.
func writeError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	status := apierr.HTTPStatus(kind)
	msg := err.Error()
	if kind == apierr.KindInternal {
		msg = "internal error"
	}
	writeJSON(w, status, errorDetail{Detail: msg})
}
