package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/beeper/persona-session-orchestrator/internal/crypto"
	"github.com/beeper/persona-session-orchestrator/internal/orchestrator"
	"github.com/beeper/persona-session-orchestrator/internal/store"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	box, err := crypto.NewKeyBox("test-passphrase-0123456789")
	if err != nil {
		t.Fatalf("NewKeyBox failed: %v", err)
	}
	db, err := store.Open("file::memory:?cache=shared", box, zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	personas := db.PersonaStore()
	conversations := db.ConversationStore()

	orch := orchestrator.New(personas, conversations, nil, orchestrator.Config{
		LLMCallTimeout:      30 * time.Second,
		SessionIdleEviction: time.Hour,
		MaxHistory:          128,
		EventBusBuffer:      16,
	}, zerolog.Nop())
	t.Cleanup(orch.Stop)

	return New(personas, conversations, nil, orch, zerolog.Nop())
}

func doRequest(t *testing.T, srv *Server, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if owner != "" {
		req.Header.Set("X-Username", owner)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestCreateSessionRequiresAuth(t *testing.T) {
	srv := setupTestServer(t)
	w := doRequest(t, srv, http.MethodPost, "/sessions/", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without X-Username, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateAndListSessions(t *testing.T) {
	srv := setupTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/sessions/", "alice", createSessionRequest{Title: "Planning"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created createSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.SessionID == "" {
		t.Fatalf("expected a session id")
	}

	w = doRequest(t, srv, http.MethodGet, "/sessions/", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var listed []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 session, got %d", len(listed))
	}

	// A different owner must not see alice's session.
	w = doRequest(t, srv, http.MethodGet, "/sessions/", "mallory", nil)
	var listedOther []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &listedOther); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listedOther) != 0 {
		t.Fatalf("expected mallory to see no sessions, got %d", len(listedOther))
	}
}

func TestCreatePersonaRejectsUnknownAPIProfile(t *testing.T) {
	srv := setupTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/personas/", "alice", personaRequest{
		Handle: "nova", DisplayName: "Nova", Proactivity: 0.5,
		MemoryWindow: 10, MaxAgentsPerTurn: 1, APIProfileID: "does-not-exist",
	})
	if w.Code != http.StatusUnprocessableEntity && w.Code != http.StatusNotFound && w.Code != http.StatusBadRequest {
		t.Fatalf("expected a client error for an unknown api_profile_id, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateAPIProfileAndPersonaRoundTrip(t *testing.T) {
	srv := setupTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api-profiles/", "alice", apiProfileRequest{
		Name: "default", BaseURL: "https://api.openai.com/v1", Model: "gpt-4o",
		APIKey: "sk-test", Temperature: 0.7,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating api profile, got %d: %s", w.Code, w.Body.String())
	}
	var profile map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	profileID, _ := profile["id"].(string)
	if profileID == "" {
		t.Fatalf("expected an api profile id")
	}
	if _, leaked := profile["encrypted_api_key"]; leaked {
		t.Fatalf("response must not expose the encrypted key column")
	}

	w = doRequest(t, srv, http.MethodPost, "/personas/", "alice", personaRequest{
		Handle: "nova", DisplayName: "Nova", SystemPrompt: "You are Nova.",
		Proactivity: 0.5, MemoryWindow: 10, MaxAgentsPerTurn: 1, APIProfileID: profileID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating persona, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDeleteSessionIsIdempotentNotFound(t *testing.T) {
	srv := setupTestServer(t)
	w := doRequest(t, srv, http.MethodDelete, "/sessions/sess_alice_deadbeef/", "alice", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting an unknown session, got %d: %s", w.Code, w.Body.String())
	}
	var detail errorDetail
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if detail.Detail == "" {
		t.Fatalf("expected a non-empty error detail")
	}
}

func TestEnqueueMessageRejectsEmptyContent(t *testing.T) {
	srv := setupTestServer(t)
	w := doRequest(t, srv, http.MethodPost, "/sessions/", "alice", createSessionRequest{})
	var created createSessionResponse
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = doRequest(t, srv, http.MethodPost, "/sessions/"+created.SessionID+"/messages", "alice", enqueueMessageRequest{Content: ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty content, got %d: %s", w.Code, w.Body.String())
	}
}
