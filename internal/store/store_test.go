package store

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/beeper/persona-session-orchestrator/internal/crypto"
	"github.com/beeper/persona-session-orchestrator/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	box, err := crypto.NewKeyBox("test-passphrase-0123456789")
	if err != nil {
		t.Fatalf("NewKeyBox failed: %v", err)
	}
	db, err := Open("file::memory:?cache=shared", box, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPersonaStoreInvariant1CrossOwnerProfile(t *testing.T) {
	db := newTestDB(t)
	personas := db.PersonaStore()
	ctx := context.Background()

	profile, err := personas.CreateAPIProfile(ctx, "alice", "default", "https://api.openai.com/v1", "gpt-4o", "sk-alice", 0.7, false, 0)
	if err != nil {
		t.Fatalf("CreateAPIProfile failed: %v", err)
	}

	p := &domain.Persona{
		Owner:            "bob",
		Handle:           "nova",
		DisplayName:      "Nova",
		Proactivity:      0.5,
		MemoryWindow:     10,
		MaxAgentsPerTurn: 1,
		APIProfileID:     profile.ID,
	}
	if _, err := personas.CreatePersona(ctx, p); err == nil {
		t.Fatalf("expected cross-owner profile reference to be rejected")
	}
}

func TestPersonaStoreResolveLLMConfigRoundTrips(t *testing.T) {
	db := newTestDB(t)
	personas := db.PersonaStore()
	ctx := context.Background()

	profile, err := personas.CreateAPIProfile(ctx, "alice", "default", "https://api.openai.com/v1", "gpt-4o", "sk-secret-key", 0.9, false, 0)
	if err != nil {
		t.Fatalf("CreateAPIProfile failed: %v", err)
	}
	p := &domain.Persona{
		Owner:            "alice",
		Handle:           "nova",
		DisplayName:      "Nova",
		Proactivity:      0.5,
		MemoryWindow:     10,
		MaxAgentsPerTurn: 1,
		APIProfileID:     profile.ID,
	}
	created, err := personas.CreatePersona(ctx, p)
	if err != nil {
		t.Fatalf("CreatePersona failed: %v", err)
	}

	cfg, err := personas.ResolveLLMConfig(ctx, created)
	if err != nil {
		t.Fatalf("ResolveLLMConfig failed: %v", err)
	}
	if cfg.APIKey != "sk-secret-key" {
		t.Fatalf("expected decrypted key to round-trip, got %q", cfg.APIKey)
	}
	if cfg.Model != "gpt-4o" {
		t.Fatalf("expected model gpt-4o, got %q", cfg.Model)
	}
}

func TestPersonaStoreUpdateAPIProfileLeavesKeyUnchangedWhenOmitted(t *testing.T) {
	db := newTestDB(t)
	personas := db.PersonaStore()
	ctx := context.Background()

	profile, err := personas.CreateAPIProfile(ctx, "alice", "default", "https://api.openai.com/v1", "gpt-4o", "sk-original", 0.7, false, 0)
	if err != nil {
		t.Fatalf("CreateAPIProfile failed: %v", err)
	}

	updated, err := personas.UpdateAPIProfile(ctx, "alice", profile.ID, "renamed", "https://api.openai.com/v1", "gpt-4o-mini", "", 0.5, false, 0)
	if err != nil {
		t.Fatalf("UpdateAPIProfile failed: %v", err)
	}
	if updated.Name != "renamed" || updated.Model != "gpt-4o-mini" {
		t.Fatalf("expected non-secret fields to update, got %+v", updated)
	}

	p := &domain.Persona{
		Owner: "alice", Handle: "nova", DisplayName: "Nova",
		Proactivity: 0.5, MemoryWindow: 10, MaxAgentsPerTurn: 1, APIProfileID: profile.ID,
	}
	created, err := personas.CreatePersona(ctx, p)
	if err != nil {
		t.Fatalf("CreatePersona failed: %v", err)
	}
	cfg, err := personas.ResolveLLMConfig(ctx, created)
	if err != nil {
		t.Fatalf("ResolveLLMConfig failed: %v", err)
	}
	if cfg.APIKey != "sk-original" {
		t.Fatalf("expected key to survive an update with no new key, got %q", cfg.APIKey)
	}
}

func TestPersonaStoreUpdateAPIProfileReplacesKeyWhenProvided(t *testing.T) {
	db := newTestDB(t)
	personas := db.PersonaStore()
	ctx := context.Background()

	profile, err := personas.CreateAPIProfile(ctx, "alice", "default", "https://api.openai.com/v1", "gpt-4o", "sk-original", 0.7, false, 0)
	if err != nil {
		t.Fatalf("CreateAPIProfile failed: %v", err)
	}
	if _, err := personas.UpdateAPIProfile(ctx, "alice", profile.ID, "default", "https://api.openai.com/v1", "gpt-4o", "sk-rotated", 0.7, false, 0); err != nil {
		t.Fatalf("UpdateAPIProfile failed: %v", err)
	}

	p := &domain.Persona{
		Owner: "alice", Handle: "nova", DisplayName: "Nova",
		Proactivity: 0.5, MemoryWindow: 10, MaxAgentsPerTurn: 1, APIProfileID: profile.ID,
	}
	created, err := personas.CreatePersona(ctx, p)
	if err != nil {
		t.Fatalf("CreatePersona failed: %v", err)
	}
	cfg, err := personas.ResolveLLMConfig(ctx, created)
	if err != nil {
		t.Fatalf("ResolveLLMConfig failed: %v", err)
	}
	if cfg.APIKey != "sk-rotated" {
		t.Fatalf("expected rotated key, got %q", cfg.APIKey)
	}
}

func TestConversationStoreAppendMessagePositionsAreMonotonic(t *testing.T) {
	db := newTestDB(t)
	convos := db.ConversationStore()
	ctx := context.Background()

	sessID, err := domain.NewSessionID("alice")
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}
	sess := &domain.Session{ID: sessID, Owner: "alice", Title: "Test"}
	if _, err := convos.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		msg := &domain.Message{ID: domain.MustNewID(), SessionID: sessID, Sender: "user", Content: "hi"}
		appended, err := convos.AppendMessage(ctx, "alice", msg)
		if err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
		if appended.Position != int64(i+1) {
			t.Fatalf("expected position %d, got %d", i+1, appended.Position)
		}
	}

	msgs, err := convos.ListMessages(ctx, "alice", sessID, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Position != int64(i+1) {
			t.Fatalf("expected ascending positions, message %d has position %d", i, m.Position)
		}
	}
}

func TestConversationStoreListMessagesKeepsMostRecentUnderLimit(t *testing.T) {
	db := newTestDB(t)
	convos := db.ConversationStore()
	ctx := context.Background()

	sessID, err := domain.NewSessionID("alice")
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}
	if _, err := convos.CreateSession(ctx, &domain.Session{ID: sessID, Owner: "alice"}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		msg := &domain.Message{ID: domain.MustNewID(), SessionID: sessID, Sender: "user", Content: "hi"}
		if _, err := convos.AppendMessage(ctx, "alice", msg); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	msgs, err := convos.ListMessages(ctx, "alice", sessID, 2)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Position != 4 || msgs[1].Position != 5 {
		t.Fatalf("expected the most recent two messages in ascending order, got positions %d, %d", msgs[0].Position, msgs[1].Position)
	}
}

func TestConversationStoreDeleteSessionCascadesMessages(t *testing.T) {
	db := newTestDB(t)
	convos := db.ConversationStore()
	ctx := context.Background()

	sessID, err := domain.NewSessionID("alice")
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}
	sess := &domain.Session{ID: sessID, Owner: "alice"}
	if _, err := convos.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	msg := &domain.Message{ID: domain.MustNewID(), SessionID: sessID, Sender: "user", Content: "hi"}
	if _, err := convos.AppendMessage(ctx, "alice", msg); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	if err := convos.DeleteSession(ctx, "alice", sessID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := convos.GetSession(ctx, "alice", sessID); err == nil {
		t.Fatalf("expected deleted session to be gone")
	}
	msgs, err := convos.ListMessages(ctx, "alice", sessID, 0)
	if err == nil && len(msgs) != 0 {
		t.Fatalf("expected cascaded messages to be gone")
	}
}

func TestConversationStoreRejectsCrossOwnerAccess(t *testing.T) {
	db := newTestDB(t)
	convos := db.ConversationStore()
	ctx := context.Background()

	sessID, err := domain.NewSessionID("alice")
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}
	if _, err := convos.CreateSession(ctx, &domain.Session{ID: sessID, Owner: "alice"}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := convos.GetSession(ctx, "mallory", sessID); err == nil {
		t.Fatalf("expected cross-owner session access to be rejected")
	}
}
