// Package domain holds the core entities shared across components, grounded
// on the teacher's separation of plain data types (pkg/agents/types.go) from
// the store that persists them.
package domain

import "time"

// APIProfile is a named LLM/embedding endpoint configuration owned by a
// tenant (spec.md §3 "API Profile").
type APIProfile struct {
	ID               string  `json:"id"`
	Owner            string  `json:"owner"`
	Name             string  `json:"name"`
	BaseURL          string  `json:"base_url"`
	Model            string  `json:"model"`
	EncryptedAPIKey  string  `json:"-"`
	KeyPreview       string  `json:"key_preview,omitempty"`
	Temperature      float64 `json:"temperature"`
	IsEmbeddingModel bool    `json:"is_embedding_model"`
	EmbeddingDim     int     `json:"embedding_dim,omitempty"`
}

// Clone deep-copies an APIProfile, grounded on AgentDefinition.Clone.
func (p *APIProfile) Clone() *APIProfile {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// ResolvedLLMConfig is the decrypted form of an APIProfile, materialized
// only inside the single call frame that dispatches to the LLM.
type ResolvedLLMConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
}

// Persona is a named, prompt-and-config bundle representing one participant
// in a group chat (spec.md §3 "Persona").
type Persona struct {
	ID               string  `json:"id"`
	Owner            string  `json:"owner"`
	Handle           string  `json:"handle"`
	DisplayName      string  `json:"display_name"`
	SystemPrompt     string  `json:"system_prompt"`
	Tone             string  `json:"tone"`
	Proactivity      float64 `json:"proactivity"`
	MemoryWindow     int     `json:"memory_window"`
	MaxAgentsPerTurn int     `json:"max_agents_per_turn"`
	APIProfileID     string  `json:"api_profile_id"`
	IsDefault        bool    `json:"is_default"`
	BackgroundText   string  `json:"background_text,omitempty"`
}

// Clone deep-copies a Persona, grounded on AgentDefinition.Clone.
func (p *Persona) Clone() *Persona {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Validate checks invariants a persona must satisfy before it can be saved.
func (p *Persona) Validate() error {
	if p.ID == "" {
		return ErrMissingPersonaID
	}
	if p.Handle == "" {
		return ErrMissingPersonaHandle
	}
	if p.Proactivity < 0 || p.Proactivity > 1 {
		return ErrInvalidProactivity
	}
	if p.MemoryWindow < 1 {
		return ErrInvalidMemoryWindow
	}
	if p.MaxAgentsPerTurn < 1 {
		return ErrInvalidMaxAgents
	}
	return nil
}

// Session is a long-lived conversation with a fixed owner (spec.md §3
// "Session").
type Session struct {
	ID              string    `json:"id"`
	Owner           string    `json:"owner"`
	Title           string    `json:"title,omitempty"`
	UserDisplayName string    `json:"user_display_name,omitempty"`
	UserHandle      string    `json:"user_handle,omitempty"`
	UserPersona     string    `json:"user_persona,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SessionMetaPatch carries the mutable subset of Session fields for
// PATCH /sessions/{id}.
type SessionMetaPatch struct {
	Title           *string
	UserDisplayName *string
	UserHandle      *string
	UserPersona     *string
}

// Message is one entry in a session's append-only log (spec.md §3
// "Message").
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Position  int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// EffectiveUserHandle returns the handle the session's human user is
// addressed by, defaulting to "user" when unset.
func (s *Session) EffectiveUserHandle() string {
	if s.UserHandle != "" {
		return s.UserHandle
	}
	return "user"
}
