package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/beeper/persona-session-orchestrator/internal/apierr"
	"github.com/beeper/persona-session-orchestrator/internal/crypto"
	"github.com/beeper/persona-session-orchestrator/internal/domain"
)

// PersonaStore implements C1: CRUD over Personas and API Profiles scoped by
// owner, plus decrypted-config resolution for the dispatch path.
type PersonaStore struct {
	db  *sql.DB
	box *crypto.KeyBox
	log zerolog.Logger
}

// CreateAPIProfile encrypts apiKey and persists a new profile.
func (s *PersonaStore) CreateAPIProfile(ctx context.Context, owner, name, baseURL, model, apiKey string, temperature float64, isEmbedding bool, embeddingDim int) (*domain.APIProfile, error) {
	encrypted, err := s.box.Encrypt(apiKey)
	if err != nil {
		return nil, apierr.Config("encrypting api key", err)
	}
	profile := &domain.APIProfile{
		ID:               uuid.NewString(),
		Owner:            owner,
		Name:             name,
		BaseURL:          baseURL,
		Model:            model,
		EncryptedAPIKey:  encrypted,
		KeyPreview:       crypto.Preview(apiKey),
		Temperature:      temperature,
		IsEmbeddingModel: isEmbedding,
		EmbeddingDim:     embeddingDim,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_profiles (id, owner, name, base_url, model, encrypted_api_key, key_preview, temperature, is_embedding_model, embedding_dim)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		profile.ID, profile.Owner, profile.Name, profile.BaseURL, profile.Model,
		profile.EncryptedAPIKey, profile.KeyPreview, profile.Temperature,
		boolToInt(profile.IsEmbeddingModel), profile.EmbeddingDim)
	if err != nil {
		return nil, apierr.Internal("inserting api profile", err)
	}
	return profile, nil
}

// GetAPIProfile returns the profile if owned by owner, without decrypting
// its key.
func (s *PersonaStore) GetAPIProfile(ctx context.Context, owner, id string) (*domain.APIProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, name, base_url, model, encrypted_api_key, key_preview, temperature, is_embedding_model, embedding_dim
		FROM api_profiles WHERE id = ?`, id)
	profile, err := scanAPIProfile(row)
	if err != nil {
		return nil, err
	}
	if profile.Owner != owner {
		return nil, apierr.PermissionDenied("api profile belongs to another owner")
	}
	return profile, nil
}

// ListAPIProfiles returns all profiles for owner.
func (s *PersonaStore) ListAPIProfiles(ctx context.Context, owner string) ([]*domain.APIProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, name, base_url, model, encrypted_api_key, key_preview, temperature, is_embedding_model, embedding_dim
		FROM api_profiles WHERE owner = ? ORDER BY name`, owner)
	if err != nil {
		return nil, apierr.Internal("listing api profiles", err)
	}
	defer rows.Close()

	var out []*domain.APIProfile
	for rows.Next() {
		profile, err := scanAPIProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, profile)
	}
	return out, rows.Err()
}

// UpdateAPIProfile applies a partial update to a profile's non-secret
// fields, re-encrypting and replacing the key only when newAPIKey is
// non-empty (PATCH semantics: omitting the key leaves it unchanged).
func (s *PersonaStore) UpdateAPIProfile(ctx context.Context, owner, id, name, baseURL, model, newAPIKey string, temperature float64, isEmbedding bool, embeddingDim int) (*domain.APIProfile, error) {
	profile, err := s.GetAPIProfile(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	profile.Name = name
	profile.BaseURL = baseURL
	profile.Model = model
	profile.Temperature = temperature
	profile.IsEmbeddingModel = isEmbedding
	profile.EmbeddingDim = embeddingDim

	if newAPIKey != "" {
		encrypted, err := s.box.Encrypt(newAPIKey)
		if err != nil {
			return nil, apierr.Config("encrypting api key", err)
		}
		profile.EncryptedAPIKey = encrypted
		profile.KeyPreview = crypto.Preview(newAPIKey)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE api_profiles SET name=?, base_url=?, model=?, encrypted_api_key=?, key_preview=?, temperature=?, is_embedding_model=?, embedding_dim=?
		WHERE id=? AND owner=?`,
		profile.Name, profile.BaseURL, profile.Model, profile.EncryptedAPIKey, profile.KeyPreview,
		profile.Temperature, boolToInt(profile.IsEmbeddingModel), profile.EmbeddingDim, profile.ID, profile.Owner)
	if err != nil {
		return nil, apierr.Internal("updating api profile", err)
	}
	return profile, nil
}

// DeleteAPIProfile removes a profile, cascading any personas referencing it.
func (s *PersonaStore) DeleteAPIProfile(ctx context.Context, owner, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Internal("beginning transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM api_profiles WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return apierr.Internal("deleting api profile", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.NotFound("api profile not found")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM personas WHERE api_profile_id = ? AND owner = ?`, id, owner); err != nil {
		return apierr.Internal("cascading persona delete", err)
	}
	return tx.Commit()
}

// CreatePersona validates and persists persona, checking that its API
// profile is owned by the same owner (invariant 1).
func (s *PersonaStore) CreatePersona(ctx context.Context, p *domain.Persona) (*domain.Persona, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return nil, apierr.Validation(err.Error())
	}
	if _, err := s.GetAPIProfile(ctx, p.Owner, p.APIProfileID); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO personas (id, owner, handle, display_name, system_prompt, tone, proactivity, memory_window, max_agents_per_turn, api_profile_id, is_default, background_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Owner, p.Handle, p.DisplayName, p.SystemPrompt, p.Tone, p.Proactivity,
		p.MemoryWindow, p.MaxAgentsPerTurn, p.APIProfileID, boolToInt(p.IsDefault), p.BackgroundText)
	if err != nil {
		return nil, apierr.Internal("inserting persona", err)
	}
	return p, nil
}

// GetPersona returns the persona if owned by owner.
func (s *PersonaStore) GetPersona(ctx context.Context, owner, id string) (*domain.Persona, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, handle, display_name, system_prompt, tone, proactivity, memory_window, max_agents_per_turn, api_profile_id, is_default, background_text
		FROM personas WHERE id = ?`, id)
	persona, err := scanPersona(row)
	if err != nil {
		return nil, err
	}
	if persona.Owner != owner {
		return nil, apierr.NotFound("persona not found")
	}
	return persona, nil
}

// ListPersonas returns all personas for owner.
func (s *PersonaStore) ListPersonas(ctx context.Context, owner string) ([]*domain.Persona, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, handle, display_name, system_prompt, tone, proactivity, memory_window, max_agents_per_turn, api_profile_id, is_default, background_text
		FROM personas WHERE owner = ? ORDER BY display_name`, owner)
	if err != nil {
		return nil, apierr.Internal("listing personas", err)
	}
	defer rows.Close()

	var out []*domain.Persona
	for rows.Next() {
		persona, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, persona)
	}
	return out, rows.Err()
}

// UpdatePersona applies a full replace of the mutable persona fields.
func (s *PersonaStore) UpdatePersona(ctx context.Context, p *domain.Persona) (*domain.Persona, error) {
	if err := p.Validate(); err != nil {
		return nil, apierr.Validation(err.Error())
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE personas SET handle=?, display_name=?, system_prompt=?, tone=?, proactivity=?, memory_window=?, max_agents_per_turn=?, api_profile_id=?, is_default=?, background_text=?
		WHERE id=? AND owner=?`,
		p.Handle, p.DisplayName, p.SystemPrompt, p.Tone, p.Proactivity, p.MemoryWindow,
		p.MaxAgentsPerTurn, p.APIProfileID, boolToInt(p.IsDefault), p.BackgroundText, p.ID, p.Owner)
	if err != nil {
		return nil, apierr.Internal("updating persona", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apierr.NotFound("persona not found")
	}
	return p, nil
}

// DeletePersona removes a persona owned by owner. Cascading deletion of its
// retrieval-engine collection is the caller's responsibility (C3 is a
// separate collaborator with its own lifecycle, per spec.md §3
// "Lifecycles").
func (s *PersonaStore) DeletePersona(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return apierr.Internal("deleting persona", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.NotFound("persona not found")
	}
	return nil
}

// DefaultPersona returns the persona marked is_default for owner, if any.
func (s *PersonaStore) DefaultPersona(ctx context.Context, owner string) (*domain.Persona, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, handle, display_name, system_prompt, tone, proactivity, memory_window, max_agents_per_turn, api_profile_id, is_default, background_text
		FROM personas WHERE owner = ? AND is_default = 1 LIMIT 1`, owner)
	persona, err := scanPersona(row)
	if apierr.KindOf(err) == apierr.KindNotFound {
		return nil, nil
	}
	return persona, err
}

// ResolveLLMConfig decrypts the API key for persona's profile and returns
// the config needed to dispatch an LLM call. The plaintext key is
// materialized only in the caller's frame.
func (s *PersonaStore) ResolveLLMConfig(ctx context.Context, persona *domain.Persona) (*domain.ResolvedLLMConfig, error) {
	profile, err := s.GetAPIProfile(ctx, persona.Owner, persona.APIProfileID)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.box.Decrypt(profile.EncryptedAPIKey)
	if err != nil {
		return nil, apierr.Config("decrypting api key", err)
	}
	return &domain.ResolvedLLMConfig{
		BaseURL:     profile.BaseURL,
		Model:       profile.Model,
		APIKey:      plaintext,
		Temperature: profile.Temperature,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIProfile(row rowScanner) (*domain.APIProfile, error) {
	p := &domain.APIProfile{}
	var isEmbedding int
	err := row.Scan(&p.ID, &p.Owner, &p.Name, &p.BaseURL, &p.Model, &p.EncryptedAPIKey,
		&p.KeyPreview, &p.Temperature, &isEmbedding, &p.EmbeddingDim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("api profile not found")
	}
	if err != nil {
		return nil, apierr.Internal("scanning api profile", err)
	}
	p.IsEmbeddingModel = isEmbedding != 0
	return p, nil
}

func scanPersona(row rowScanner) (*domain.Persona, error) {
	p := &domain.Persona{}
	var isDefault int
	err := row.Scan(&p.ID, &p.Owner, &p.Handle, &p.DisplayName, &p.SystemPrompt, &p.Tone,
		&p.Proactivity, &p.MemoryWindow, &p.MaxAgentsPerTurn, &p.APIProfileID, &isDefault, &p.BackgroundText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("persona not found")
	}
	if err != nil {
		return nil, apierr.Internal("scanning persona", err)
	}
	p.IsDefault = isDefault != 0
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
