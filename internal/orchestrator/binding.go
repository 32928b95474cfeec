package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/beeper/persona-session-orchestrator/internal/domain"
	"github.com/beeper/persona-session-orchestrator/internal/retrieval"
	"github.com/beeper/persona-session-orchestrator/internal/runtime"
	"github.com/beeper/persona-session-orchestrator/internal/store"
)

// binding is the sticky runtime handle for one session: a snapshot of the
// owner's personas plus one Runtime client per distinct API profile,
// reused across turns until idle eviction or explicit session deletion.
// Grounded on AgentDefinition.Clone (pkg/agents/types.go) being used to
// snapshot mutable config without aliasing it across goroutines.
type binding struct {
	mu         sync.Mutex
	sessionID  string
	owner      string
	personas   map[string]*domain.Persona // handle -> snapshot
	runtimes   map[string]*runtime.Runtime // api_profile_id -> client
	embedCfgs  map[string]*domain.ResolvedLLMConfig
	lastUsed   time.Time
}

func newBinding(sessionID, owner string) *binding {
	return &binding{
		sessionID: sessionID,
		owner:     owner,
		personas:  make(map[string]*domain.Persona),
		runtimes:  make(map[string]*runtime.Runtime),
		embedCfgs: make(map[string]*domain.ResolvedLLMConfig),
		lastUsed:  time.Now(),
	}
}

func (b *binding) touch() {
	b.mu.Lock()
	b.lastUsed = time.Now()
	b.mu.Unlock()
}

func (b *binding) idleSince() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Since(b.lastUsed)
}

// refresh reloads the owner's personas and lazily (re)builds Runtime clients
// for any API profile not already bound, grounded on the teacher's
// bridge-level sticky client cache in pkg/connector (one provider client per
// configured endpoint, reused across calls).
func (b *binding) refresh(ctx context.Context, personaStore *store.PersonaStore, log zerolog.Logger) ([]*domain.Persona, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	personas, err := personaStore.ListPersonas(ctx, b.owner)
	if err != nil {
		return nil, err
	}

	snapshots := make([]*domain.Persona, 0, len(personas))
	seen := make(map[string]bool, len(personas))
	for _, p := range personas {
		snap := p.Clone()
		b.personas[snap.Handle] = snap
		seen[snap.Handle] = true
		snapshots = append(snapshots, snap)

		if _, ok := b.runtimes[snap.APIProfileID]; ok {
			continue
		}
		cfg, err := personaStore.ResolveLLMConfig(ctx, snap)
		if err != nil {
			log.Error().Err(err).Str("persona_id", snap.ID).Msg("failed to resolve LLM config for persona runtime binding")
			continue
		}
		b.runtimes[snap.APIProfileID] = runtime.New(cfg, log)
		b.embedCfgs[snap.APIProfileID] = cfg
	}

	for handle := range b.personas {
		if !seen[handle] {
			delete(b.personas, handle)
		}
	}

	return snapshots, nil
}

func (b *binding) runtimeFor(persona *domain.Persona) (*runtime.Runtime, *domain.ResolvedLLMConfig, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rt, ok := b.runtimes[persona.APIProfileID]
	return rt, b.embedCfgs[persona.APIProfileID], ok
}

// bindings owns one sticky binding per session and evicts idle entries on a
// schedule.
type bindings struct {
	mu       sync.Mutex
	entries  map[string]*binding
	idleTTL  time.Duration
}

func newBindings(idleTTL time.Duration) *bindings {
	return &bindings{entries: make(map[string]*binding), idleTTL: idleTTL}
}

func (b *bindings) get(sessionID, owner string) *binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bd, ok := b.entries[sessionID]; ok {
		return bd
	}
	bd := newBinding(sessionID, owner)
	b.entries[sessionID] = bd
	return bd
}

func (b *bindings) drop(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, sessionID)
}

// evictIdle removes bindings untouched for longer than idleTTL, returning
// how many were evicted.
func (b *bindings) evictIdle() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	evicted := 0
	for id, bd := range b.entries {
		if bd.idleSince() >= b.idleTTL {
			delete(b.entries, id)
			evicted++
		}
	}
	return evicted
}
