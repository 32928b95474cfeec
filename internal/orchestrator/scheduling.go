package orchestrator

import (
	"math/rand"
	"sync"

	"github.com/beeper/persona-session-orchestrator/internal/scheduler"
)

// systemRand adapts math/rand to scheduler.RandSource for production use;
// tests inject their own deterministic stub directly into the scheduler
// package instead.
type systemRand struct{}

func (systemRand) Float64() float64 { return rand.Float64() }

// schedulerStates owns one volatile scheduler.State per session, matching
// spec.md §3's "not required to survive a process restart; recomputed
// lazily" for scheduler state.
type schedulerStates struct {
	mu    sync.Mutex
	byID  map[string]*scheduler.State
}

func newSchedulerStates() *schedulerStates {
	return &schedulerStates{byID: make(map[string]*scheduler.State)}
}

func (s *schedulerStates) get(sessionID string) *scheduler.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.byID[sessionID]; ok {
		return st
	}
	st := scheduler.NewState()
	s.byID[sessionID] = st
	return st
}

func (s *schedulerStates) drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, sessionID)
}

func (o *Orchestrator) schedulerState(sessionID string) *scheduler.State {
	return o.states.get(sessionID)
}

// selectPersonas runs the turn scheduler, honoring an explicit
// target_personas override from the enqueue call in place of mention
// detection (spec.md §4.6: "optional target_personas overriding mention
// detection").
func (w *sessionWorker) selectPersonas(candidates []scheduler.Candidate, state *scheduler.State, t *task) []scheduler.Candidate {
	if len(t.targetPersonas) > 0 {
		wanted := make(map[string]bool, len(t.targetPersonas))
		for _, h := range t.targetPersonas {
			wanted[h] = true
		}
		var forced []scheduler.Candidate
		for _, c := range candidates {
			if wanted[c.Handle] {
				forced = append(forced, c)
			}
		}
		// target_personas bypasses mention detection and scoring, not the
		// rule-4 bookkeeping contract: every candidate still needs its
		// consecutive/cooldown/turns-since-spoke counters advanced so the
		// next scheduler-driven turn scores off accurate state.
		scheduler.AdvanceState(candidates, state, forced)
		return forced
	}

	return scheduler.NextTurn(candidates, state, t.userMessage.Content, true, w.o.rng)
}
