// Package scheduler implements the Turn Scheduler (C5): a pure function
// choosing which personas speak next, grounded on the teacher's
// mention-detection idiom (pkg/simpleruntime/mentions.go) generalized from
// single-agent mention matching to a scored multi-persona selection.
package scheduler

import (
	"regexp"
	"sort"
	"strings"
)

// Candidate is the scheduler's view of one persona: just enough state to
// score and select it, decoupled from domain.Persona so the scorer stays a
// pure function of plain data.
type Candidate struct {
	Handle           string
	Proactivity      float64
	MaxAgentsPerTurn int
	IsDefault        bool
}

// State is the scheduler's per-session memory, owned exclusively by that
// session's task slot (spec.md §5 "Shared-resource policy").
type State struct {
	TurnCount          int
	LastSpeaker        string
	ConsecutiveCount   map[string]int
	CooldownUntilTurn  map[string]int
	TurnsSinceLastSpoke map[string]int
}

// NewState returns a zeroed scheduler state for a new session.
func NewState() *State {
	return &State{
		ConsecutiveCount:    map[string]int{},
		CooldownUntilTurn:   map[string]int{},
		TurnsSinceLastSpoke: map[string]int{},
	}
}

// RandSource is the minimal randomness the scorer needs; *rand.Rand
// satisfies it. Tests can substitute a fixed-output stub to pin the noise
// term exactly, which is what spec.md §4.5's "implementations must expose
// the seed for testing" is asking for.
type RandSource interface {
	Float64() float64
}

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_\-]+)`)

// Mentions extracts @-handles from message, lowercased, in order of
// appearance, duplicates included (selection order in rule 1 follows
// appearance order, including repeats is harmless since selection
// dedupes).
func Mentions(message string) []string {
	matches := mentionPattern.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.ToLower(m[1]))
	}
	return out
}

// NextTurn implements spec.md §4.5's next_turn: a deterministic (given rng)
// selection that always includes every @-mentioned persona and fills any
// remaining slots, up to the largest max_agents_per_turn across all
// candidates, by score. Mentions alone can exceed that cap. It advances state
// via AdvanceState before returning. messageIsFresh marks whether
// latest_user_message just arrived
// (as opposed to a scheduler re-invocation with no new input).
func NextTurn(personas []Candidate, state *State, latestUserMessage string, messageIsFresh bool, rng RandSource) []Candidate {
	if state.ConsecutiveCount == nil {
		state.ConsecutiveCount = map[string]int{}
	}
	if state.CooldownUntilTurn == nil {
		state.CooldownUntilTurn = map[string]int{}
	}
	if state.TurnsSinceLastSpoke == nil {
		state.TurnsSinceLastSpoke = map[string]int{}
	}

	mentioned := Mentions(latestUserMessage)
	mentionedSet := make(map[string]bool, len(mentioned))
	for _, h := range mentioned {
		mentionedSet[h] = true
	}

	byHandle := make(map[string]Candidate, len(personas))
	for _, p := range personas {
		byHandle[strings.ToLower(p.Handle)] = p
	}

	maxAgents := 0
	for _, p := range personas {
		if p.MaxAgentsPerTurn > maxAgents {
			maxAgents = p.MaxAgentsPerTurn
		}
	}
	if maxAgents == 0 {
		maxAgents = 1
	}

	var selected []Candidate
	seen := map[string]bool{}

	// Rule 1: explicit @-mentions are selected in appearance order.
	for _, handle := range mentioned {
		if seen[handle] {
			continue
		}
		if cand, ok := byHandle[handle]; ok {
			selected = append(selected, cand)
			seen[handle] = true
		}
	}

	// Rule 2: fill remaining slots by score, descending, non-negative only.
	if len(selected) < maxAgents {
		type scored struct {
			cand  Candidate
			score float64
		}
		var ranked []scored
		for _, p := range personas {
			handle := strings.ToLower(p.Handle)
			if seen[handle] {
				continue
			}
			ranked = append(ranked, scored{cand: p, score: score(p, state, mentionedSet, messageIsFresh, rng)})
		}
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
		for _, r := range ranked {
			if len(selected) >= maxAgents {
				break
			}
			if r.score < 0 {
				continue
			}
			selected = append(selected, r.cand)
			seen[strings.ToLower(r.cand.Handle)] = true
		}
	}

	// Rule 3: nothing scored positively and no mentions -> default persona.
	if len(selected) == 0 && len(mentioned) == 0 {
		for _, p := range personas {
			if p.IsDefault {
				selected = append(selected, p)
				break
			}
		}
	}

	// Rule 4: advance state.
	AdvanceState(personas, state, selected)

	return selected
}

// AdvanceState applies rule 4's post-selection bookkeeping: every candidate
// in personas gets its ConsecutiveCount/CooldownUntilTurn/TurnsSinceLastSpoke
// updated based on whether it's in selected, regardless of how selected was
// produced. This applies unconditionally after selection (spec.md §4.5 rule
// 4) — it is not scoped to the scored path, so callers that bypass scoring
// entirely (an explicit target_personas override, for instance) must still
// run every selection through this before returning it.
func AdvanceState(personas []Candidate, state *State, selected []Candidate) {
	if state.ConsecutiveCount == nil {
		state.ConsecutiveCount = map[string]int{}
	}
	if state.CooldownUntilTurn == nil {
		state.CooldownUntilTurn = map[string]int{}
	}
	if state.TurnsSinceLastSpoke == nil {
		state.TurnsSinceLastSpoke = map[string]int{}
	}

	state.TurnCount++
	selectedSet := map[string]bool{}
	for _, p := range selected {
		selectedSet[strings.ToLower(p.Handle)] = true
	}
	for _, p := range personas {
		handle := strings.ToLower(p.Handle)
		if selectedSet[handle] {
			state.ConsecutiveCount[handle]++
			state.TurnsSinceLastSpoke[handle] = 0
			state.CooldownUntilTurn[handle] = state.TurnCount + 2
		} else {
			state.ConsecutiveCount[handle] = 0
			state.TurnsSinceLastSpoke[handle]++
		}
	}
	if len(selected) > 0 {
		state.LastSpeaker = strings.ToLower(selected[len(selected)-1].Handle)
	}
}

func score(p Candidate, state *State, mentionedSet map[string]bool, messageIsFresh bool, rng RandSource) float64 {
	handle := strings.ToLower(p.Handle)
	s := p.Proactivity

	if mentionedSet[handle] {
		s += 100
	}
	s += 0.05 * float64(state.TurnsSinceLastSpoke[handle])
	if state.LastSpeaker != handle && p.Proactivity >= 0.4 {
		s += 0.15
	}
	if messageIsFresh && p.Proactivity >= 0.6 {
		s += 0.2
	}
	s += uniform(rng, -0.1, 0.1)
	if state.CooldownUntilTurn[handle] > state.TurnCount {
		s -= 0.6
	}
	s -= 0.3 * float64(state.ConsecutiveCount[handle])

	return s
}

func uniform(rng RandSource, lo, hi float64) float64 {
	if rng == nil {
		return 0
	}
	return lo + rng.Float64()*(hi-lo)
}
