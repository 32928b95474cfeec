package scheduler

import (
	"math/rand"
	"testing"
)

// zeroNoise pins the scorer's uniform(-0.1, +0.1) term to its midpoint (0)
// for every persona, so scenario assertions don't depend on a specific
// math/rand stream landing a particular way.
type zeroNoise struct{}

func (zeroNoise) Float64() float64 { return 0.5 }

func TestNextTurnMentionRouting(t *testing.T) {
	personas := []Candidate{
		{Handle: "alice", Proactivity: 0.3, MaxAgentsPerTurn: 1},
		{Handle: "bob", Proactivity: 0.3, MaxAgentsPerTurn: 1},
	}
	state := NewState()
	rng := rand.New(rand.NewSource(0))

	selected := NextTurn(personas, state, "hi @bob", true, rng)
	if len(selected) != 1 || selected[0].Handle != "bob" {
		t.Fatalf("expected sole speaker bob, got %+v", selected)
	}
}

func TestNextTurnProactivityTiebreak(t *testing.T) {
	personas := []Candidate{
		{Handle: "alice", Proactivity: 0.8, MaxAgentsPerTurn: 1},
		{Handle: "bob", Proactivity: 0.2, MaxAgentsPerTurn: 1},
	}
	state := NewState()
	rng := rand.New(rand.NewSource(0))

	selected := NextTurn(personas, state, "hello", true, rng)
	if len(selected) != 1 || selected[0].Handle != "alice" {
		t.Fatalf("expected alice to speak, got %+v", selected)
	}
}

func TestNextTurnConsecutivePenaltyHandsOffToOtherPersona(t *testing.T) {
	personas := []Candidate{
		{Handle: "alice", Proactivity: 0.8, MaxAgentsPerTurn: 1},
		{Handle: "bob", Proactivity: 0.2, MaxAgentsPerTurn: 1},
	}
	state := NewState()
	// Force alice to have spoken twice in a row already: rule 4 leaves her
	// with a consecutive count of 2 and a cooldown until turn 2+2.
	state.ConsecutiveCount["alice"] = 2
	state.CooldownUntilTurn["alice"] = 4
	state.LastSpeaker = "alice"
	state.TurnCount = 2

	selected := NextTurn(personas, state, "hello", true, zeroNoise{})
	if len(selected) != 1 {
		t.Fatalf("expected exactly one speaker, got %+v", selected)
	}
	// alice: 0.8 (proactivity) + 0.2 (fresh message, proactivity>=0.6)
	//        - 0.6 (cooldown 4 > turn 2) - 0.6 (2*0.3 consecutive penalty) = -0.2
	// bob:   0.2 (proactivity; below the 0.4 and 0.6 bonus thresholds) = 0.2
	// alice's negative score leaves her out, so bob is selected.
	if selected[0].Handle != "bob" {
		t.Fatalf("expected bob to be selected after alice's consecutive penalty, got %+v", selected)
	}
}

func TestNextTurnDefaultPersonaWhenNothingScoresPositive(t *testing.T) {
	personas := []Candidate{
		{Handle: "alice", Proactivity: 0, MaxAgentsPerTurn: 1, IsDefault: true},
		{Handle: "bob", Proactivity: 0, MaxAgentsPerTurn: 1},
	}
	state := NewState()
	state.CooldownUntilTurn["alice"] = 1000
	state.CooldownUntilTurn["bob"] = 1000
	rng := rand.New(rand.NewSource(0))

	selected := NextTurn(personas, state, "hello", false, rng)
	if len(selected) != 1 || !selected[0].IsDefault {
		t.Fatalf("expected default persona fallback, got %+v", selected)
	}
}

func TestNextTurnDeterministicGivenSameSeed(t *testing.T) {
	personas := []Candidate{
		{Handle: "alice", Proactivity: 0.5, MaxAgentsPerTurn: 2},
		{Handle: "bob", Proactivity: 0.5, MaxAgentsPerTurn: 2},
	}

	run := func() []string {
		state := NewState()
		rng := rand.New(rand.NewSource(42))
		selected := NextTurn(personas, state, "hello everyone", true, rng)
		handles := make([]string, len(selected))
		for i, p := range selected {
			handles[i] = p.Handle
		}
		return handles
	}

	a := run()
	b := run()
	if len(a) != len(b) {
		t.Fatalf("expected deterministic result lengths, got %v and %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic ordering, got %v and %v", a, b)
		}
	}
}

func TestMentionsExtractsHandles(t *testing.T) {
	got := Mentions("hi @bob, cc @Alice please")
	want := []string{"bob", "alice"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
