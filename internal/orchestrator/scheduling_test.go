package orchestrator

import (
	"testing"

	"github.com/beeper/persona-session-orchestrator/internal/domain"
	"github.com/beeper/persona-session-orchestrator/internal/runtime"
	"github.com/beeper/persona-session-orchestrator/internal/scheduler"
)

func TestSelectPersonasHonorsExplicitTargets(t *testing.T) {
	w := &sessionWorker{o: &Orchestrator{rng: systemRand{}}}
	candidates := []scheduler.Candidate{
		{Handle: "nova", Proactivity: 0.9, MaxAgentsPerTurn: 1, IsDefault: true},
		{Handle: "echo", Proactivity: 0.1, MaxAgentsPerTurn: 1},
	}
	state := scheduler.NewState()
	task := &task{
		userMessage:    &domain.Message{Content: "hey team"},
		targetPersonas: []string{"echo"},
	}

	selected := w.selectPersonas(candidates, state, task)
	if len(selected) != 1 || selected[0].Handle != "echo" {
		t.Fatalf("expected explicit target to override scoring, got %+v", selected)
	}
	if state.TurnCount != 1 {
		t.Fatalf("expected turn count to advance even for an explicit target, got %d", state.TurnCount)
	}
	if state.ConsecutiveCount["echo"] != 1 {
		t.Fatalf("expected forced speaker's consecutive count to increment, got %d", state.ConsecutiveCount["echo"])
	}
	if state.CooldownUntilTurn["echo"] != state.TurnCount+2 {
		t.Fatalf("expected forced speaker's cooldown to be set, got %d", state.CooldownUntilTurn["echo"])
	}
	if state.ConsecutiveCount["nova"] != 0 {
		t.Fatalf("expected non-selected persona's consecutive count reset to 0, got %d", state.ConsecutiveCount["nova"])
	}
	if state.TurnsSinceLastSpoke["nova"] != 1 {
		t.Fatalf("expected non-selected persona's turns-since-spoke to advance, got %d", state.TurnsSinceLastSpoke["nova"])
	}
	if state.LastSpeaker != "echo" {
		t.Fatalf("expected last speaker to be the forced persona, got %q", state.LastSpeaker)
	}
}

func TestSelectPersonasFallsBackToScheduler(t *testing.T) {
	w := &sessionWorker{o: &Orchestrator{rng: systemRand{}}}
	candidates := []scheduler.Candidate{
		{Handle: "nova", Proactivity: 0.9, MaxAgentsPerTurn: 1, IsDefault: true},
	}
	state := scheduler.NewState()
	task := &task{userMessage: &domain.Message{Content: "hello"}}

	selected := w.selectPersonas(candidates, state, task)
	if len(selected) != 1 || selected[0].Handle != "nova" {
		t.Fatalf("expected scheduler selection, got %+v", selected)
	}
}

func TestTrimToWindowKeepsMostRecent(t *testing.T) {
	entries := []runtime.HistoryEntry{
		{Sender: "user", Content: "one"},
		{Sender: "nova", Content: "two"},
		{Sender: "user", Content: "three"},
	}
	trimmed := trimToWindow(entries, 2)
	if len(trimmed) != 2 || trimmed[0].Content != "two" || trimmed[1].Content != "three" {
		t.Fatalf("unexpected trimmed entries: %+v", trimmed)
	}
}

func TestTrimToWindowNoopWhenUnderLimit(t *testing.T) {
	entries := []runtime.HistoryEntry{{Sender: "user", Content: "one"}}
	if trimmed := trimToWindow(entries, 5); len(trimmed) != 1 {
		t.Fatalf("expected no trimming, got %+v", trimmed)
	}
}
