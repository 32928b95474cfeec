package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/beeper/persona-session-orchestrator/internal/domain"
)

func TestTrimHistoryToBudgetDropsOldestFirst(t *testing.T) {
	var history []HistoryEntry
	for i := 0; i < 50; i++ {
		history = append(history, HistoryEntry{Sender: "user", Content: strings.Repeat("word ", 40)})
	}
	trimmed := TrimHistoryToBudget(history, "gpt-4o", 200)
	if len(trimmed) == 0 {
		t.Fatalf("expected at least one entry to survive trimming")
	}
	if len(trimmed) >= len(history) {
		t.Fatalf("expected trimming to drop entries, got %d of %d", len(trimmed), len(history))
	}
	// the kept entries must be the most recent (tail) ones
	if trimmed[len(trimmed)-1] != history[len(history)-1] {
		t.Fatalf("expected most recent entry to survive trimming")
	}
}

func TestTrimHistoryToBudgetKeepsEverythingUnderBudget(t *testing.T) {
	history := []HistoryEntry{
		{Sender: "alice", Content: "hello"},
		{Sender: "bob", Content: "hi there"},
	}
	trimmed := TrimHistoryToBudget(history, "gpt-4o", defaultContextBudgetTokens)
	if len(trimmed) != len(history) {
		t.Fatalf("expected all entries kept, got %d of %d", len(trimmed), len(history))
	}
}

func TestTrimHistoryToBudgetNeverEmptiesCompletely(t *testing.T) {
	history := []HistoryEntry{
		{Sender: "user", Content: strings.Repeat("word ", 5000)},
	}
	trimmed := TrimHistoryToBudget(history, "gpt-4o", 1)
	if len(trimmed) != 1 {
		t.Fatalf("expected the single entry to survive even over budget, got %d", len(trimmed))
	}
}

func TestUnmarshalToolArgsParsesQueryAndK(t *testing.T) {
	var args retrievalToolArgs
	if err := unmarshalToolArgs(`{"query":"what is the plan","k":5}`, &args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args.Query != "what is the plan" || args.K != 5 {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestUnmarshalToolArgsRejectsEmpty(t *testing.T) {
	var args retrievalToolArgs
	if err := unmarshalToolArgs("", &args); err == nil {
		t.Fatalf("expected error for empty arguments")
	}
}

func TestFormatSearchHitsProducesValidJSONArray(t *testing.T) {
	out := formatSearchHits([]SearchHit{
		{Text: "some fact", Source: "doc1"},
		{Text: `quote "me"`, Source: "doc2"},
	})
	if !strings.HasPrefix(out, "[") || !strings.HasSuffix(out, "]") {
		t.Fatalf("expected a JSON array, got %q", out)
	}
	if !strings.Contains(out, `"some fact"`) {
		t.Fatalf("expected escaped text in output: %q", out)
	}
}

func TestFormatSearchHitsEmpty(t *testing.T) {
	if out := formatSearchHits(nil); out != "[]" {
		t.Fatalf("expected empty array, got %q", out)
	}
}

func TestBuildSystemPromptIncludesToneAndGroupRules(t *testing.T) {
	r := &Runtime{model: "gpt-4o"}
	persona := &domain.Persona{SystemPrompt: "You are Nova, a helpful astronomer.", Tone: "warm and curious"}
	prompt := r.buildSystemPrompt(persona)
	if !strings.Contains(prompt, "Nova") {
		t.Fatalf("expected system prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "warm and curious") {
		t.Fatalf("expected tone included, got %q", prompt)
	}
	if !strings.Contains(prompt, "group chat") {
		t.Fatalf("expected group chat rules included, got %q", prompt)
	}
}

func TestBuildSystemPromptOmitsToneWhenEmpty(t *testing.T) {
	r := &Runtime{model: "gpt-4o"}
	persona := &domain.Persona{SystemPrompt: "You are Nova."}
	prompt := r.buildSystemPrompt(persona)
	if strings.Contains(prompt, "Tone:") {
		t.Fatalf("expected no Tone: line when persona has no tone, got %q", prompt)
	}
}

type fakeSearcher struct {
	hits []SearchHit
	err  error
	gotK int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, k int) ([]SearchHit, error) {
	f.gotK = k
	return f.hits, f.err
}

func TestRunRetrievalToolDefaultsKAndFormatsHits(t *testing.T) {
	r := &Runtime{model: "gpt-4o"}
	search := &fakeSearcher{hits: []SearchHit{{Text: "fact one", Source: "doc1"}}}
	out := r.runRetrievalTool(context.Background(), search, `{"query":"hello","k":0}`)
	if search.gotK != 3 {
		t.Fatalf("expected k to default to 3, got %d", search.gotK)
	}
	if !strings.Contains(out, "fact one") {
		t.Fatalf("expected formatted hit in output, got %q", out)
	}
}

func TestRunRetrievalToolReportsSearchError(t *testing.T) {
	r := &Runtime{model: "gpt-4o"}
	search := &fakeSearcher{err: errors.New("vector store unreachable")}
	out := r.runRetrievalTool(context.Background(), search, `{"query":"hello","k":1}`)
	if !strings.Contains(out, "error") {
		t.Fatalf("expected error payload, got %q", out)
	}
}

func TestRunRetrievalToolNilSearcherReturnsEmpty(t *testing.T) {
	r := &Runtime{model: "gpt-4o"}
	if out := r.runRetrievalTool(context.Background(), nil, `{"query":"hello"}`); out != "[]" {
		t.Fatalf("expected empty array for nil searcher, got %q", out)
	}
}
