package orchestrator

import (
	"context"

	"github.com/beeper/persona-session-orchestrator/internal/domain"
	"github.com/beeper/persona-session-orchestrator/internal/retrieval"
	"github.com/beeper/persona-session-orchestrator/internal/runtime"
)

// engineSearcher adapts retrieval.Engine, which is keyed by
// (owner, persona, embedding config), to runtime.Searcher, which the LLM
// tool call only ever supplies a query and k for. Binding owner/persona/
// embedCfg at construction keeps them out of the values the model sees,
// per spec.md §4.4 ("tool inputs do not expose owner/persona ids to the
// LLM").
type engineSearcher struct {
	engine   *retrieval.Engine
	owner    string
	persona  *domain.Persona
	embedCfg *domain.ResolvedLLMConfig
}

var _ runtime.Searcher = (*engineSearcher)(nil)

func (s *engineSearcher) Search(ctx context.Context, query string, k int) ([]runtime.SearchHit, error) {
	matches, err := s.engine.Search(ctx, s.owner, s.persona, s.embedCfg, query, k)
	if err != nil {
		return nil, err
	}
	hits := make([]runtime.SearchHit, len(matches))
	for i, m := range matches {
		hits[i] = runtime.SearchHit{Text: m.Text, Source: m.Source, Score: m.Score}
	}
	return hits, nil
}
