package runtime

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenizerCache   = make(map[string]*tiktoken.Tiktoken)
	tokenizerCacheMu sync.RWMutex
)

// getTokenizer returns a cached tiktoken encoder for model, falling back to
// cl100k_base for models tiktoken doesn't recognize, grounded on the
// teacher's tokenizer cache (pkg/connector/tokenizer.go).
func getTokenizer(model string) (*tiktoken.Tiktoken, error) {
	tokenizerCacheMu.RLock()
	if tkm, ok := tokenizerCache[model]; ok {
		tokenizerCacheMu.RUnlock()
		return tkm, nil
	}
	tokenizerCacheMu.RUnlock()

	tokenizerCacheMu.Lock()
	defer tokenizerCacheMu.Unlock()
	if tkm, ok := tokenizerCache[model]; ok {
		return tkm, nil
	}
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	tokenizerCache[model] = tkm
	return tkm, nil
}

func countTokens(model, text string) int {
	tkm, err := getTokenizer(model)
	if err != nil {
		// No tokenizer available: fall back to a conservative 4-chars-per-token
		// estimate rather than failing the whole turn over a budgeting detail.
		return len(text) / 4
	}
	return len(tkm.Encode(text, nil, nil))
}

// TrimHistoryToBudget drops the oldest history entries (never the
// triggering user message, which callers append separately) until the
// remaining entries fit budgetTokens, per SPEC_FULL.md's C4 token-budgeting
// addition. The persona's memory_window message-count cap is applied by the
// caller before this runs; this is the second, token-aware pass.
func TrimHistoryToBudget(history []HistoryEntry, model string, budgetTokens int) []HistoryEntry {
	if budgetTokens <= 0 {
		budgetTokens = defaultContextBudgetTokens
	}
	total := 0
	for _, h := range history {
		total += countTokens(model, renderHistoryLine(h))
	}
	start := 0
	for total > budgetTokens && start < len(history)-1 {
		total -= countTokens(model, renderHistoryLine(history[start]))
		start++
	}
	return history[start:]
}

func renderHistoryLine(h HistoryEntry) string {
	return h.Sender + ": " + h.Content
}

func formatSearchHits(hits []SearchHit) string {
	if len(hits) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteString("[")
	for i, h := range hits {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"text":`)
		b.WriteString(jsonQuote(h.Text))
		b.WriteString(`,"source":`)
		b.WriteString(jsonQuote(h.Source))
		b.WriteString(`}`)
	}
	b.WriteString("]")
	return b.String()
}
