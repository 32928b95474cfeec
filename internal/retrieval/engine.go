package retrieval

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"
	"github.com/rs/zerolog"

	"github.com/beeper/persona-session-orchestrator/internal/apierr"
	"github.com/beeper/persona-session-orchestrator/internal/domain"
)

// ProviderFactory resolves the embedding provider to use for a persona's
// resolved LLM config. Kept as a function value so the engine doesn't
// import internal/store and create an import cycle; cmd/persona-orchestrator
// wires the real implementation at startup.
type ProviderFactory func(ctx context.Context, cfg *domain.ResolvedLLMConfig) (*EmbeddingProvider, error)

// DefaultProviderFactory picks OpenAI or Gemini embeddings based on the
// resolved base URL, mirroring the teacher's provider-selection-by-base-URL
// convention (pkg/connector's per-vendor AIProvider construction).
func DefaultProviderFactory(ctx context.Context, cfg *domain.ResolvedLLMConfig) (*EmbeddingProvider, error) {
	if strings.Contains(cfg.BaseURL, "generativelanguage.googleapis.com") {
		return NewGeminiEmbeddingProvider(ctx, cfg.APIKey, cfg.BaseURL, cfg.Model)
	}
	return NewOpenAIEmbeddingProvider(cfg.APIKey, cfg.BaseURL, cfg.Model)
}

// Engine implements the Retrieval Engine (C3).
type Engine struct {
	store    *VectorStore
	provider ProviderFactory
	log      zerolog.Logger
	httpc    *http.Client
}

// New builds a retrieval engine over store, resolving embedding providers
// with provider (DefaultProviderFactory if nil).
func New(store *VectorStore, provider ProviderFactory, log zerolog.Logger) *Engine {
	if provider == nil {
		provider = DefaultProviderFactory
	}
	return &Engine{store: store, provider: provider, log: log, httpc: &http.Client{Timeout: 15 * time.Second}}
}

// IngestText splits text into chunks, embeds them with the persona's
// embedding profile, and upserts into the persona's collection. Re-ingesting
// the same source replaces its prior chunks (idempotent by (collection,
// source), per spec.md §7).
func (e *Engine) IngestText(ctx context.Context, owner string, persona *domain.Persona, embedCfg *domain.ResolvedLLMConfig, embeddingDim int, text, source string) (int, error) {
	collection := domain.CollectionName(owner, persona.ID)

	chunks := ChunkText(text, defaultChunkChars, defaultOverlapChars)
	if len(chunks) == 0 {
		return 0, apierr.Validation("no content to ingest")
	}

	embedder, err := e.provider(ctx, embedCfg)
	if err != nil {
		return 0, apierr.Config("resolving embedding provider", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, apierr.Upstream("embedding chunks", err)
	}
	if len(vectors) != len(chunks) {
		return 0, apierr.Internal("embedding count mismatch", fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	// Idempotent re-ingestion: drop this source's prior chunks first.
	if err := e.store.DeleteBySource(ctx, collection, source); err != nil {
		e.log.Warn().Err(err).Str("collection", collection).Str("source", source).Msg("failed to clear prior chunks before re-ingest")
	}

	records := make([]VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = VectorRecord{
			ID:        fmt.Sprintf("%s:%s:%d", source, c.Hash, i),
			Text:      c.Text,
			Source:    source,
			Embedding: vectors[i],
		}
	}
	if err := e.store.Upsert(ctx, collection, embeddingDim, records); err != nil {
		return 0, apierr.Upstream("upserting chunks", err)
	}
	return len(records), nil
}

// IngestURL fetches url, extracts textual content, and delegates to
// IngestText using url as the source tag.
func (e *Engine) IngestURL(ctx context.Context, owner string, persona *domain.Persona, embedCfg *domain.ResolvedLLMConfig, embeddingDim int, url string) (int, error) {
	text, err := e.extractURLText(ctx, url)
	if err != nil {
		return 0, err
	}
	return e.IngestText(ctx, owner, persona, embedCfg, embeddingDim, text, url)
}

// extractURLText fetches url and strips it to plain text, grounded on the
// teacher's link-preview extraction (pkg/connector/linkpreview.go):
// goquery body text first, OpenGraph title+description as the fallback when
// the body yields fewer than 40 characters.
func (e *Engine) extractURLText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", apierr.Validation("invalid url")
	}
	resp, err := e.httpc.Do(req)
	if err != nil {
		return "", apierr.Upstream("fetching url", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", apierr.Upstream("reading url body", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", apierr.Upstream("parsing html", err)
	}
	doc.Find("script, style, nav, header, footer").Remove()
	text := strings.TrimSpace(doc.Find("body").Text())
	text = strings.Join(strings.Fields(text), " ")

	if len(text) >= 40 {
		return text, nil
	}

	og := opengraph.NewOpenGraph()
	if err := og.ProcessHTML(strings.NewReader(string(body))); err == nil {
		fallback := strings.TrimSpace(og.Title + ". " + og.Description)
		if len(fallback) >= 40 {
			return fallback, nil
		}
	}

	return "", apierr.Validation("no extractable content")
}

// DeleteBySource removes all chunks tagged source from persona's collection.
func (e *Engine) DeleteBySource(ctx context.Context, owner string, persona *domain.Persona, source string) error {
	collection := domain.CollectionName(owner, persona.ID)
	if err := e.store.DeleteBySource(ctx, collection, source); err != nil {
		return apierr.Upstream("deleting source", err)
	}
	return nil
}

// DeleteCollection drops persona's whole collection.
func (e *Engine) DeleteCollection(ctx context.Context, owner string, persona *domain.Persona) error {
	collection := domain.CollectionName(owner, persona.ID)
	if err := e.store.DeleteCollection(ctx, collection); err != nil {
		return apierr.Upstream("deleting collection", err)
	}
	return nil
}

// Search embeds query with persona's embedding profile and returns the
// top-k matches in descending score order. A missing collection yields the
// empty sequence, not an error (spec.md §4.3).
func (e *Engine) Search(ctx context.Context, owner string, persona *domain.Persona, embedCfg *domain.ResolvedLLMConfig, query string, topK int) ([]VectorMatch, error) {
	collection := domain.CollectionName(owner, persona.ID)

	embedder, err := e.provider(ctx, embedCfg)
	if err != nil {
		return nil, apierr.Config("resolving embedding provider", err)
	}
	vec, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, apierr.Upstream("embedding query", err)
	}

	matches, err := e.store.Query(ctx, collection, vec, topK)
	if err != nil {
		return nil, apierr.Upstream("querying vector store", err)
	}
	return matches, nil
}
