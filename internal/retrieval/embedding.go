// Package retrieval implements the Retrieval Engine (C3): per-persona
// chunked ingestion and similarity search over an external vector store,
// grounded on the teacher's pkg/memory package (embedding providers,
// hybrid merge) generalized from a single-bridge-wide store to one
// collection per persona.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"google.golang.org/genai"
)

// EmbeddingProvider embeds single queries and batches of document chunks
// using one persona's configured embedding API profile. Grounded on
// pkg/memory/embedding/provider.go's closure-based Provider type.
type EmbeddingProvider struct {
	id         string
	model      string
	embedQuery func(ctx context.Context, text string) ([]float64, error)
	embedBatch func(ctx context.Context, texts []string) ([][]float64, error)
}

func (p *EmbeddingProvider) ID() string    { return p.id }
func (p *EmbeddingProvider) Model() string { return p.model }

func (p *EmbeddingProvider) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	return p.embedQuery(ctx, text)
}

func (p *EmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return p.embedBatch(ctx, texts)
}

// NormalizeEmbedding L2-normalizes vec in place semantics (returns a new
// slice), matching pkg/memory/embedding/provider.go so cosine similarity at
// search time reduces to a dot product.
func NormalizeEmbedding(vec []float64) []float64 {
	if len(vec) == 0 {
		return vec
	}
	var sum float64
	for _, v := range vec {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			sum += v * v
		}
	}
	if sum <= 0 {
		return vec
	}
	mag := math.Sqrt(sum)
	if mag < 1e-10 {
		return vec
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = 0
		} else {
			out[i] = v / mag
		}
	}
	return out
}

const (
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
	defaultGeminiEmbeddingModel = "gemini-embedding-001"
)

// NewOpenAIEmbeddingProvider builds a provider over an OpenAI-compatible
// embeddings endpoint, grounded on pkg/memory/embedding/openai.go.
func NewOpenAIEmbeddingProvider(apiKey, baseURL, model string) (*EmbeddingProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("retrieval: openai embeddings require an api key")
	}
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	embedBatch := func(ctx context.Context, texts []string) ([][]float64, error) {
		if len(texts) == 0 {
			return nil, nil
		}
		resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(model),
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
		})
		if err != nil {
			return nil, fmt.Errorf("retrieval: openai embeddings: %w", err)
		}
		out := make([][]float64, 0, len(resp.Data))
		for _, entry := range resp.Data {
			out = append(out, NormalizeEmbedding(entry.Embedding))
		}
		return out, nil
	}

	return &EmbeddingProvider{
		id:    "openai",
		model: model,
		embedQuery: func(ctx context.Context, text string) ([]float64, error) {
			res, err := embedBatch(ctx, []string{text})
			if err != nil || len(res) == 0 {
				return nil, err
			}
			return res[0], nil
		},
		embedBatch: embedBatch,
	}, nil
}

// NewGeminiEmbeddingProvider builds a provider over Gemini's embedding
// models via the genai SDK, grounded on the client construction pattern in
// pkg/connector/provider_gemini.go (genai.NewClient with APIKey/BaseURL) and
// the Models.<Verb>(ctx, model, contents, config) calling convention used
// throughout that file for GenerateContent/CountTokens.
func NewGeminiEmbeddingProvider(ctx context.Context, apiKey, baseURL, model string) (*EmbeddingProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("retrieval: gemini embeddings require an api key")
	}
	if model == "" {
		model = defaultGeminiEmbeddingModel
	}
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
		cfg.HTTPClient = http.DefaultClient
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("retrieval: building gemini client: %w", err)
	}

	embedOne := func(ctx context.Context, text string) ([]float64, error) {
		contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: text}}}}
		resp, err := client.Models.EmbedContent(ctx, model, contents, nil)
		if err != nil {
			return nil, fmt.Errorf("retrieval: gemini embed content: %w", err)
		}
		if resp == nil || len(resp.Embeddings) == 0 {
			return nil, nil
		}
		values := make([]float64, len(resp.Embeddings[0].Values))
		for i, v := range resp.Embeddings[0].Values {
			values[i] = float64(v)
		}
		return NormalizeEmbedding(values), nil
	}

	embedBatch := func(ctx context.Context, texts []string) ([][]float64, error) {
		out := make([][]float64, 0, len(texts))
		for _, text := range texts {
			vec, err := embedOne(ctx, text)
			if err != nil {
				return nil, err
			}
			out = append(out, vec)
		}
		return out, nil
	}

	return &EmbeddingProvider{
		id:         "gemini",
		model:      model,
		embedQuery: embedOne,
		embedBatch: embedBatch,
	}, nil
}
