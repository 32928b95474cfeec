package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VectorStore speaks to the external vector-search service over HTTP/JSON,
// kept small and vendor-agnostic per spec.md §6 ("the core does not depend
// on a specific vendor"), grounded on the teacher's httputil.PostJSON/GetJSON
// helpers (pkg/shared/httputil/client.go) rather than a vendor SDK.
type VectorStore struct {
	baseURL string
	client  *http.Client
}

// NewVectorStore builds a client against baseURL (the configured
// vector_store_url).
func NewVectorStore(baseURL string, timeout time.Duration) *VectorStore {
	return &VectorStore{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// VectorRecord is one (text, source, embedding) triple in a collection.
type VectorRecord struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Embedding []float64 `json:"embedding"`
}

// VectorMatch is one search hit.
type VectorMatch struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// Upsert writes records into collection, creating it on first use with the
// given embedding dimension.
func (v *VectorStore) Upsert(ctx context.Context, collection string, dim int, records []VectorRecord) error {
	return v.post(ctx, fmt.Sprintf("/collections/%s/upsert", collection), map[string]any{
		"dimension": dim,
		"records":   records,
	}, nil)
}

// Query returns the topK nearest records to queryEmbedding by cosine
// similarity, descending score order. A non-existent collection is not an
// error: the vector store is expected to return an empty result set.
func (v *VectorStore) Query(ctx context.Context, collection string, queryEmbedding []float64, topK int) ([]VectorMatch, error) {
	var out struct {
		Matches []VectorMatch `json:"matches"`
	}
	if err := v.post(ctx, fmt.Sprintf("/collections/%s/query", collection), map[string]any{
		"embedding": queryEmbedding,
		"top_k":     topK,
	}, &out); err != nil {
		if httpStatusFromErr(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return out.Matches, nil
}

// DeleteBySource removes all chunks tagged with source from collection.
func (v *VectorStore) DeleteBySource(ctx context.Context, collection, source string) error {
	return v.post(ctx, fmt.Sprintf("/collections/%s/delete-by-source", collection), map[string]any{
		"source": source,
	}, nil)
}

// DeleteCollection drops collection entirely. Deleting an already-absent
// collection is not an error.
func (v *VectorStore) DeleteCollection(ctx context.Context, collection string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, v.baseURL+"/collections/"+collection, nil)
	if err != nil {
		return fmt.Errorf("retrieval: building delete request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("retrieval: deleting collection: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("retrieval: vector store returned %s: %s", resp.Status, string(body))
	}
	return nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("retrieval: vector store returned %d: %s", e.status, e.body)
}

func httpStatusFromErr(err error) int {
	var se *statusError
	if e, ok := err.(*statusError); ok {
		se = e
	}
	if se == nil {
		return 0
	}
	return se.status
}

func (v *VectorStore) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("retrieval: marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("retrieval: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("retrieval: calling vector store: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("retrieval: reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode, body: string(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("retrieval: decoding response: %w", err)
		}
	}
	return nil
}
