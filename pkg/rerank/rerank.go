// Package rerank provides a client for a cross-encoder reranking service.
// The service scores (query, passage) pairs jointly and is consumed as an
// external collaborator; callers are expected to fall back to their own
// ordering when it fails.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultEndpoint = "http://localhost:8081"
	defaultTimeout  = 30 * time.Second
)

// Config holds reranker client configuration.
type Config struct {
	Endpoint string        // Service base URL (default: http://localhost:8081)
	Model    string        // Optional model identifier sent with each request
	APIKey   string        // Optional bearer token
	Timeout  time.Duration // Request timeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint: defaultEndpoint,
		Timeout:  defaultTimeout,
	}
}

// Reranker scores passages against a query via the /v1/rerank endpoint.
type Reranker struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// Result is one reranked passage: Index refers to the position in the
// submitted passage slice.
type Result struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Model   string   `json:"model"`
	Results []Result `json:"results"`
}

// New creates a reranker with default configuration.
func New() *Reranker {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a reranker with custom configuration.
func NewWithConfig(cfg Config) *Reranker {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Reranker{
		endpoint: endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Rerank scores each passage against the query. Higher scores indicate more
// relevance. The returned results preserve the service's ordering; callers
// that need a cutoff sort and truncate themselves.
func (r *Reranker) Rerank(ctx context.Context, query string, passages []string) ([]Result, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: passages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.endpoint+"/v1/rerank", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank returned status %d: %s", resp.StatusCode, string(body))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}

	for _, res := range result.Results {
		if res.Index < 0 || res.Index >= len(passages) {
			return nil, fmt.Errorf("rerank returned out-of-range index %d", res.Index)
		}
	}

	return result.Results, nil
}
