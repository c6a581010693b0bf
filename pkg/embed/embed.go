// Package embed generates text embeddings through an OpenAI-compatible
// embedding service.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

const (
	defaultEndpoint = "https://api.openai.com"
	defaultModel    = "text-embedding-3-small"
	defaultTimeout  = 30 * time.Second
)

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds embedding client configuration.
type Config struct {
	Endpoint  string        // Service base URL
	Model     string        // Embedding model name
	APIKey    string        // Bearer token
	Timeout   time.Duration // Per-request timeout (default: 30s)
	CacheSize int           // Embedding cache entries (default: 10000)
}

// DefaultConfig returns sensible defaults, honoring DOCGREP_EMBED_ENDPOINT
// and DOCGREP_EMBED_MODEL overrides.
func DefaultConfig() Config {
	endpoint := os.Getenv("DOCGREP_EMBED_ENDPOINT")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	model := os.Getenv("DOCGREP_EMBED_MODEL")
	if model == "" {
		model = defaultModel
	}
	return Config{
		Endpoint:  endpoint,
		Model:     model,
		APIKey:    os.Getenv("OPENAI_API_KEY"),
		Timeout:   defaultTimeout,
		CacheSize: 10000,
	}
}

// Client calls the /v1/embeddings endpoint. Repeated texts are served from
// an in-process cache.
type Client struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	cache    *Cache

	mu            sync.Mutex
	totalRequests int64
	cacheHits     int64
}

// New creates an embedding client with default configuration.
func New() *Client {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates an embedding client with full configuration control.
func NewWithConfig(cfg Config) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	cacheSize := cfg.CacheSize
	if cacheSize == 0 {
		cacheSize = 10000
	}

	return &Client{
		endpoint: endpoint,
		model:    model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		cache:    NewCache(cacheSize),
	}
}

// Embed generates an embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request,
// serving cached texts locally.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()

	results := make([][]float32, len(texts))
	var uncachedIdx []int
	var uncached []string
	for i, text := range texts {
		if cached := c.cache.Get(text); cached != nil {
			results[i] = cached
			c.mu.Lock()
			c.cacheHits++
			c.mu.Unlock()
			continue
		}
		uncachedIdx = append(uncachedIdx, i)
		uncached = append(uncached, text)
	}

	if len(uncached) == 0 {
		return results, nil
	}

	embeddings, err := c.call(ctx, uncached)
	if err != nil {
		return nil, err
	}

	for i, idx := range uncachedIdx {
		results[idx] = embeddings[i]
		c.cache.Set(uncached[i], embeddings[i])
	}

	return results, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) call(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/v1/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embedding service error: %s", result.Error.Message)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(result.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range result.Data {
		if item.Index < 0 || item.Index >= len(texts) || len(item.Embedding) == 0 {
			return nil, fmt.Errorf("invalid embedding response item: index=%d", item.Index)
		}
		embeddings[item.Index] = item.Embedding
	}

	return embeddings, nil
}

// Stats returns request and cache-hit counters.
func (c *Client) Stats() (total, hits int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalRequests, c.cacheHits
}

// Cache is a bounded text -> embedding cache.
type Cache struct {
	mu      sync.RWMutex
	data    map[string][]float32
	maxSize int
}

// NewCache creates a cache holding at most maxSize entries.
func NewCache(maxSize int) *Cache {
	return &Cache{
		data:    make(map[string][]float32),
		maxSize: maxSize,
	}
}

// Get returns the cached embedding or nil.
func (c *Cache) Get(key string) []float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[key]
}

// Set stores an embedding, evicting half the cache when full.
func (c *Cache) Set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.data) >= c.maxSize {
		count := 0
		for k := range c.data {
			delete(c.data, k)
			count++
			if count >= c.maxSize/2 {
				break
			}
		}
	}

	c.data[key] = value
}
