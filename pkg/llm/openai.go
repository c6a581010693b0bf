package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// openAIClient speaks the OpenAI chat-completions wire format. It also
// serves the github provider, whose inference endpoint is
// OpenAI-compatible.
type openAIClient struct {
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	maxTokens   int
	jsonMode    bool
	client      *http.Client
}

func newOpenAIClient(cfg Config) *openAIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &openAIClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		jsonMode:    cfg.JSONMode,
		client:      &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *openAIClient) url() string {
	return c.baseURL + "/chat/completions"
}

func (c *openAIClient) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *openAIClient) buildRequest(messages []Message, stream bool) chatRequest {
	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      stream,
	}
	if c.jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return req
}

func (c *openAIClient) Generate(ctx context.Context, query string, passages []string) (string, error) {
	return c.Chat(ctx, buildAnswerMessages(query, passages))
}

func (c *openAIClient) Chat(ctx context.Context, messages []Message) (string, error) {
	return doChat(ctx, c.client, c.url(), c.setAuth, c.buildRequest(messages, false))
}

func (c *openAIClient) ChatStream(ctx context.Context, messages []Message, fn func(delta string)) (string, error) {
	return doChatStream(ctx, c.client, c.url(), c.setAuth, c.buildRequest(messages, true), fn)
}

// azureClient reuses the OpenAI wire format but addresses a deployment
// rather than a model and authenticates with the api-key header.
type azureClient struct {
	inner      *openAIClient
	apiVersion string
}

func newAzureClient(cfg Config) *azureClient {
	version := cfg.APIVersion
	if version == "" {
		version = "2024-10-21"
	}
	return &azureClient{
		inner:      newOpenAIClient(cfg),
		apiVersion: version,
	}
}

func (c *azureClient) url() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.inner.baseURL, c.inner.model, c.apiVersion)
}

func (c *azureClient) setAuth(req *http.Request) {
	req.Header.Set("api-key", c.inner.apiKey)
}

func (c *azureClient) Generate(ctx context.Context, query string, passages []string) (string, error) {
	return c.Chat(ctx, buildAnswerMessages(query, passages))
}

func (c *azureClient) Chat(ctx context.Context, messages []Message) (string, error) {
	return doChat(ctx, c.inner.client, c.url(), c.setAuth, c.inner.buildRequest(messages, false))
}

func (c *azureClient) ChatStream(ctx context.Context, messages []Message, fn func(delta string)) (string, error) {
	return doChatStream(ctx, c.inner.client, c.url(), c.setAuth, c.inner.buildRequest(messages, true), fn)
}

func doChat(ctx context.Context, client *http.Client, url string, auth func(*http.Request), body chatRequest) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	auth(req)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var result chatResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("chat API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", errors.New("chat API returned no choices")
	}

	return result.Choices[0].Message.Content, nil
}

// doChatStream consumes a server-sent-event stream of completion chunks.
func doChatStream(ctx context.Context, client *http.Client, url string, auth func(*http.Request), body chatRequest, fn func(delta string)) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	auth(req)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			full.WriteString(choice.Delta.Content)
			if fn != nil {
				fn(choice.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}

	return full.String(), nil
}
