// Package llm provides chat-completion clients for the answer-generation
// collaborator. One implementation exists per provider; the provider is
// chosen at construction time so the rest of the pipeline only sees the
// Client interface.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Supported providers.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderOllama = "ollama"
	ProviderGitHub = "github"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the chat-completion collaborator.
type Client interface {
	// Generate answers the query grounded in the given passages.
	Generate(ctx context.Context, query string, passages []string) (string, error)

	// Chat completes a conversation and returns the assistant reply.
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatStream completes a conversation, invoking fn for each content
	// delta, and returns the full assistant reply.
	ChatStream(ctx context.Context, messages []Message, fn func(delta string)) (string, error)
}

// Config holds chat client configuration.
type Config struct {
	Provider    string        // openai, azure, ollama, or github
	Model       string        // Model or Azure deployment name
	APIKey      string        // API key / token (provider-dependent)
	BaseURL     string        // Override base URL
	APIVersion  string        // Azure api-version (default: 2024-10-21)
	Temperature float64       // Sampling temperature (default: 0.7)
	MaxTokens   int           // Completion token cap (0 = provider default)
	JSONMode    bool          // Request a JSON-object response
	Timeout     time.Duration // Per-request timeout (default: 60s)
}

// DefaultConfig resolves provider, model, and credentials from the
// environment, defaulting to OpenAI.
func DefaultConfig() Config {
	cfg := Config{
		Provider:    os.Getenv("DOCGREP_PROVIDER"),
		Model:       os.Getenv("DOCGREP_MODEL"),
		Temperature: 0.7,
		Timeout:     60 * time.Second,
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderAzure:
		cfg.BaseURL = os.Getenv("AZURE_OPENAI_ENDPOINT")
		cfg.APIKey = os.Getenv("AZURE_OPENAI_KEY")
		if cfg.Model == "" {
			cfg.Model = os.Getenv("AZURE_OPENAI_CHAT_DEPLOYMENT")
		}
	case ProviderOllama:
		cfg.BaseURL = os.Getenv("OLLAMA_ENDPOINT")
	case ProviderGitHub:
		cfg.APIKey = os.Getenv("GITHUB_TOKEN")
	default:
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return cfg
}

// New creates the client implementation for the configured provider.
func New(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
		return newOpenAIClient(cfg), nil

	case ProviderGitHub:
		if cfg.Model == "" {
			cfg.Model = "openai/gpt-4o"
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://models.github.ai/inference"
		}
		return newOpenAIClient(cfg), nil

	case ProviderAzure:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("azure provider requires a base URL")
		}
		if cfg.Model == "" {
			return nil, fmt.Errorf("azure provider requires a deployment name")
		}
		return newAzureClient(cfg), nil

	case ProviderOllama:
		if cfg.Model == "" {
			cfg.Model = "llama3.2"
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:11434"
		}
		return newOllamaClient(cfg), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// answerSystemPrompt instructs the model to ground answers in the retrieved
// passages only.
const answerSystemPrompt = "You are a helpful assistant that answers questions using only the provided sources. " +
	"Cite sources by their bracketed number. If the sources do not contain the answer, say so."

// buildAnswerMessages assembles the grounding prompt shared by all
// providers: numbered passages followed by the user query.
func buildAnswerMessages(query string, passages []string) []Message {
	var sb strings.Builder
	sb.WriteString("Sources:\n\n")
	for i, p := range passages {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, p)
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)

	return []Message{
		{Role: "system", Content: answerSystemPrompt},
		{Role: "user", Content: sb.String()},
	}
}
