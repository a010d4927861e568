// Package llm is the provider-agnostic adapter for the external text
// generation service. The rest of the codebase treats it as a single
// capability — send a prompt, get text back — and never sees transport
// details. Uses net/http directly against OpenAI-compatible APIs.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider is the oracle capability consumed by extraction and
// question enrichment.
type Provider interface {
	// Complete sends a prompt and returns the generated text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns a human-readable provider/model name for logs.
	Name() string
}

// CompletionOpts configures one completion request.
type CompletionOpts struct {
	System      string  // system prompt (optional)
	Temperature float64 // 0.0 = deterministic
	MaxTokens   int     // output cap (0 = provider default)
	Format      string  // "json" to request a JSON object response
}

// Config holds provider configuration.
type Config struct {
	Provider string // "openai", "openrouter", "custom"
	Model    string // e.g. "gpt-4o-mini"
	APIKey   string // empty = read from env
	BaseURL  string // optional endpoint override
}

// NewProvider creates an LLM provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY")
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return newChatProvider("openai", key, model, baseURL, nil), nil

	case "openrouter":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENROUTER_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openrouter provider requires OPENROUTER_API_KEY")
		}
		model := cfg.Model
		if model == "" {
			model = "openai/gpt-4o-mini"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		headers := map[string]string{
			"HTTP-Referer": "https://github.com/solterra/agroform",
			"X-Title":      "Agroform",
		}
		return newChatProvider("openrouter", key, model, baseURL, headers), nil

	case "custom":
		// Self-hosted OpenAI-compatible endpoint (vLLM, Ollama, ...).
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("custom provider requires a base URL")
		}
		if cfg.Model == "" {
			return nil, fmt.Errorf("custom provider requires a model name")
		}
		return newChatProvider("custom", cfg.APIKey, cfg.Model, cfg.BaseURL, nil), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: openai, openrouter, custom)", cfg.Provider)
	}
}

// ParseProviderFlag parses a "provider/model" flag value, tolerating
// model names that themselves contain slashes
// (e.g. "openrouter/google/gemini-2.0-flash").
func ParseProviderFlag(flag string) (Config, error) {
	if flag == "" {
		return Config{Provider: "openai"}, nil
	}
	parts := strings.SplitN(flag, "/", 2)
	if len(parts) < 2 {
		return Config{}, fmt.Errorf("invalid provider format %q: expected provider/model", flag)
	}
	return Config{Provider: strings.ToLower(parts[0]), Model: parts[1]}, nil
}
