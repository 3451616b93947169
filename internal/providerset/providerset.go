// Package providerset resolves provider-agnostic configuration into a
// gatewaytypes.Provider, and wraps providers with retry and fallback
// behavior.
package providerset

import (
	"context"
	"fmt"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
	"github.com/torbolabs/torbobase/provider/anthropic"
	"github.com/torbolabs/torbobase/provider/gemini"
	"github.com/torbolabs/torbobase/provider/openaicompat"
)

// Provider abstracts an LLM backend. Tool definitions travel on
// gatewaytypes.ChatRequest.Tools rather than through a separate method, since
// every adapter in this module accepts them uniformly.
type Provider interface {
	Chat(ctx context.Context, req gatewaytypes.ChatRequest) (gatewaytypes.ChatResponse, error)
	ChatStream(ctx context.Context, req gatewaytypes.ChatRequest, ch chan<- gatewaytypes.StreamEvent) (gatewaytypes.ChatResponse, error)
	Name() string
}

// Config holds provider-agnostic configuration for creating a Provider,
// folded from the teacher's standalone resolve package.
type Config struct {
	Provider string // "gemini", "anthropic", "openai", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // required for openai-compat; auto-filled for known providers

	Temperature *float64
	TopP        *float64
	Thinking    *bool
}

// New creates a Provider from a provider-agnostic Config.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return geminiProvider(cfg), nil
	case "anthropic":
		return anthropicProvider(cfg), nil
	case "openai", "groq", "deepseek", "together", "mistral", "ollama", "xai", "local":
		return openaiCompatProvider(cfg), nil
	default:
		return nil, fmt.Errorf("providerset: unknown provider %q", cfg.Provider)
	}
}

func geminiProvider(cfg Config) Provider {
	var opts []gemini.Option
	if cfg.Temperature != nil {
		opts = append(opts, gemini.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		opts = append(opts, gemini.WithTopP(*cfg.TopP))
	}
	if cfg.Thinking != nil {
		opts = append(opts, gemini.WithThinking(*cfg.Thinking))
	}
	return gemini.New(cfg.APIKey, cfg.Model, opts...)
}

func anthropicProvider(cfg Config) Provider {
	var opts []anthropic.Option
	if cfg.Temperature != nil {
		opts = append(opts, anthropic.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		opts = append(opts, anthropic.WithTopP(*cfg.TopP))
	}
	if cfg.Thinking != nil && *cfg.Thinking {
		opts = append(opts, anthropic.WithThinking(true))
	}
	return anthropic.New(cfg.APIKey, cfg.Model, opts...)
}

func openaiCompatProvider(cfg Config) Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	var provOpts []openaicompat.ProviderOption
	provOpts = append(provOpts, openaicompat.WithName(cfg.Provider))

	var reqOpts []openaicompat.Option
	if cfg.Temperature != nil {
		reqOpts = append(reqOpts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		reqOpts = append(reqOpts, openaicompat.WithTopP(*cfg.TopP))
	}
	if len(reqOpts) > 0 {
		provOpts = append(provOpts, openaicompat.WithOptions(reqOpts...))
	}
	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, provOpts...)
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	case "xai":
		return "https://api.x.ai/v1"
	default:
		return ""
	}
}
