// Package provider holds the LLM transport used by the planner and the
// executor.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/analyst/config"
	"github.com/mohammad-safakhou/analyst/internal/modelcfg"
)

// Request is one generation call. Settings are expected to be safeguarded
// already; providers apply them verbatim.
type Request struct {
	Prompt   string
	System   string
	Settings modelcfg.Settings
}

// Response carries the generated text with the provider-reported token usage.
// Token counts of zero mean the provider did not report usage; the usage
// meter falls back to estimation. Model is the model the call actually ran
// on, which may differ from the session's when routing overrides apply.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
}

// Provider generates text from a prompt.
type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

// Registry routes requests to providers by name.
type Registry struct {
	providers map[string]Provider
	fallback  string
}

// NewRegistry builds every configured provider. The routing fallback model
// decides which provider unknown names land on; without one, openai.
func NewRegistry(cfg config.LLMConfig) (*Registry, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}
	fallback := "openai"
	if cfg.Routing.Fallback != "" {
		fallback = modelcfg.ProviderForModel(cfg.Routing.Fallback)
	}
	reg := &Registry{providers: make(map[string]Provider, len(cfg.Providers)), fallback: fallback}
	for name, p := range cfg.Providers {
		switch p.Type {
		case "openai", "groq", "gemini":
			// groq and gemini expose OpenAI-compatible chat endpoints
			reg.providers[name] = NewOpenAIProvider(name, p)
		case "anthropic":
			reg.providers[name] = NewAnthropicProvider(name, p)
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", p.Type)
		}
	}
	return reg, nil
}

// For returns the provider matching the settings. Unknown providers fall back
// to the routing fallback model's provider so requests still route somewhere.
func (r *Registry) For(settings modelcfg.Settings) (Provider, error) {
	name := settings.Provider
	if name == "" {
		name = modelcfg.ProviderForModel(settings.Model)
	}
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	if p, ok := r.providers[r.fallback]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("no provider configured for %q", name)
}

func defaultTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 60 * time.Second
	}
	return d
}
