package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/mohammad-safakhou/analyst/config"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider speaks the Anthropic messages wire format.
type AnthropicProvider struct {
	name   string
	apiKey string
	base   string
	client *http.Client
}

// NewAnthropicProvider creates a provider from config, falling back to
// ANTHROPIC_API_KEY when no key is configured.
func NewAnthropicProvider(name string, cfg config.LLMProvider) *AnthropicProvider {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.anthropic.com/v1"
	}
	return &AnthropicProvider{
		name:   name,
		apiKey: cfg.APIKey,
		base:   base,
		client: &http.Client{Timeout: defaultTimeout(cfg.Timeout)},
	}
}

func (p *AnthropicProvider) Name() string { return p.name }

// Generate sends one messages request.
func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (Response, error) {
	apiKey := p.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return Response{}, fmt.Errorf("%s API key not configured", p.name)
	}

	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type msgReq struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature,omitempty"`
		System      string  `json:"system,omitempty"`
		Messages    []msg   `json:"messages"`
	}

	// the messages API requires max_tokens
	maxTokens := 4096
	if req.Settings.MaxTokens != nil {
		maxTokens = *req.Settings.MaxTokens
	} else if req.Settings.MaxCompletionTokens != nil {
		maxTokens = *req.Settings.MaxCompletionTokens
	}

	body, err := json.Marshal(msgReq{
		Model:       req.Settings.Model,
		MaxTokens:   maxTokens,
		Temperature: req.Settings.Temperature,
		System:      req.System,
		Messages:    []msg{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.base+"/messages", bytes.NewBuffer(body))
	if err != nil {
		return Response{}, fmt.Errorf("request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("%s status %d", p.name, resp.StatusCode)
	}

	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode: %w", err)
	}

	var text string
	for _, block := range out.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return Response{}, fmt.Errorf("empty response")
	}

	return Response{
		Content:          text,
		Model:            req.Settings.Model,
		PromptTokens:     int64(out.Usage.InputTokens),
		CompletionTokens: int64(out.Usage.OutputTokens),
	}, nil
}
