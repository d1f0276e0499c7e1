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

// OpenAIProvider speaks the OpenAI chat-completions wire format. It also
// serves groq and gemini endpoints configured with a compatible base_url.
type OpenAIProvider struct {
	name   string
	apiKey string
	base   string
	client *http.Client
}

// NewOpenAIProvider creates a provider from config, falling back to
// OPENAI_API_KEY when no key is configured.
func NewOpenAIProvider(name string, cfg config.LLMProvider) *OpenAIProvider {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		name:   name,
		apiKey: cfg.APIKey,
		base:   base,
		client: &http.Client{Timeout: defaultTimeout(cfg.Timeout)},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// Generate sends one chat-completions request.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (Response, error) {
	apiKey := p.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return Response{}, fmt.Errorf("%s API key not configured", p.name)
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model               string    `json:"model"`
		Messages            []chatMsg `json:"messages"`
		Temperature         float64   `json:"temperature,omitempty"`
		MaxTokens           *int      `json:"max_tokens,omitempty"`
		MaxCompletionTokens *int      `json:"max_completion_tokens,omitempty"`
	}

	msgs := make([]chatMsg, 0, 2)
	if req.System != "" {
		msgs = append(msgs, chatMsg{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMsg{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatReq{
		Model:               req.Settings.Model,
		Messages:            msgs,
		Temperature:         req.Settings.Temperature,
		MaxTokens:           req.Settings.MaxTokens,
		MaxCompletionTokens: req.Settings.MaxCompletionTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.base+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return Response{}, fmt.Errorf("request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("%s status %d", p.name, resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return Response{}, fmt.Errorf("no choices")
	}

	return Response{
		Content:          out.Choices[0].Message.Content,
		Model:            req.Settings.Model,
		PromptTokens:     int64(out.Usage.PromptTokens),
		CompletionTokens: int64(out.Usage.CompletionTokens),
	}, nil
}
