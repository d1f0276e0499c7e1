package modelcfg

import "strings"

// Settings captures the per-request generation parameters. Values are plain
// (non-pointer) except MaxTokens/MaxCompletionTokens, which distinguish
// "unset" from zero because some model families forbid one of the two.
type Settings struct {
	Provider            string  `json:"provider"`
	Model               string  `json:"model"`
	Temperature         float64 `json:"temperature"`
	MaxTokens           *int    `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int    `json:"max_completion_tokens,omitempty"`
}

// Clone returns a deep copy so that callers can mutate freely.
func (s Settings) Clone() Settings {
	out := s
	if s.MaxTokens != nil {
		v := *s.MaxTokens
		out.MaxTokens = &v
	}
	if s.MaxCompletionTokens != nil {
		v := *s.MaxCompletionTokens
		out.MaxCompletionTokens = &v
	}
	return out
}

// ApplySafeguards returns a safeguarded copy of the given settings. The input
// is never mutated; callers keep their struct untouched even when rules fire.
//
// Rules:
//   - models containing "gpt-5" reject max_tokens and cap completion tokens
//   - "o1-" models run at fixed temperature 1 with a hard token ceiling
//   - everything else gets temperature clamped into [0, 1]
func ApplySafeguards(in Settings) Settings {
	out := in.Clone()
	model := strings.ToLower(out.Model)
	switch {
	case strings.Contains(model, "gpt-5"):
		out.MaxTokens = nil
		cap := 2500
		out.MaxCompletionTokens = &cap
	case strings.HasPrefix(model, "o1-"):
		out.Temperature = 1
		cap := 5001
		out.MaxTokens = &cap
	default:
		if out.Temperature < 0 {
			out.Temperature = 0
		} else if out.Temperature > 1 {
			out.Temperature = 1
		}
	}
	if out.Provider == "" {
		out.Provider = ProviderForModel(out.Model)
	}
	return out
}

// ProviderForModel infers the provider from the model name by substring
// match. Unknown models route to openai; cost lookup still yields zero for
// them since they appear in no rate table.
func ProviderForModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"):
		return "anthropic"
	case strings.Contains(m, "gemini"):
		return "gemini"
	case strings.Contains(m, "llama"), strings.Contains(m, "groq"):
		return "groq"
	case strings.Contains(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"):
		return "openai"
	default:
		return "openai"
	}
}

// CombinerModelForProvider maps a provider to the model used for the final
// code-combining pass.
func CombinerModelForProvider(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return "claude-3-7-sonnet-latest"
	case "gemini":
		return "gemini-2.5-pro-preview-03-25"
	default:
		return "o3-mini"
	}
}
