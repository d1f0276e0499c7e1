package modelcfg

import "testing"

func TestApplySafeguardsGPT5(t *testing.T) {
	mt := 8000
	in := Settings{Model: "gpt-5", Temperature: 0.7, MaxTokens: &mt}
	out := ApplySafeguards(in)
	if out.MaxTokens != nil {
		t.Fatalf("expected max_tokens cleared, got %v", *out.MaxTokens)
	}
	if out.MaxCompletionTokens == nil || *out.MaxCompletionTokens != 2500 {
		t.Fatalf("expected max_completion_tokens 2500, got %v", out.MaxCompletionTokens)
	}
}

func TestApplySafeguardsO1(t *testing.T) {
	in := Settings{Model: "o1-mini", Temperature: 0.2}
	out := ApplySafeguards(in)
	if out.Temperature != 1 {
		t.Fatalf("expected temperature forced to 1, got %v", out.Temperature)
	}
	if out.MaxTokens == nil || *out.MaxTokens != 5001 {
		t.Fatalf("expected max_tokens 5001, got %v", out.MaxTokens)
	}
}

func TestApplySafeguardsClampsTemperature(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.7, 0.7},
		{1.8, 1},
	}
	for _, tc := range cases {
		out := ApplySafeguards(Settings{Model: "gpt-4o-mini", Temperature: tc.in})
		if out.Temperature != tc.want {
			t.Errorf("temperature %v: expected %v, got %v", tc.in, tc.want, out.Temperature)
		}
	}
}

func TestApplySafeguardsDoesNotMutateInput(t *testing.T) {
	mt := 8000
	in := Settings{Model: "gpt-5", Temperature: 1.5, MaxTokens: &mt}
	_ = ApplySafeguards(in)
	if in.MaxTokens == nil || *in.MaxTokens != 8000 {
		t.Fatalf("input settings mutated: max_tokens %v", in.MaxTokens)
	}
	if in.Temperature != 1.5 {
		t.Fatalf("input settings mutated: temperature %v", in.Temperature)
	}
}

func TestProviderForModel(t *testing.T) {
	cases := []struct {
		model string
		want  string
	}{
		{"claude-3-7-sonnet-latest", "anthropic"},
		{"gpt-4o-mini", "openai"},
		{"o1-mini", "openai"},
		{"gemini-2.0-flash", "gemini"},
		{"llama-3.1-8b-instant", "groq"},
		{"mystery-model", "openai"},
	}
	for _, tc := range cases {
		if got := ProviderForModel(tc.model); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.model, tc.want, got)
		}
	}
}

func TestRateForUnknownModel(t *testing.T) {
	if _, ok := RateFor("mystery-model"); ok {
		t.Fatalf("expected no rate for unknown model")
	}
}

func TestCombinerModelForProvider(t *testing.T) {
	cases := []struct {
		provider string
		want     string
	}{
		{"anthropic", "claude-3-7-sonnet-latest"},
		{"gemini", "gemini-2.5-pro-preview-03-25"},
		{"openai", "o3-mini"},
		{"groq", "o3-mini"},
	}
	for _, tc := range cases {
		if got := CombinerModelForProvider(tc.provider); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.provider, tc.want, got)
		}
	}
}
