package modelcfg

// Rate is the per-1K-token price for one model.
type Rate struct {
	Input  float64
	Output float64
}

// costTable holds per-1K rates nested provider -> model. Models absent from
// the table meter at zero cost rather than erroring.
var costTable = map[string]map[string]Rate{
	"openai": {
		"gpt-4o-mini":   {Input: 0.00015, Output: 0.0006},
		"gpt-4o":        {Input: 0.0025, Output: 0.01},
		"gpt-4.1":       {Input: 0.002, Output: 0.008},
		"gpt-4.1-mini":  {Input: 0.0004, Output: 0.0016},
		"gpt-5":         {Input: 0.00125, Output: 0.01},
		"gpt-5-mini":    {Input: 0.00025, Output: 0.002},
		"o1-mini":       {Input: 0.0011, Output: 0.0044},
		"o3-mini":       {Input: 0.0011, Output: 0.0044},
		"gpt-3.5-turbo": {Input: 0.0005, Output: 0.0015},
	},
	"anthropic": {
		"claude-3-7-sonnet-latest": {Input: 0.003, Output: 0.015},
		"claude-3-5-sonnet-latest": {Input: 0.003, Output: 0.015},
		"claude-3-5-haiku-latest":  {Input: 0.0008, Output: 0.004},
		"claude-3-opus-latest":     {Input: 0.015, Output: 0.075},
	},
	"gemini": {
		"gemini-2.5-pro-preview-03-25": {Input: 0.00125, Output: 0.01},
		"gemini-2.0-flash":             {Input: 0.0001, Output: 0.0004},
		"gemini-1.5-pro":               {Input: 0.00125, Output: 0.005},
	},
	"groq": {
		"llama-3.3-70b-versatile": {Input: 0.00059, Output: 0.00079},
		"llama-3.1-8b-instant":    {Input: 0.00005, Output: 0.00008},
	},
}

// RateFor looks up the per-1K rate for a model. The provider is inferred from
// the model name; ok is false when the model is unpriced.
func RateFor(model string) (Rate, bool) {
	provider := ProviderForModel(model)
	models, ok := costTable[provider]
	if !ok {
		return Rate{}, false
	}
	r, ok := models[model]
	return r, ok
}
