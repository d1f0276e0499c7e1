// Package usage meters token consumption and dollar cost per request and
// persists usage records off the request path.
package usage

import (
	"context"
	"log"
	"math"
	"strings"
	"time"

	"github.com/mohammad-safakhou/analyst/internal/modelcfg"
)

// DefaultTokenRatio approximates tokens per word when no exact tokenizer is
// available for a model.
const DefaultTokenRatio = 1.5

// Tokenizer counts tokens exactly for the models it knows.
type Tokenizer interface {
	Count(model, text string) (int64, bool)
}

// Record is one persisted usage row.
type Record struct {
	UserID           string    `json:"user_id"`
	ChatID           string    `json:"chat_id"`
	ModelName        string    `json:"model_name"`
	Provider         string    `json:"provider"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	QuerySize        int       `json:"query_size"`
	ResponseSize     int       `json:"response_size"`
	Cost             float64   `json:"cost"`
	RequestTimeMS    int64     `json:"request_time_ms"`
	IsStreaming      bool      `json:"is_streaming"`
	CreatedAt        time.Time `json:"created_at"`
}

// Sink persists usage records.
type Sink interface {
	SaveUsage(ctx context.Context, rec Record) error
}

// Meter estimates tokens, prices requests and records usage without ever
// failing the request path.
type Meter struct {
	sink      Sink
	tokenizer Tokenizer
	logger    *log.Logger
}

// NewMeter builds a Meter. sink and tokenizer may be nil.
func NewMeter(sink Sink, tokenizer Tokenizer, logger *log.Logger) *Meter {
	if logger == nil {
		logger = log.New(log.Writer(), "[USAGE] ", log.LstdFlags)
	}
	return &Meter{sink: sink, tokenizer: tokenizer, logger: logger}
}

// CountTokens returns the token count for text under the given model: exact
// when a tokenizer knows the model, otherwise round(words * 1.5).
func (m *Meter) CountTokens(model, text string) int64 {
	if m.tokenizer != nil {
		if n, ok := m.tokenizer.Count(model, text); ok {
			return n
		}
	}
	return EstimateTokens(text)
}

// EstimateTokens is the word-ratio fallback used when no tokenizer matches.
func EstimateTokens(text string) int64 {
	words := len(strings.Fields(text))
	return int64(math.Round(float64(words) * DefaultTokenRatio))
}

// Cost prices a request: (prompt/1000)*inputRate + (completion/1000)*outputRate,
// rounded to 7 decimals. Unpriced models cost zero.
func Cost(model string, promptTokens, completionTokens int64) float64 {
	rate, ok := modelcfg.RateFor(model)
	if !ok {
		return 0
	}
	cost := float64(promptTokens)/1000.0*rate.Input + float64(completionTokens)/1000.0*rate.Output
	return math.Round(cost*1e7) / 1e7
}

// Track completes a record (totals, cost, timestamp) and persists it in the
// background. Failures are logged and swallowed; metering never propagates
// errors to the caller.
func (m *Meter) Track(rec Record) {
	rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
	if rec.Cost == 0 {
		rec.Cost = Cost(rec.ModelName, rec.PromptTokens, rec.CompletionTokens)
	}
	if rec.Provider == "" {
		rec.Provider = modelcfg.ProviderForModel(rec.ModelName)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	observeRecord(rec)

	if m.sink == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Printf("warn: usage recording panicked: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.sink.SaveUsage(ctx, rec); err != nil {
			m.logger.Printf("warn: usage recording failed: %v", err)
		}
	}()
}
