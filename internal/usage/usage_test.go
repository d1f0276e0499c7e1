package usage

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

type fakeTokenizer struct {
	known map[string]int64
}

func (f fakeTokenizer) Count(model, text string) (int64, bool) {
	n, ok := f.known[model]
	return n, ok
}

type fakeSink struct {
	mu   sync.Mutex
	recs []Record
	err  error
	done chan struct{}
}

func (f *fakeSink) SaveUsage(ctx context.Context, rec Record) error {
	f.mu.Lock()
	f.recs = append(f.recs, rec)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return f.err
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int64
	}{
		{"", 0},
		{"hello", 2},       // round(1 * 1.5)
		{"hello world", 3}, // round(2 * 1.5)
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("%q: expected %d, got %d", tc.text, tc.want, got)
		}
	}
}

func TestCountTokensPrefersTokenizer(t *testing.T) {
	m := NewMeter(nil, fakeTokenizer{known: map[string]int64{"gpt-4o-mini": 42}}, nil)
	if got := m.CountTokens("gpt-4o-mini", "some words here"); got != 42 {
		t.Fatalf("expected exact count 42, got %d", got)
	}
	// unknown model falls back to estimation
	if got := m.CountTokens("mystery-model", "one two three four"); got != 6 {
		t.Fatalf("expected estimated count 6, got %d", got)
	}
}

func TestTiktokenCounterUnknownModelMisses(t *testing.T) {
	// unknown models must report a miss so the meter falls back to estimation
	tk := NewTiktokenCounter()
	if n, ok := tk.Count("mystery-model", "one two three"); ok {
		t.Fatalf("expected a miss for unknown model, got %d", n)
	}
	// the miss is cached, a second lookup behaves the same
	if _, ok := tk.Count("mystery-model", "more text"); ok {
		t.Fatalf("cached lookup must stay a miss")
	}
	m := NewMeter(nil, tk, nil)
	if got := m.CountTokens("mystery-model", "one two three four"); got != 6 {
		t.Fatalf("expected estimation fallback 6, got %d", got)
	}
}

func TestCost(t *testing.T) {
	// claude-3-7-sonnet-latest: 0.003 in, 0.015 out per 1K
	got := Cost("claude-3-7-sonnet-latest", 2000, 1000)
	want := 0.021
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCostUnknownModelIsZero(t *testing.T) {
	if got := Cost("mystery-model", 10000, 10000); got != 0 {
		t.Fatalf("unknown model must cost 0, got %v", got)
	}
}

func TestCostRounding(t *testing.T) {
	got := Cost("gpt-4o-mini", 7, 13)
	if got <= 0 {
		t.Fatalf("expected non-zero cost, got %v", got)
	}
	scaled := got * 1e7
	if math.Abs(scaled-math.Round(scaled)) > 1e-6 {
		t.Fatalf("cost not rounded to 7 decimals: %v", got)
	}
}

func TestTrackPersistsInBackground(t *testing.T) {
	sink := &fakeSink{done: make(chan struct{})}
	m := NewMeter(sink, nil, nil)
	m.Track(Record{
		UserID:       "u1",
		ChatID:       "c1",
		ModelName:    "gpt-4o-mini",
		PromptTokens: 100, CompletionTokens: 50,
	})
	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("record was not persisted")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	rec := sink.recs[0]
	if rec.TotalTokens != 150 {
		t.Fatalf("expected total 150, got %d", rec.TotalTokens)
	}
	if rec.Provider != "openai" {
		t.Fatalf("expected provider inferred, got %s", rec.Provider)
	}
	if rec.Cost == 0 {
		t.Fatalf("expected cost computed")
	}
}

func TestTrackSinkFailureDoesNotPropagate(t *testing.T) {
	sink := &fakeSink{err: errors.New("db down"), done: make(chan struct{})}
	m := NewMeter(sink, nil, nil)
	// must not panic or block
	m.Track(Record{ModelName: "gpt-4o-mini", PromptTokens: 1, CompletionTokens: 1})
	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sink never invoked")
	}
}

func TestTrackNilSink(t *testing.T) {
	m := NewMeter(nil, nil, nil)
	m.Track(Record{ModelName: "gpt-4o-mini"})
}
