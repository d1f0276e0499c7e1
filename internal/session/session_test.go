package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/analyst/internal/modelcfg"
)

func newTestStore() *Store {
	return NewStore(Defaults{
		ModelSettings: modelcfg.Settings{Provider: "openai", Model: "gpt-4o-mini", Temperature: 0.7},
		MaxRecent:     5,
	})
}

func TestGetOrCreateDefaults(t *testing.T) {
	st := newTestStore()
	rec, err := st.GetOrCreate("s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Dataset != "Housing.csv" || rec.FrameName != "df" {
		t.Fatalf("unexpected defaults: %s/%s", rec.Dataset, rec.FrameName)
	}
	if rec.ChatID == "" {
		t.Fatalf("expected chat id assigned")
	}
	if rec.ModelSettings.Model != "gpt-4o-mini" {
		t.Fatalf("expected default model settings")
	}
}

func TestGetOrCreateEmptyID(t *testing.T) {
	st := newTestStore()
	if _, err := st.GetOrCreate(" "); err == nil {
		t.Fatalf("expected error for blank session id")
	}
}

func TestGetOrCreateRestampsModelSettings(t *testing.T) {
	st := newTestStore()
	rec, err := st.GetOrCreate("s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ModelSettings.Model != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %s", rec.ModelSettings.Model)
	}

	st.SetDefaultModelSettings(modelcfg.Settings{Provider: "anthropic", Model: "claude-3-5-haiku-latest"})
	rec, err = st.GetOrCreate("s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ModelSettings.Model != "claude-3-5-haiku-latest" {
		t.Fatalf("expected settings restamped from updated defaults, got %s", rec.ModelSettings.Model)
	}
}

func TestUpdateAndResetDataset(t *testing.T) {
	st := newTestStore()
	if _, err := st.GetOrCreate("s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, err := st.UpdateDataset("s1", "sales.csv", "sales", "quarterly sales numbers")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Dataset != "sales.csv" || rec.FrameName != "sales" {
		t.Fatalf("dataset not updated: %+v", rec)
	}

	rec, err = st.ResetToDefault("s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Dataset != "Housing.csv" || rec.FrameName != "df" || rec.Description != DefaultDatasetDescription {
		t.Fatalf("reset did not restore defaults: %+v", rec)
	}
}

func TestUpdateDatasetUnknownSession(t *testing.T) {
	st := newTestStore()
	if _, err := st.UpdateDataset("missing", "x.csv", "", ""); err == nil {
		t.Fatalf("expected error for unknown session")
	}
}

func TestSetUserSurvivesReset(t *testing.T) {
	st := newTestStore()
	if _, err := st.GetOrCreate("s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := st.SetUser("s1", "u42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, err := st.ResetToDefault("s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.UserID != "u42" {
		t.Fatalf("user binding lost on reset")
	}
}

func TestAppendMessageWindow(t *testing.T) {
	st := newTestStore()
	if _, err := st.GetOrCreate("s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var rec Record
	var err error
	for i := 0; i < 8; i++ {
		rec, err = st.AppendMessage("s1", "user", fmt.Sprintf("q%d", i))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(rec.RecentMessages) != 5 {
		t.Fatalf("expected window of 5, got %d", len(rec.RecentMessages))
	}
	if rec.RecentMessages[0].Content != "q3" || rec.RecentMessages[4].Content != "q7" {
		t.Fatalf("expected trailing window, got %+v", rec.RecentMessages)
	}
}

func TestRecordsAreCopies(t *testing.T) {
	st := newTestStore()
	rec, _ := st.GetOrCreate("s1")
	rec.Dataset = "tampered.csv"
	rec.ModelSettings.Model = "tampered"

	fresh, ok := st.Get("s1")
	if !ok {
		t.Fatalf("session missing")
	}
	if fresh.Dataset != "Housing.csv" || fresh.ModelSettings.Model != "gpt-4o-mini" {
		t.Fatalf("store state leaked through returned record: %+v", fresh)
	}
}

func TestSessionIsolation(t *testing.T) {
	st := newTestStore()
	st.GetOrCreate("a")
	st.GetOrCreate("b")
	if _, err := st.UpdateDataset("a", "a.csv", "", "a data"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recB, _ := st.Get("b")
	if recB.Dataset != "Housing.csv" {
		t.Fatalf("session b observed session a's dataset")
	}
}

func TestConcurrentAccess(t *testing.T) {
	st := newTestStore()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i%4)
			if _, err := st.GetOrCreate(id); err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			if _, err := st.AppendMessage(id, "user", "hello"); err != nil {
				t.Errorf("AppendMessage: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if st.Len() != 4 {
		t.Fatalf("expected 4 sessions, got %d", st.Len())
	}
}

func TestSweepDropsIdleSessions(t *testing.T) {
	st := newTestStore()
	if _, err := st.GetOrCreate("stale"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := st.GetOrCreate("fresh"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st.mu.Lock()
	st.sessions["stale"].UpdatedAt = time.Now().Add(-2 * time.Hour)
	st.mu.Unlock()

	if n := st.Sweep(time.Hour); n != 1 {
		t.Fatalf("expected 1 swept session, got %d", n)
	}
	if _, ok := st.Get("stale"); ok {
		t.Fatalf("stale session survived sweep")
	}
	if _, ok := st.Get("fresh"); !ok {
		t.Fatalf("fresh session swept")
	}
}

func TestSweepDisabledWithZeroTTL(t *testing.T) {
	st := newTestStore()
	if _, err := st.GetOrCreate("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := st.Sweep(0); n != 0 {
		t.Fatalf("expected no sweep with zero ttl, got %d", n)
	}
}
