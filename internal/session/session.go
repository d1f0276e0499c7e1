// Package session keeps per-session state for the analyst service. Every
// chat request is scoped to a session id; sessions never observe each other's
// dataset, model settings or history.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/analyst/internal/modelcfg"
)

// DefaultDatasetDescription describes the bundled housing dataset loaded when
// a session starts or resets.
const DefaultDatasetDescription = "Housing dataset with columns: price, area, bedrooms, bathrooms, stories, mainroad, guestroom, basement, hotwaterheating, airconditioning, parking, prefarea, furnishingstatus. Each row is one residential property listing."

// Message is one entry in a session's recent conversation window.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is the state held for one session. All Store methods hand out
// copies; callers never share memory with the store.
type Record struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id,omitempty"`
	ChatID         string            `json:"chat_id"`
	Dataset        string            `json:"dataset"`
	FrameName      string            `json:"frame_name"`
	Description    string            `json:"description"`
	ModelSettings  modelcfg.Settings `json:"model_settings"`
	RecentMessages []Message         `json:"recent_messages"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (r Record) clone() Record {
	out := r
	out.ModelSettings = r.ModelSettings.Clone()
	out.RecentMessages = append([]Message(nil), r.RecentMessages...)
	return out
}

// Defaults configures the state stamped onto new or reset sessions.
type Defaults struct {
	Dataset       string
	FrameName     string
	Description   string
	ModelSettings modelcfg.Settings
	MaxRecent     int
}

// Store is an in-memory session registry guarded by a single RWMutex. The
// working set is small (one record per live session) so a sharded map is not
// worth the complexity.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Record
	defaults Defaults
}

// NewStore builds a Store with the given defaults. MaxRecent falls back to 5.
func NewStore(d Defaults) *Store {
	if d.Dataset == "" {
		d.Dataset = "Housing.csv"
	}
	if d.FrameName == "" {
		d.FrameName = "df"
	}
	if d.Description == "" {
		d.Description = DefaultDatasetDescription
	}
	if d.MaxRecent <= 0 {
		d.MaxRecent = 5
	}
	return &Store{
		sessions: make(map[string]*Record),
		defaults: d,
	}
}

// GetOrCreate returns the session for id, creating it with default state when
// absent. Model settings are re-stamped from app defaults on every call so a
// config change reaches existing sessions on their next request.
func (s *Store) GetOrCreate(id string) (Record, error) {
	if strings.TrimSpace(id) == "" {
		return Record{}, fmt.Errorf("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		now := time.Now()
		rec = &Record{
			ID:          id,
			ChatID:      uuid.NewString(),
			Dataset:     s.defaults.Dataset,
			FrameName:   s.defaults.FrameName,
			Description: s.defaults.Description,
			CreatedAt:   now,
		}
		s.sessions[id] = rec
	}
	rec.ModelSettings = s.defaults.ModelSettings.Clone()
	rec.UpdatedAt = time.Now()
	return rec.clone(), nil
}

// UpdateDataset swaps the session's dataset handle and description.
func (s *Store) UpdateDataset(id, name, frameName, description string) (Record, error) {
	return s.mutate(id, func(rec *Record) error {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("dataset name is required")
		}
		rec.Dataset = name
		if frameName != "" {
			rec.FrameName = frameName
		}
		rec.Description = description
		return nil
	})
}

// ResetToDefault restores the default dataset, frame name and description.
// User binding and chat history survive a reset.
func (s *Store) ResetToDefault(id string) (Record, error) {
	return s.mutate(id, func(rec *Record) error {
		rec.Dataset = s.defaults.Dataset
		rec.FrameName = s.defaults.FrameName
		rec.Description = s.defaults.Description
		return nil
	})
}

// SetUser binds a resolved user id to the session.
func (s *Store) SetUser(id, userID string) (Record, error) {
	return s.mutate(id, func(rec *Record) error {
		rec.UserID = userID
		return nil
	})
}

// SetDefaultModelSettings replaces the app-level settings that GetOrCreate
// stamps onto every session. Sessions pick the change up on their next
// request.
func (s *Store) SetDefaultModelSettings(settings modelcfg.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults.ModelSettings = settings.Clone()
}

// DefaultModelSettings returns a copy of the current app-level settings.
func (s *Store) DefaultModelSettings() modelcfg.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults.ModelSettings.Clone()
}

// AppendMessage adds a message to the recent window, keeping only the
// trailing MaxRecent entries.
func (s *Store) AppendMessage(id, role, content string) (Record, error) {
	return s.mutate(id, func(rec *Record) error {
		rec.RecentMessages = append(rec.RecentMessages, Message{
			Role:      role,
			Content:   content,
			CreatedAt: time.Now(),
		})
		if n := len(rec.RecentMessages); n > s.defaults.MaxRecent {
			rec.RecentMessages = rec.RecentMessages[n-s.defaults.MaxRecent:]
		}
		return nil
	})
}

// Get returns a copy of the session without creating it.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Sweep drops every session idle for longer than maxIdle and reports how many
// were removed.
func (s *Store) Sweep(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.sessions {
		if rec.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) mutate(id string, fn func(*Record) error) (Record, error) {
	if strings.TrimSpace(id) == "" {
		return Record{}, fmt.Errorf("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return Record{}, fmt.Errorf("session %q not found", id)
	}
	if err := fn(rec); err != nil {
		return Record{}, err
	}
	rec.UpdatedAt = time.Now()
	return rec.clone(), nil
}
