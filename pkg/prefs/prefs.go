// Package prefs persists dashboard display preferences.
//
// Preferences are read when a dashboard request starts and written only on
// an explicit change, so stores need no transactions.
package prefs

import (
	"context"
	"sync"
)

// Preferences are per-user display flags.
type Preferences struct {
	SortAscending bool `json:"sort_ascending"`
	ShowTable     bool `json:"show_table"`
	Pinned        bool `json:"pinned"`
}

// Default returns the preferences of a user who never changed anything.
func Default() Preferences {
	return Preferences{SortAscending: true, ShowTable: true}
}

// Store loads and saves preferences by key. Load returns Default() for an
// unknown key.
type Store interface {
	Load(ctx context.Context, key string) (Preferences, error)
	Save(ctx context.Context, key string, p Preferences) error
}

// MemoryStore keeps preferences for the life of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]Preferences
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prefs: make(map[string]Preferences)}
}

func (s *MemoryStore) Load(ctx context.Context, key string) (Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.prefs[key]; ok {
		return p, nil
	}
	return Default(), nil
}

func (s *MemoryStore) Save(ctx context.Context, key string, p Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[key] = p
	return nil
}
