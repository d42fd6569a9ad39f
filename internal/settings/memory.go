package settings

import (
	"context"
	"sync"
)

// Memory is an in-process settings store used when no database is
// configured. Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	users map[string]Settings
}

// NewMemory creates an empty in-memory settings store.
func NewMemory() *Memory {
	return &Memory{users: make(map[string]Settings)}
}

func (m *Memory) Get(_ context.Context, userID string) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.users[userID]; ok {
		return s, nil
	}
	return Default(), nil
}

func (m *Memory) Update(_ context.Context, userID string, patch Patch) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.users[userID]
	if !ok {
		s = Default()
	}
	s = patch.Apply(s)
	m.users[userID] = s
	return s, nil
}

var _ Store = (*Memory)(nil)
