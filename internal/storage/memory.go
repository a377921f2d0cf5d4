package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// memoryStore is a map-backed Store for tests and ephemeral runs.
type memoryStore struct {
	mu       sync.RWMutex
	polls    map[string]PollRecord
	order    []string // poll ids in insertion order
	dedup    map[string]time.Time
	settings map[string]string
	closed   bool
}

func NewMemory() Store {
	return &memoryStore{
		polls:    map[string]PollRecord{},
		dedup:    map[string]time.Time{},
		settings: map[string]string{},
	}
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) SavePoll(_ context.Context, p PollRecord) error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("poll id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	if _, ok := m.polls[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	m.polls[p.ID] = p.Clone()
	return nil
}

func (m *memoryStore) ActivePoll(_ context.Context) (PollRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return PollRecord{}, false, ErrDisabled
	}
	for i := len(m.order) - 1; i >= 0; i-- {
		p := m.polls[m.order[i]]
		if p.Status != PollStatusClosed {
			return p.Clone(), true, nil
		}
	}
	return PollRecord{}, false, nil
}

func (m *memoryStore) Poll(_ context.Context, id string) (PollRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return PollRecord{}, false, ErrDisabled
	}
	p, ok := m.polls[id]
	if !ok {
		return PollRecord{}, false, nil
	}
	return p.Clone(), true, nil
}

func (m *memoryStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	m.dedup[key] = until
	return nil
}

func (m *memoryStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return time.Time{}, false, ErrDisabled
	}
	until, ok := m.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (m *memoryStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrDisabled
	}
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *memoryStore) SetSetting(_ context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("setting key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	m.settings[key] = value
	return nil
}

func (m *memoryStore) AllSettings(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrDisabled
	}
	out := make(map[string]string, len(m.settings))
	for k, v := range m.settings {
		out[k] = v
	}
	return out, nil
}
