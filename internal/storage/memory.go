package storage

import (
	"strings"
	"sync"
)

// MemoryKV is an in-memory key/value store. A positive quota caps the total
// number of value bytes held; writes past it fail with ErrQuotaExceeded.
type MemoryKV struct {
	entries map[string][]byte
	used    int
	quota   int
	mu      sync.RWMutex

	// FailSets forces the next N Set calls to fail with ErrQuotaExceeded (for testing).
	FailSets int
}

// NewMemoryKV creates a new in-memory store. quota <= 0 means unbounded.
func NewMemoryKV(quota int) *MemoryKV {
	return &MemoryKV{
		entries: make(map[string][]byte),
		quota:   quota,
	}
}

// Get returns a copy of the stored value.
func (m *MemoryKV) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a copy of value.
func (m *MemoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSets > 0 {
		m.FailSets--
		return ErrQuotaExceeded
	}

	old := len(m.entries[key])
	if m.quota > 0 && m.used-old+len(value) > m.quota {
		return ErrQuotaExceeded
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = stored
	m.used += len(value) - old
	return nil
}

// Remove deletes key.
func (m *MemoryKV) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.entries[key]; ok {
		m.used -= len(v)
		delete(m.entries, key)
	}
	return nil
}

// Keys lists keys with the given prefix.
func (m *MemoryKV) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Used returns the number of value bytes currently stored.
func (m *MemoryKV) Used() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

// Reset clears all entries (for testing).
func (m *MemoryKV) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string][]byte)
	m.used = 0
}
