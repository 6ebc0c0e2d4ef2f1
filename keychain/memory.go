package keychain

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory. It backs tests and
// ephemeral clients.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Key]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]string)}
}

func (m *MemoryStore) Save(ctx context.Context, key Key, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	m.entries[key] = secret
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, key Key) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len returns the number of stored entries
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ Store = (*MemoryStore)(nil)
