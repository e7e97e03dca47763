package store

import (
	"context"
	"maps"
	"sync"
)

// Tier is one storage location.
type Tier interface {
	Name() string
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetMany writes all values in one atomic step.
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// Snapshotter is implemented by tiers that can dump their contents.
type Snapshotter interface {
	Snapshot(ctx context.Context) (map[string]string, error)
}

// MemoryTier is an in-process tier.
type MemoryTier struct {
	name string
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryTier returns an empty MemoryTier.
func NewMemoryTier(name string) *MemoryTier {
	return &MemoryTier{name: name, data: make(map[string]string)}
}

func (m *MemoryTier) Name() string { return m.name }

func (m *MemoryTier) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryTier) SetMany(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.data, values)
	return nil
}

func (m *MemoryTier) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *MemoryTier) Snapshot(context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.data), nil
}
