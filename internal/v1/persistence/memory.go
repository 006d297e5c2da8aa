// Package persistence provides the adapters behind the store's opaque
// key-value persistence boundary: an in-memory adapter for development and
// tests, a Redis blob adapter, and a Postgres adapter using the relational
// reference layout.
package persistence

import (
	"context"
	"sync"

	"github.com/tumbledice/backend/go/internal/v1/types"
)

// MemoryAdapter keeps the last saved aggregate in process memory.
type MemoryAdapter struct {
	mu   sync.Mutex
	data *types.StoreData

	// SaveCount is exposed for tests asserting persistence triggers.
	SaveCount int
}

// NewMemoryAdapter returns an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{}
}

// Load returns a deep copy of the last saved aggregate, or nil when nothing
// has been saved yet.
func (m *MemoryAdapter) Load(_ context.Context) (*types.StoreData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return m.data.Clone(), nil
}

// Save stores a deep copy of the aggregate.
func (m *MemoryAdapter) Save(_ context.Context, data *types.StoreData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data.Clone()
	m.SaveCount++
	return nil
}

// Ping always succeeds.
func (m *MemoryAdapter) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryAdapter) Close() error { return nil }

// Seed replaces the saved aggregate directly. Test helper.
func (m *MemoryAdapter) Seed(data *types.StoreData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data.Clone()
}
