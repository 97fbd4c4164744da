// Package store defines the key/value persistence surface used by the budget
// ledger, and an in-memory implementation.
package store

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("store: key not found")

// Reader reads opaque values by key.
type Reader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Store is a Reader that can also replace the value under a key.
type Store interface {
	Reader
	Update(ctx context.Context, key string, value []byte) error
}

// Memory is a process-local Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

// Update stores a copy of value under key.
func (m *Memory) Update(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = slices.Clone(value)
	return nil
}
