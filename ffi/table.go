package ffi

import (
	"sync"
	"sync/atomic"
)

// table is a thread-safe handle table. Handles start at 1 so that the zero
// handle never names a live entry.
type table[T any] struct {
	mu      sync.RWMutex
	handles map[uint32]T
	nextID  atomic.Uint32
}

func newTable[T any]() *table[T] {
	return &table[T]{handles: make(map[uint32]T)}
}

func (m *table[T]) add(v T) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle := m.nextID.Add(1)
	m.handles[handle] = v
	return handle
}

func (m *table[T]) get(handle uint32) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.handles[handle]
	return v, ok
}

func (m *table[T]) remove(handle uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, handle)
}
