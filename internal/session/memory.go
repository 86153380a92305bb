// ABOUTME: In-process TTL store with size-bounded, insertion-ordered eviction.
// ABOUTME: A background goroutine sweeps expired entries until Close.

package session

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the memory store when no size is given.
const DefaultMaxEntries = 10000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	element   *list.Element
}

// Memory is a Store kept in process memory. Writes beyond maxEntries evict the
// oldest entry; the linked list keeps eviction O(1).
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	order      *list.List // keys, oldest at front
	maxEntries int
	now        func() time.Time
	done       chan struct{}
	closed     bool
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMaxEntries bounds the number of live entries.
func WithMaxEntries(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxEntries = n
		}
	}
}

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates a memory store and starts its sweeper.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries:    make(map[string]*memoryEntry),
		order:      list.New(),
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweep()
	return m
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
	return nil
}

// SetNX implements Store. The check and the write happen under one lock.
func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && m.now().Before(e.expiresAt) {
		return false, nil
	}
	m.setLocked(key, value, ttl)
	return true, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Ping implements Store.
func (m *Memory) Ping(_ context.Context) error {
	return nil
}

// Len returns the number of stored entries, expired ones included until swept.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// setLocked must be called with mu held.
func (m *Memory) setLocked(key string, value []byte, ttl time.Duration) {
	stored := make([]byte, len(value))
	copy(stored, value)
	expiresAt := m.now().Add(ttl)

	if e, exists := m.entries[key]; exists {
		e.value = stored
		e.expiresAt = expiresAt
		m.order.MoveToBack(e.element)
		return
	}

	if len(m.entries) >= m.maxEntries {
		m.evictOldest()
	}

	elem := m.order.PushBack(key)
	m.entries[key] = &memoryEntry{value: stored, expiresAt: expiresAt, element: elem}
}

// evictOldest must be called with mu held.
func (m *Memory) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.entries, key)
}

func (m *Memory) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.removeExpired()
		case <-m.done:
			return
		}
	}
}

func (m *Memory) removeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			m.order.Remove(e.element)
			delete(m.entries, key)
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}
