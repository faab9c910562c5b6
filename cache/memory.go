// Package cache provides caching implementations for Tether check results.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/tether"
)

// Compile-time interface check.
var _ tether.Cache = (*Memory)(nil)

// Memory is an in-memory cache with TTL-based expiration. Entries hold only
// the boolean check outcome; the engine invalidates whole namespaces on
// every mutation, so a hit is always consistent with the store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	maxSize int
}

type entry struct {
	allowed   bool
	expiresAt time.Time
}

// MemoryOption configures the memory cache.
type MemoryOption func(*Memory)

// WithTTL sets the cache entry time-to-live.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = ttl }
}

// WithMaxSize sets the maximum number of cache entries.
func WithMaxSize(n int) MemoryOption {
	return func(m *Memory) { m.maxSize = n }
}

// NewMemory creates a new in-memory cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]*entry),
		ttl:     5 * time.Minute,
		maxSize: 10000,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a cached check outcome.
func (m *Memory) Get(_ context.Context, namespace string, req *tether.CheckRequest) (bool, bool) {
	key := cacheKey(namespace, req)
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return false, false
	}
	if time.Now().After(e.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return false, false
	}
	return e.allowed, true
}

// Set stores a check outcome in the cache.
func (m *Memory) Set(_ context.Context, namespace string, req *tether.CheckRequest, allowed bool) {
	key := cacheKey(namespace, req)
	m.mu.Lock()
	defer m.mu.Unlock()

	// Evict if at capacity.
	if len(m.entries) >= m.maxSize {
		m.evictExpired()
		if len(m.entries) >= m.maxSize {
			// Evict an arbitrary entry.
			m.evictOne()
		}
	}

	m.entries[key] = &entry{
		allowed:   allowed,
		expiresAt: time.Now().Add(m.ttl),
	}
}

// InvalidateNamespace removes all cached results for a namespace.
func (m *Memory) InvalidateNamespace(_ context.Context, namespace string) {
	prefix := namespace + ":"
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(m.entries, k)
		}
	}
}

func cacheKey(namespace string, req *tether.CheckRequest) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s",
		namespace,
		req.UserID,
		req.Permission,
		req.ResourceType,
		req.ResourceID,
	)
}

// evictExpired removes all expired entries. Must hold write lock.
func (m *Memory) evictExpired() {
	now := time.Now()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}

// evictOne removes one arbitrary entry. Must hold write lock.
func (m *Memory) evictOne() {
	for k := range m.entries {
		delete(m.entries, k)
		return
	}
}
