// Package memory provides an in-process cache backend for development and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/fulltext-fetcher/internal/cache"
)

type entry struct {
	value    []byte
	revision uint64
}

// KV is a map-backed cache.KV with per-key revisions.
type KV struct {
	mu   sync.RWMutex
	data map[string]entry
	seq  uint64
}

// New creates an empty KV.
func New() *KV {
	return &KV{data: make(map[string]entry)}
}

// Get returns a copy of the stored value.
func (s *KV) Get(_ context.Context, key string) (cache.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	if !ok {
		return cache.Entry{}, cache.ErrKeyNotFound
	}
	return cache.Entry{Value: append([]byte(nil), e.value...), Revision: e.revision}, nil
}

// Create stores value if key is absent.
func (s *KV) Create(_ context.Context, key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return 0, cache.ErrConflict
	}
	return s.storeLocked(key, value), nil
}

// Update stores value if key is still at revision.
func (s *KV) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || e.revision != revision {
		return 0, cache.ErrConflict
	}
	return s.storeLocked(key, value), nil
}

// Set overwrites key unconditionally.
func (s *KV) Set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeLocked(key, value)
}

// Len reports the number of stored keys.
func (s *KV) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *KV) storeLocked(key string, value []byte) uint64 {
	s.seq++
	s.data[key] = entry{value: append([]byte(nil), value...), revision: s.seq}
	return s.seq
}
