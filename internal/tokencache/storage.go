// Package tokencache persists the current token set to durable storage on
// a best-effort basis. Storage is eventually consistent and shared with
// uncoordinated writers (other processes of the same user); the last write
// observed on read wins, and storage failures never propagate as fatal.
package tokencache

import (
	"errors"
	"sync"
)

// ErrNotFound reports an absent key.
var ErrNotFound = errors.New("tokencache: key not found")

// Storage is a string key-value store with entry-granularity atomicity and
// no cross-key transactions. Implementations may fail at any time (quota,
// unavailability); callers treat failures as degradation, not errors.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// MemoryStorage keeps entries in process memory. It backs tests and the
// memory-only degraded mode.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make(map[string]string)}
}

// Get implements Storage.
func (s *MemoryStorage) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Set implements Storage.
func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

// Remove implements Storage.
func (s *MemoryStorage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
