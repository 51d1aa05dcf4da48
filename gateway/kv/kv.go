// Package kv provides the synchronous key-value store tiers the gateway keeps
// credential copies in. The interface mirrors the flat string storage the web
// client uses, so the credential sources can be layered over any of them.
package kv

import (
	"sort"
	"sync"

	"github.com/gravitational/trace"
	"github.com/peterbourgon/diskv/v3"
)

// Store is a flat synchronous string store.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool)
	// Set stores the value under key, overwriting any previous value.
	Set(key, value string) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(key string) error
	// Keys lists all keys currently present.
	Keys() []string
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// DiskStore is a Store persisted with diskv under a base directory.
type DiskStore struct {
	dv *diskv.Diskv
}

// diskCacheSizeMax caps the diskv in-memory read cache.
const diskCacheSizeMax = 1024 * 64

// NewDiskStore creates a disk-backed store rooted at dir.
func NewDiskStore(dir string) *DiskStore {
	flatTransform := func(s string) []string { return []string{} }

	return &DiskStore{dv: diskv.New(diskv.Options{
		BasePath:     dir,
		Transform:    flatTransform,
		CacheSizeMax: diskCacheSizeMax,
	})}
}

func (s *DiskStore) Get(key string) (string, bool) {
	payload, err := s.dv.Read(key)
	if err != nil {
		return "", false
	}
	return string(payload), true
}

func (s *DiskStore) Set(key, value string) error {
	return trace.Wrap(s.dv.Write(key, []byte(value)))
}

func (s *DiskStore) Delete(key string) error {
	if !s.dv.Has(key) {
		return nil
	}
	return trace.Wrap(s.dv.Erase(key))
}

func (s *DiskStore) Keys() []string {
	var keys []string
	for key := range s.dv.Keys(nil) {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
