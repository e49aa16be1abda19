package devicecache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	val     []byte
	expires time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	gens    map[string]uint64
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry), gens: make(map[string]uint64), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, deviceID, key string) (uint64, []byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.gens[deviceID]
	e, ok := s.entries[key]
	if !ok {
		return gen, nil, false, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, key)
		return gen, nil, false, nil
	}
	return gen, e.val, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	// piggyback expiry sweep on writes
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = entry{val: val, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Generation(_ context.Context, deviceID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[deviceID], nil
}

func (s *MemoryStore) Invalidate(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gens[deviceID]++
	prefix := deviceID + ":"
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
