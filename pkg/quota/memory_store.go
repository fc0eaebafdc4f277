package quota

import (
	"sync"

	"github.com/fourotwo-xyz/web-scraper/pkg/identity"
)

// MemoryStore implements Store in memory.
// Thread-safe via Mutex; the whole check-and-increment runs under one lock.
type MemoryStore struct {
	mu       sync.Mutex
	consumed map[identity.CallerIdentity]int
	limit    int
}

// NewMemoryStore creates a store granting limit free calls per identity.
// A non-positive limit makes every call payable.
func NewMemoryStore(limit int) *MemoryStore {
	if limit < 0 {
		limit = 0
	}
	return &MemoryStore{
		consumed: make(map[identity.CallerIdentity]int),
		limit:    limit,
	}
}

func (s *MemoryStore) CheckAndConsume(id identity.CallerIdentity) Grant {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.consumed[id]
	if used >= s.limit {
		return Grant{Granted: false, Remaining: 0}
	}
	s.consumed[id] = used + 1
	return Grant{Granted: true, Remaining: s.limit - used - 1}
}

func (s *MemoryStore) Consumed(id identity.CallerIdentity) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed[id]
}

func (s *MemoryStore) Limit() int {
	return s.limit
}

// Identities returns the number of identities seen so far.
func (s *MemoryStore) Identities() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumed)
}
