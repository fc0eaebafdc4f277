package x402

import (
	"context"
	"sync"
	"time"
)

// ReplayGuard makes sure one payment payload unlocks at most one request.
type ReplayGuard interface {
	// Claim marks key as used. It returns false when key was already claimed
	// within ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops a claim so the payload can be presented again.
	Release(ctx context.Context, key string) error
}

// MemoryReplayGuard implements ReplayGuard in memory.
type MemoryReplayGuard struct {
	mu      sync.Mutex
	claimed map[string]time.Time // key -> expiry
	now     func() time.Time
}

// NewMemoryReplayGuard creates an empty in-memory guard.
func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{
		claimed: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (g *MemoryReplayGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.claimed[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.claimed[key] = now.Add(ttl)

	// Opportunistic sweep keeps the map bounded without a background goroutine.
	if len(g.claimed) > 4096 {
		for k, exp := range g.claimed {
			if !now.Before(exp) {
				delete(g.claimed, k)
			}
		}
	}
	return true, nil
}

func (g *MemoryReplayGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, key)
	return nil
}
