package workflow

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard is an in-process DuplicateGuard for single-node deployments
// and tests. Multi-node deployments use the Redis-backed guard instead.
type MemoryGuard struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		held:  map[string]time.Time{},
		clock: time.Now,
	}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock()
	if expiry, ok := g.held[key]; ok && expiry.After(now) {
		return false, nil
	}
	g.held[key] = now.Add(ttl)
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
	return nil
}
