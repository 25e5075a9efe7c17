package progress

import (
	"context"
	"sync"
)

// MemoryBus delivers events to in-process subscribers only. Used by tests
// and single-node deployments without Redis.
type MemoryBus struct {
	mu   sync.RWMutex
	subs []func(Event)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	subs := make([]func(Event), len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
	return nil
}

func (b *MemoryBus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}
