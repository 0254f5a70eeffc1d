package ratelimit

import (
	"context"
	"sync"
)

type memEntry struct {
	state     State
	expiresMs int64
}

// MemoryLimiter implementa o mesmo algoritmo em processo (mutex + map).
// Serve como dublê de teste; não coordena múltiplas instâncias.
type MemoryLimiter struct {
	mu      sync.Mutex
	clock   Clock
	buckets map[string]memEntry
}

func NewMemoryLimiter(clock Clock) *MemoryLimiter {
	return &MemoryLimiter{clock: clock, buckets: make(map[string]memEntry)}
}

func (m *MemoryLimiter) Allow(ctx context.Context, key string, capacity int, refillPerSecond float64, cost int) (Result, error) {
	if capacity <= 0 || refillPerSecond <= 0 {
		return Result{}, ErrInvalidPolicy
	}
	if cost < 1 {
		cost = 1
	}
	now, err := m.clock.NowMs(ctx)
	if err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.buckets[key]
	if ok && now >= e.expiresMs {
		ok = false // expirou como a chave Redis expiraria
	}
	st, res := take(e.state, ok, now, capacity, refillPerSecond, cost)
	m.buckets[key] = memEntry{state: st, expiresMs: now + res.Reset*1000}
	return res, nil
}
