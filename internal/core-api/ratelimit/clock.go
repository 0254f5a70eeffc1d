package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Clock fornece o "agora" em ms compartilhado por todas as instâncias da API
type Clock interface {
	NowMs(ctx context.Context) (int64, error)
}

type timeSource interface {
	Time(ctx context.Context) *redis.TimeCmd
}

// RedisClock usa o TIME do próprio Redis, evitando skew entre nós da API
type RedisClock struct {
	rdb timeSource
}

func NewRedisClock(rdb timeSource) *RedisClock { return &RedisClock{rdb: rdb} }

func (c *RedisClock) NowMs(ctx context.Context) (int64, error) {
	t, err := c.rdb.Time(ctx).Result()
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// ManualClock é um relógio controlado pelo teste
type ManualClock struct {
	mu sync.Mutex
	ms int64
}

func NewManualClock(startMs int64) *ManualClock { return &ManualClock{ms: startMs} }

func (c *ManualClock) NowMs(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms, nil
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.ms += d.Milliseconds()
	c.mu.Unlock()
}
