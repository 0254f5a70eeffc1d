package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/betting-core-api/pkg/contracts/events"
)

// RedisCache guarda o último lote auditado por entidade, para consulta rápida de operação
type RedisCache struct {
	Client redis.Cmdable
	TTL    time.Duration
}

func NewRedisCache(c redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{Client: c, TTL: ttl}
}

func key(entity string) string { return "ingest:last:" + entity }

// SetLast sobrescreve o resumo da entidade com TTL
func (r *RedisCache) SetLast(ctx context.Context, e events.IngestBatch) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, key(e.Entity), b, r.TTL).Err()
}

// Last devolve o último lote da entidade; ok=false quando expirou ou nunca existiu
func (r *RedisCache) Last(ctx context.Context, entity string) (events.IngestBatch, bool, error) {
	var e events.IngestBatch
	b, err := r.Client.Get(ctx, key(entity)).Bytes()
	if err == redis.Nil {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	if err := json.Unmarshal(b, &e); err != nil {
		return e, false, err
	}
	return e, true, nil
}
