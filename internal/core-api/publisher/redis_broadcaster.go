package publisher

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/betting-core-api/pkg/contracts/events"
)

// RedisBroadcaster envia ticks de odds ao canal Pub/Sub lido pelo hub WebSocket
type RedisBroadcaster struct {
	r       redis.Cmdable
	channel string
}

func NewRedisBroadcaster(r redis.Cmdable, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{r: r, channel: channel}
}

// Publish manda todos os ticks em um único pipeline
func (b *RedisBroadcaster) Publish(ctx context.Context, ticks []events.OddsTick) error {
	if b == nil || b.r == nil || len(ticks) == 0 {
		return nil
	}
	_, err := b.r.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, t := range ticks {
			payload, err := json.Marshal(t)
			if err != nil {
				return err
			}
			p.Publish(ctx, b.channel, payload)
		}
		return nil
	})
	return err
}
