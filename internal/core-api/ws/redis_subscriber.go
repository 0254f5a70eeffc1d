package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/betting-core-api/pkg/contracts/events"
)

// StartRedisSubscriber escuta o canal Pub/Sub e repassa cada tick ao Hub.
// A inscrição é confirmada antes de retornar; a goroutine termina com o ctx.
func StartRedisSubscriber(ctx context.Context, r *redis.Client, channel string, hub *Hub, log *zap.Logger) error {
	sub := r.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	ch := sub.Channel()

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var tick events.OddsTick
				if err := json.Unmarshal([]byte(msg.Payload), &tick); err != nil {
					log.Warn("ws subscriber unmarshal error", zap.Error(err))
					continue
				}
				hub.Broadcast(tick)
			}
		}
	}()
	return nil
}
