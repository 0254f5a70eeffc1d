package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	segkafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/betting-core-api/pkg/contracts/events"
)

type fakeWriter struct {
	msgs []segkafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...segkafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestEventPublisher_PublishIngestBatch(t *testing.T) {
	w := &fakeWriter{}
	p := NewEventPublisher(w, nil, nil)

	err := p.PublishIngestBatch(context.Background(), events.IngestBatch{Entity: "odds", Count: 2, Inserted: 1, Updated: 1, Status: "ok"})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "odds", string(w.msgs[0].Key))
	var got events.IngestBatch
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, 2, got.Count)

	// sem writer de bets: no-op
	assert.NoError(t, p.PublishBetRecorded(context.Background(), events.BetRecorded{BetID: "b1"}))
}

func TestEventPublisher_PropagatesErrors(t *testing.T) {
	p := NewEventPublisher(nil, &fakeWriter{err: errors.New("broker down")}, nil)

	err := p.PublishBetRecorded(context.Background(), events.BetRecorded{BetID: "b1"})
	assert.EqualError(t, err, "broker down")

	var nilPub *EventPublisher
	assert.NoError(t, nilPub.PublishIngestBatch(context.Background(), events.IngestBatch{}))
}

func TestRedisBroadcaster_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "odds_ticks_broadcast")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx) // confirmação da inscrição
	require.NoError(t, err)

	b := NewRedisBroadcaster(rdb, "odds_ticks_broadcast")
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, b.Publish(ctx, []events.OddsTick{
		{MatchID: "m1", BookmakerID: "bk1", SelectionID: "s1", Price: 2.0, CapturedAt: at},
		{MatchID: "m2", BookmakerID: "bk1", SelectionID: "s1", Price: 3.0, CapturedAt: at},
	}))

	for _, want := range []string{"m1", "m2"} {
		select {
		case msg := <-sub.Channel():
			var tick events.OddsTick
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &tick))
			assert.Equal(t, want, tick.MatchID)
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %s not received", want)
		}
	}

	assert.NoError(t, b.Publish(ctx, nil))
}
