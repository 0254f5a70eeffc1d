package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/betting-core-api/internal/shared/db"
	"github.com/radieske/betting-core-api/pkg/contracts/events"
)

// fakeReader entrega as mensagens em ordem e cancela o contexto quando acabam
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		f.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

type fakeStore struct {
	failures int   // falhas antes de aceitar
	reject   error // devolvido para entity "bad"
	seen     map[string]bool
	rows     []events.IngestBatch
}

func (f *fakeStore) Insert(_ context.Context, e events.IngestBatch) (bool, error) {
	if e.Entity == "bad" && f.reject != nil {
		return false, f.reject
	}
	if f.failures > 0 {
		f.failures--
		return false, errors.New("connection refused")
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	k := e.RequestID + "/" + e.Entity
	if e.RequestID != "" && f.seen[k] {
		return false, nil
	}
	f.seen[k] = true
	f.rows = append(f.rows, e)
	return true, nil
}

type fakeCache struct{ last map[string]events.IngestBatch }

func (f *fakeCache) SetLast(_ context.Context, e events.IngestBatch) error {
	f.last[e.Entity] = e
	return nil
}

func message(t *testing.T, offset int64, e events.IngestBatch) kafka.Message {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Key: []byte(e.Entity), Value: b}
}

func TestProcessor_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := events.IngestBatch{Entity: "odds", Count: 2, Inserted: 2, RequestID: "r1"}
	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		message(t, 1, first),
		{Offset: 2, Value: []byte("not json")},
		message(t, 3, first), // reentrega
		message(t, 4, events.IngestBatch{Entity: "predictions", Count: 1, Inserted: 1, RequestID: "r2"}),
	}}
	store := &fakeStore{failures: 2}
	c := &fakeCache{last: map[string]events.IngestBatch{}}

	var persisted, duplicates int
	stages := map[string]int{}
	p := &Processor{
		Log:         zap.NewNop(),
		Reader:      reader,
		Store:       store,
		Cache:       c,
		RetryDelay:  time.Millisecond,
		OnPersist:   func() { persisted++ },
		OnDuplicate: func() { duplicates++ },
		OnError:     func(stage string) { stages[stage]++ },
	}

	err := p.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committed)
	require.Len(t, store.rows, 2)
	assert.Equal(t, "r1", store.rows[0].RequestID)
	assert.Equal(t, "predictions", store.rows[1].Entity)
	assert.Equal(t, 2, persisted)
	assert.Equal(t, 1, duplicates)
	assert.Equal(t, map[string]int{"db_insert": 2, "decode": 1}, stages)
	assert.Equal(t, 1, c.last["predictions"].Count)
}

func TestProcessor_StopsRetryingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		message(t, 7, events.IngestBatch{Entity: "odds", RequestID: "r1"}),
	}}
	p := &Processor{
		Log:        zap.NewNop(),
		Reader:     reader,
		Store:      &fakeStore{failures: 1 << 30},
		RetryDelay: time.Millisecond,
		OnError:    func(string) { cancel() },
	}

	err := p.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reader.committed, "sem gravação não há commit")
}

func TestProcessor_SkipsRowsTheDatabaseRejects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		message(t, 1, events.IngestBatch{Entity: "bad", RequestID: "r1"}),
		message(t, 2, events.IngestBatch{Entity: "odds", RequestID: "r2"}),
	}}
	store := &fakeStore{reject: &db.ConstraintError{Kind: db.Check, Table: "ingest_audit"}}
	stages := map[string]int{}
	p := &Processor{
		Log:        zap.NewNop(),
		Reader:     reader,
		Store:      store,
		RetryDelay: time.Millisecond,
		OnError:    func(stage string) { stages[stage]++ },
	}

	err := p.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{1, 2}, reader.committed, "mensagem rejeitada não trava a partição")
	require.Len(t, store.rows, 1)
	assert.Equal(t, "odds", store.rows[0].Entity)
	assert.Equal(t, map[string]int{"db_rejected": 1}, stages)
}
