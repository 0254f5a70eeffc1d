package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/betting-core-api/internal/shared/db"
	"github.com/radieske/betting-core-api/pkg/contracts/events"
)

// MessageReader é o subconjunto do *kafka.Reader usado pelo processor (commit manual)
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Store interface {
	Insert(ctx context.Context, e events.IngestBatch) (bool, error)
}

type Cache interface {
	SetLast(ctx context.Context, e events.IngestBatch) error
}

// Processor consome eventos de ingestão do Kafka e grava a auditoria no banco.
// O offset só é commitado depois da gravação: entrega at-least-once.
type Processor struct {
	Log    *zap.Logger
	Reader MessageReader
	Store  Store
	Cache  Cache // opcional

	RetryDelay time.Duration // espera entre tentativas de gravação; 0 => 500ms

	OnConsumed  func()       // métricas (counter++)
	OnPersist   func()       // métricas
	OnDuplicate func()       // reentrega já gravada
	OnError     func(string) // métricas por fase
}

// Run inicia o loop principal de consumo; retorna quando o contexto é cancelado
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka fetch failed", zap.Error(err))
			p.failed("read")
			if !p.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		if p.OnConsumed != nil {
			p.OnConsumed()
		}

		var ev events.IngestBatch
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.Entity == "" {
			// mensagem inválida nunca vai gravar: segue adiante
			p.Log.Warn("invalid message", zap.Error(err), zap.Int64("offset", m.Offset))
			p.failed("decode")
			if err := p.commit(ctx, m); err != nil {
				return err
			}
			continue
		}

		if err := p.persist(ctx, ev); err != nil {
			return err
		}

		if p.Cache != nil {
			if err := p.Cache.SetLast(ctx, ev); err != nil {
				p.Log.Warn("redis set failed", zap.Error(err))
				p.failed("cache")
			}
		}

		if err := p.commit(ctx, m); err != nil {
			return err
		}
	}
}

// persist tenta gravar até conseguir; só desiste com o contexto cancelado.
// Violação de constraint não some com retry: a mensagem é descartada (e commitada).
func (p *Processor) persist(ctx context.Context, ev events.IngestBatch) error {
	for {
		created, err := p.Store.Insert(ctx, ev)
		if err == nil {
			switch {
			case created && p.OnPersist != nil:
				p.OnPersist()
			case !created && p.OnDuplicate != nil:
				p.OnDuplicate()
			}
			return nil
		}
		var ce *db.ConstraintError
		if errors.As(err, &ce) {
			p.Log.Error("audit row rejected by database, skipping",
				zap.Error(err), zap.String("entity", ev.Entity), zap.String("request_id", ev.RequestID))
			p.failed("db_rejected")
			return nil
		}
		p.Log.Warn("db insert failed",
			zap.Error(err), zap.String("entity", ev.Entity), zap.String("request_id", ev.RequestID))
		p.failed("db_insert")
		if !p.sleep(ctx) {
			return ctx.Err()
		}
	}
}

func (p *Processor) commit(ctx context.Context, m kafka.Message) error {
	if err := p.Reader.CommitMessages(ctx, m); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// sem commit a mensagem volta; o insert idempotente absorve a reentrega
		p.Log.Warn("kafka commit failed", zap.Error(err), zap.Int64("offset", m.Offset))
		p.failed("commit")
	}
	return nil
}

func (p *Processor) failed(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}

func (p *Processor) sleep(ctx context.Context) bool {
	d := p.RetryDelay
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
