package publisher

import (
	"context"

	"go.uber.org/zap"

	"github.com/radieske/betting-core-api/internal/shared/kafka"
	"github.com/radieske/betting-core-api/pkg/contracts/events"
)

// EventPublisher publica os eventos de domínio do core-api no Kafka.
// Writers nil desligam a publicação do tópico correspondente.
type EventPublisher struct {
	ingest kafka.MessageWriter
	bets   kafka.MessageWriter
	log    *zap.Logger
}

func NewEventPublisher(ingest, bets kafka.MessageWriter, log *zap.Logger) *EventPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventPublisher{ingest: ingest, bets: bets, log: log}
}

// PublishIngestBatch usa a entidade como chave: lotes da mesma entidade ficam na mesma partição
func (p *EventPublisher) PublishIngestBatch(ctx context.Context, e events.IngestBatch) error {
	if p == nil || p.ingest == nil {
		return nil
	}
	if err := kafka.WriteJSON(ctx, p.ingest, e.Entity, e); err != nil {
		p.log.Error("failed to publish ingest batch", zap.String("entity", e.Entity), zap.Error(err))
		return err
	}
	p.log.Debug("published ingest batch", zap.String("entity", e.Entity), zap.Int("count", e.Count))
	return nil
}

// PublishBetRecorded usa o bet_id como chave
func (p *EventPublisher) PublishBetRecorded(ctx context.Context, e events.BetRecorded) error {
	if p == nil || p.bets == nil {
		return nil
	}
	if err := kafka.WriteJSON(ctx, p.bets, e.BetID, e); err != nil {
		p.log.Error("failed to publish bet recorded", zap.String("bet_id", e.BetID), zap.Error(err))
		return err
	}
	p.log.Debug("published bet recorded", zap.String("bet_id", e.BetID))
	return nil
}
