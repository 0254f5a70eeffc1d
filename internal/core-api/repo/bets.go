package repo

import (
	"context"
	"database/sql"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const insertBetSQL = `
	INSERT INTO core.bets
		(external_id, user_ref, match_id, bookmaker_id, selection_id, stake, price,
		 placed_at, status, result, payout, idempotency_key)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,COALESCE($9,'open'),$10,$11,$12)`

const (
	onConflictIdempotencyKey = ` ON CONFLICT (idempotency_key) DO NOTHING RETURNING bet_id`
	onConflictExternalID     = ` ON CONFLICT (user_ref, external_id) WHERE external_id IS NOT NULL DO NOTHING RETURNING bet_id`
	returningBetID           = ` RETURNING bet_id`

	selectBetByIdempotencyKey = `SELECT bet_id FROM core.bets WHERE idempotency_key = $1`
	selectBetByExternalID     = `SELECT bet_id FROM core.bets WHERE user_ref = $1 AND external_id = $2`
)

func hasText(s *string) bool { return s != nil && *s != "" }

// CreateBet grava a aposta no máximo uma vez.
//
// Com idempotency_key: insert condicional na unique da chave; conflito => busca a linha existente.
// Sem chave, com user_ref + external_id: mesmo protocolo sobre o índice parcial.
// Sem nenhuma chave de conflito: insert simples (sempre cria).
//
// A busca após o conflito roda como statement separado (READ COMMITTED), então enxerga
// a linha que o insert concorrente vencedor já commitou.
func (p *Postgres) CreateBet(ctx context.Context, b *Bet) (CreateResult, error) {
	ctx, span := startSpan(ctx, "repo.CreateBet")
	defer span.End()

	args := []any{
		b.ExternalID, b.UserRef, b.MatchID, b.BookmakerID, b.SelectionID, b.Stake, b.Price,
		b.PlacedAt, b.Status, b.Result, b.Payout, b.IdempotencyKey,
	}

	switch {
	case hasText(b.IdempotencyKey):
		span.SetAttributes(attribute.String("bet.conflict_key", "idempotency_key"))
		return p.insertOrLookup(ctx, span, insertBetSQL+onConflictIdempotencyKey, args,
			selectBetByIdempotencyKey, *b.IdempotencyKey)
	case hasText(b.UserRef) && hasText(b.ExternalID):
		span.SetAttributes(attribute.String("bet.conflict_key", "user_ref_external_id"))
		return p.insertOrLookup(ctx, span, insertBetSQL+onConflictExternalID, args,
			selectBetByExternalID, *b.UserRef, *b.ExternalID)
	default:
		span.SetAttributes(attribute.String("bet.conflict_key", "none"))
		var id string
		if err := p.db.QueryRowContext(ctx, insertBetSQL+returningBetID, args...).Scan(&id); err != nil {
			return CreateResult{}, fail(span, err)
		}
		return CreateResult{Created: true, BetID: id}, nil
	}
}

func (p *Postgres) insertOrLookup(ctx context.Context, span trace.Span, insert string, args []any, lookup string, lookupArgs ...any) (CreateResult, error) {
	var id string
	err := p.db.QueryRowContext(ctx, insert, args...).Scan(&id)
	if err == nil {
		span.SetAttributes(attribute.Bool("bet.created", true))
		return CreateResult{Created: true, BetID: id}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return CreateResult{}, fail(span, err)
	}

	// DO NOTHING sem linha retornada: conflito confirmado
	span.SetAttributes(attribute.Bool("bet.created", false))
	err = p.db.QueryRowContext(ctx, lookup, lookupArgs...).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return CreateResult{Created: false}, nil
	case err != nil:
		return CreateResult{}, fail(span, err)
	}
	return CreateResult{Created: false, BetID: id}, nil
}

const selectBetByID = `
	SELECT bet_id, external_id, user_ref, match_id, bookmaker_id, selection_id, stake, price,
	       placed_at, status, result, payout, idempotency_key, created_at
	FROM core.bets
	WHERE bet_id = $1`

// GetBet busca uma aposta pelo id
func (p *Postgres) GetBet(ctx context.Context, betID string) (*Bet, error) {
	ctx, span := startSpan(ctx, "repo.GetBet")
	defer span.End()

	var (
		b      Bet
		status string
	)
	err := p.db.QueryRowContext(ctx, selectBetByID, betID).Scan(
		&b.BetID, &b.ExternalID, &b.UserRef, &b.MatchID, &b.BookmakerID, &b.SelectionID,
		&b.Stake, &b.Price, &b.PlacedAt, &status, &b.Result, &b.Payout, &b.IdempotencyKey, &b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fail(span, err)
	}
	b.Status = &status
	return &b, nil
}
