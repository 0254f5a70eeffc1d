package repo

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

var oddsCasts = []string{"", "uuid", "uuid", "", "", "", "", ""}

const upsertOddsHead = `
	INSERT INTO core.odds
		(match_id, bookmaker_id, selection_id, price, probability, captured_at, source, checksum)
	VALUES `

const upsertOddsTail = `
	ON CONFLICT ON CONSTRAINT uq_odds_snapshot DO UPDATE SET
		price       = EXCLUDED.price,
		probability = EXCLUDED.probability,
		source      = EXCLUDED.source,
		checksum    = EXCLUDED.checksum
	RETURNING (xmax = 0) AS inserted`

// UpsertOdds grava o lote em um único statement. Não deduplica: duas linhas com a
// mesma chave natural no lote fazem o Postgres rejeitar o comando (Cardinality).
func (p *Postgres) UpsertOdds(ctx context.Context, items []Odds) (UpsertResult, error) {
	if len(items) == 0 {
		return UpsertResult{}, nil
	}
	ctx, span := startSpan(ctx, "repo.UpsertOdds", attribute.Int("upsert.rows", len(items)))
	defer span.End()

	args := make([]any, 0, len(items)*len(oddsCasts))
	for _, o := range items {
		args = append(args,
			o.MatchID, o.BookmakerID, o.SelectionID, o.Price, o.Probability,
			o.CapturedAt, o.Source, o.Checksum,
		)
	}
	q := upsertOddsHead + valuesList(len(items), oddsCasts) + upsertOddsTail
	return p.runUpsert(ctx, span, q, args)
}
