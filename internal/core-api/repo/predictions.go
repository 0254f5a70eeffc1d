package repo

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

var predictionCasts = []string{"", "uuid", "", "uuid", "", "", "jsonb", ""}

const upsertPredictionsHead = `
	INSERT INTO core.predictions
		(match_id, model_id, version, selection_id, probability, odds_fair, features, predicted_at)
	VALUES `

const upsertPredictionsTail = `
	ON CONFLICT ON CONSTRAINT uq_predictions_key DO UPDATE SET
		probability  = EXCLUDED.probability,
		odds_fair    = EXCLUDED.odds_fair,
		features     = EXCLUDED.features,
		predicted_at = EXCLUDED.predicted_at
	RETURNING (xmax = 0) AS inserted`

type predictionKey struct {
	matchID, modelID, version, selectionID string
}

// DedupPredictions mantém uma linha por chave natural: a de predicted_at mais recente.
// Empate fica com a última do lote. predicted_at zerado vira now.
// A ordem de primeira aparição de cada chave é preservada.
func DedupPredictions(items []Prediction, now time.Time) []Prediction {
	idx := make(map[predictionKey]int, len(items))
	out := make([]Prediction, 0, len(items))
	for _, it := range items {
		if it.PredictedAt.IsZero() {
			it.PredictedAt = now
		}
		k := predictionKey{it.MatchID, it.ModelID, it.Version, it.SelectionID}
		if i, ok := idx[k]; ok {
			if !it.PredictedAt.Before(out[i].PredictedAt) {
				out[i] = it
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, it)
	}
	return out
}

// UpsertPredictions deduplica o lote e grava em um único statement
func (p *Postgres) UpsertPredictions(ctx context.Context, items []Prediction) (UpsertResult, error) {
	rows := DedupPredictions(items, time.Now().UTC())
	if len(rows) == 0 {
		return UpsertResult{}, nil
	}
	ctx, span := startSpan(ctx, "repo.UpsertPredictions",
		attribute.Int("upsert.received", len(items)),
		attribute.Int("upsert.rows", len(rows)),
	)
	defer span.End()

	args := make([]any, 0, len(rows)*len(predictionCasts))
	for _, r := range rows {
		var features any
		if len(r.Features) > 0 {
			features = string(r.Features)
		}
		args = append(args,
			r.MatchID, r.ModelID, r.Version, r.SelectionID, r.Probability, r.OddsFair,
			features, r.PredictedAt,
		)
	}
	q := upsertPredictionsHead + valuesList(len(rows), predictionCasts) + upsertPredictionsTail
	return p.runUpsert(ctx, span, q, args)
}
