package httpapi

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/radieske/betting-core-api/internal/core-api/dto"
	"github.com/radieske/betting-core-api/internal/core-api/repo"
	"github.com/radieske/betting-core-api/pkg/contracts/events"
)

// canonical normaliza o UUID (minúsculo, com hífens) para casar com o texto devolvido pelo banco
func canonical(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}

const defaultPredictionVersion = "v1"

func oddsRows(items []dto.OddsItem) []repo.Odds {
	out := make([]repo.Odds, 0, len(items))
	for _, it := range items {
		out = append(out, repo.Odds{
			MatchID:     it.MatchID,
			BookmakerID: canonical(it.BookmakerID),
			SelectionID: canonical(it.SelectionID),
			Price:       it.Price,
			Probability: it.Probability,
			CapturedAt:  it.CapturedAt.UTC(),
			Source:      it.Source,
			Checksum:    it.Checksum,
		})
	}
	return out
}

func oddsTicks(rows []repo.Odds) []events.OddsTick {
	out := make([]events.OddsTick, 0, len(rows))
	for _, o := range rows {
		out = append(out, events.OddsTick{
			MatchID:     o.MatchID,
			BookmakerID: o.BookmakerID,
			SelectionID: o.SelectionID,
			Price:       o.Price,
			Probability: o.Probability,
			CapturedAt:  o.CapturedAt,
			Source:      deref(o.Source),
		})
	}
	return out
}

func predictionRows(items []dto.PredictionItem) ([]repo.Prediction, error) {
	out := make([]repo.Prediction, 0, len(items))
	for _, it := range items {
		p := repo.Prediction{
			MatchID:     it.MatchID,
			ModelID:     canonical(it.ModelID),
			Version:     it.Version,
			SelectionID: canonical(it.SelectionID),
			Probability: it.Probability,
			OddsFair:    it.OddsFair,
			PredictedAt: it.PredictedAt.UTC(),
		}
		if p.Version == "" {
			p.Version = defaultPredictionVersion
		}
		if it.Features != nil {
			b, err := json.Marshal(it.Features)
			if err != nil {
				return nil, err
			}
			p.Features = b
		}
		out = append(out, p)
	}
	return out, nil
}

func betRow(req dto.BetRequest) *repo.Bet {
	return &repo.Bet{
		ExternalID:     req.ExternalID,
		UserRef:        req.UserRef,
		MatchID:        req.MatchID,
		BookmakerID:    canonical(req.BookmakerID),
		SelectionID:    canonical(req.SelectionID),
		Stake:          req.Stake,
		Price:          req.Price,
		PlacedAt:       req.PlacedAt.UTC(),
		IdempotencyKey: req.IdempotencyKey,
	}
}

func betResponse(b *repo.Bet) dto.BetResponse {
	out := dto.BetResponse{
		BetID:          b.BetID,
		ExternalID:     b.ExternalID,
		UserRef:        b.UserRef,
		MatchID:        b.MatchID,
		BookmakerID:    b.BookmakerID,
		SelectionID:    b.SelectionID,
		Stake:          b.Stake,
		Price:          b.Price,
		PlacedAt:       b.PlacedAt,
		Status:         deref(b.Status),
		Result:         b.Result,
		IdempotencyKey: b.IdempotencyKey,
	}
	if b.Payout.Valid {
		p := b.Payout.Decimal
		out.Payout = &p
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// batchSource: primeira source informada no lote
func batchSource(rows []repo.Odds) string {
	for _, o := range rows {
		if s := deref(o.Source); s != "" {
			return s
		}
	}
	return ""
}
