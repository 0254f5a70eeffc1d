package repo

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Bet é o modelo persistido em core.bets. Nunca é alterado por este serviço.
type Bet struct {
	BetID          string
	ExternalID     *string
	UserRef        *string
	MatchID        string
	BookmakerID    string
	SelectionID    string
	Stake          decimal.Decimal
	Price          decimal.Decimal
	PlacedAt       time.Time
	Status         *string // nil => default do banco ('open')
	Result         *string
	Payout         decimal.NullDecimal
	IdempotencyKey *string
	CreatedAt      time.Time
}

// CreateResult: Created=false indica replay; BetID pode vir vazio se a linha vencedora sumiu
type CreateResult struct {
	Created bool
	BetID   string
}

// Odds é um snapshot de preço; chave natural (match_id, bookmaker_id, selection_id, captured_at)
type Odds struct {
	MatchID     string
	BookmakerID string
	SelectionID string
	Price       float64
	Probability *float64
	CapturedAt  time.Time
	Source      *string
	Checksum    *string
}

// Prediction: chave natural (match_id, model_id, version, selection_id)
type Prediction struct {
	MatchID     string
	ModelID     string
	Version     string
	SelectionID string
	Probability float64
	OddsFair    *float64
	Features    json.RawMessage
	PredictedAt time.Time
}

// UpsertResult: Inserted + Updated == linhas enviadas ao banco (após dedup)
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

type Readiness struct {
	Markets    int64
	Selections int64
	Bookmakers int64
	Revision   string
}
