package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type OddsItem struct {
	MatchID     string    `json:"match_id" validate:"required,max=128"`
	BookmakerID string    `json:"bookmaker_id" validate:"required,uuid"`
	SelectionID string    `json:"selection_id" validate:"required,uuid"`
	Price       float64   `json:"price" validate:"gt=1"`
	Probability *float64  `json:"probability,omitempty" validate:"omitempty,gte=0,lte=1"`
	CapturedAt  time.Time `json:"captured_at" validate:"required"`
	Source      *string   `json:"source,omitempty" validate:"omitempty,max=128"`
	Checksum    *string   `json:"checksum,omitempty" validate:"omitempty,max=256"`
}

// OddsBulkRequest: corpo de POST /odds
type OddsBulkRequest struct {
	Items []OddsItem `json:"items" validate:"dive"`
}

func (r *OddsBulkRequest) Validate(maxItems int) error { return validateBatch(r, len(r.Items), maxItems) }

type PredictionItem struct {
	MatchID     string         `json:"match_id" validate:"required,max=128"`
	ModelID     string         `json:"model_id" validate:"required,uuid"`
	Version     string         `json:"version" validate:"max=64"` // vazio => "v1"
	SelectionID string         `json:"selection_id" validate:"required,uuid"`
	Probability float64        `json:"probability" validate:"gte=0,lte=1"`
	OddsFair    *float64       `json:"odds_fair,omitempty" validate:"omitempty,gt=1"`
	Features    map[string]any `json:"features,omitempty"`
	PredictedAt time.Time      `json:"predicted_at"` // zero => horário do servidor
}

// PredictionsBulkRequest: corpo de POST /predictions
type PredictionsBulkRequest struct {
	Items []PredictionItem `json:"items" validate:"dive"`
}

func (r *PredictionsBulkRequest) Validate(maxItems int) error {
	return validateBatch(r, len(r.Items), maxItems)
}

// BetRequest: corpo de POST /bets. Status não é aceito do cliente.
type BetRequest struct {
	ExternalID     *string         `json:"external_id,omitempty" validate:"omitempty,max=128"`
	UserRef        *string         `json:"user_ref,omitempty" validate:"omitempty,max=128"`
	MatchID        string          `json:"match_id" validate:"required,max=128"`
	BookmakerID    string          `json:"bookmaker_id" validate:"required,uuid"`
	SelectionID    string          `json:"selection_id" validate:"required,uuid"`
	Stake          decimal.Decimal `json:"stake" validate:"gt=0"`
	Price          decimal.Decimal `json:"price" validate:"gt=1"`
	PlacedAt       time.Time       `json:"placed_at" validate:"required"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty" validate:"omitempty,max=256"`
}

func (r *BetRequest) Validate() error { return validateStruct(r) }
