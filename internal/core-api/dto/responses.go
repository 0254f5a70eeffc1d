package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// UpsertResponse: inserted + updated == linhas enviadas após dedup
type UpsertResponse struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

type BetCreateResponse struct {
	Created bool    `json:"created"`
	BetID   *string `json:"bet_id"`
}

type BetResponse struct {
	BetID          string           `json:"bet_id"`
	ExternalID     *string          `json:"external_id"`
	UserRef        *string          `json:"user_ref"`
	MatchID        string           `json:"match_id"`
	BookmakerID    string           `json:"bookmaker_id"`
	SelectionID    string           `json:"selection_id"`
	Stake          decimal.Decimal  `json:"stake"`
	Price          decimal.Decimal  `json:"price"`
	PlacedAt       time.Time        `json:"placed_at"`
	Status         string           `json:"status"`
	Result         *string          `json:"result"`
	Payout         *decimal.Decimal `json:"payout"`
	IdempotencyKey *string          `json:"idempotency_key"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Status   string            `json:"status"` // "ready" | "not_ready"
	Checks   map[string]string `json:"checks"`
	Counts   map[string]int64  `json:"counts,omitempty"`
	Revision string            `json:"revision,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"` // ex: "items[0].price"
	Message string `json:"message"`
}

// ErrorResponse é o envelope de erro de todas as rotas
type ErrorResponse struct {
	Code        string       `json:"code"`
	Message     string       `json:"message"`
	FieldErrors []FieldError `json:"fieldErrors"`
	TraceID     string       `json:"traceId"`
}
