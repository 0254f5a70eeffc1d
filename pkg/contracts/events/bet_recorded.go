package events

type BetRecorded struct {
	BetID          string `json:"bet_id"`
	UserRef        string `json:"user_ref,omitempty"`
	ExternalID     string `json:"external_id,omitempty"`
	MatchID        string `json:"match_id"`
	BookmakerID    string `json:"bookmaker_id"`
	SelectionID    string `json:"selection_id"`
	Stake          string `json:"stake"` // decimal em string, sem perda de precisão
	Price          string `json:"price"`
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	PlacedAtUnixMs int64  `json:"placed_at_unix_ms"`
	TsUnixMs       int64  `json:"ts_unix_ms"`
}
