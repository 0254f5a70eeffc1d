package events

import "time"

// OddsTick é o payload enviado aos clientes WebSocket após um upsert de odds.
type OddsTick struct {
	MatchID     string    `json:"match_id"`
	BookmakerID string    `json:"bookmaker_id"`
	SelectionID string    `json:"selection_id"`
	Price       float64   `json:"price"`
	Probability *float64  `json:"probability,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
	Source      string    `json:"source,omitempty"`
}
