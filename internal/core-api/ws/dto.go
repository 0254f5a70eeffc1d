package ws

// ClientMsg é a mensagem recebida do cliente WebSocket
type ClientMsg struct {
	Type    string `json:"type"`    // subscribe | unsubscribe | ping
	MatchID string `json:"matchId"` // requerido em subscribe/unsubscribe
}

type serverMsg struct {
	Type    string `json:"type"` // tick | pong | error
	MatchID string `json:"matchId,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}
