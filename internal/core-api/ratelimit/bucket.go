package ratelimit

import "math"

// State é o estado persistido de um bucket (hash Redis: tokens, ts)
type State struct {
	Tokens       float64
	LastRefillMs int64
}

// Result é o resultado de uma tentativa de consumo
type Result struct {
	Allowed    bool
	Tokens     float64 // tokens restantes após a decisão
	RetryAfter int64   // segundos; 0 quando permitido
	Reset      int64   // segundos até o bucket voltar a ficar cheio (>= 1)
}

// take aplica refill + consumo sobre o estado; mesma aritmética do script Lua.
// Bucket inexistente começa cheio.
func take(st State, exists bool, nowMs int64, capacity int, refill float64, cost int) (State, Result) {
	capf := float64(capacity)
	if !exists {
		st = State{Tokens: capf, LastRefillMs: nowMs}
	}

	elapsed := nowMs - st.LastRefillMs
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := math.Min(capf, st.Tokens+float64(elapsed)*refill/1000.0)

	var res Result
	if tokens >= float64(cost) {
		tokens -= float64(cost)
		res.Allowed = true
	} else {
		res.RetryAfter = int64(math.Ceil((float64(cost) - tokens) / refill))
	}

	res.Tokens = tokens
	res.Reset = int64(math.Ceil((capf - tokens) / refill))
	if res.Reset < 1 {
		res.Reset = 1
	}

	ts := st.LastRefillMs
	if nowMs > ts {
		ts = nowMs
	}
	return State{Tokens: tokens, LastRefillMs: ts}, res
}
