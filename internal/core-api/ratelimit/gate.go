package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// Scope define se o bucket é por principal ou compartilhado por todos
type Scope int

const (
	PerKey Scope = iota
	Global
)

func (s Scope) String() string {
	if s == Global {
		return "global"
	}
	return "per_key"
}

const anonymous = "anonymous"

// CostFunc calcula quantos tokens um request consome (ex.: pelo tamanho do payload).
// Erro ou valor < 1 => custo 1.
type CostFunc func(r *http.Request) (int, error)

type Policy struct {
	BucketID        string
	Capacity        int
	RefillPerSecond float64
	Scope           Scope
	Cost            CostFunc
}

// Key monta rl:{bucket}:{principal|global}
func (p Policy) Key(principal string) string {
	suffix := principal
	switch {
	case p.Scope == Global:
		suffix = "global"
	case suffix == "":
		suffix = anonymous
	}
	return "rl:" + p.BucketID + ":" + suffix
}

// Decision carrega os valores expostos nos headers X-RateLimit-*
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      int64
	RetryAfter int64
}

func (d Decision) WriteHeaders(h http.Header) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset, 10))
	if !d.Allowed {
		h.Set("Retry-After", strconv.FormatInt(d.RetryAfter, 10))
	}
}

// LimitedError sinaliza rejeição (HTTP 429)
type LimitedError struct {
	Bucket string
	Scope  Scope
	Decision
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s (%s), retry after %ds", e.Bucket, e.Scope, e.RetryAfter)
}

// Gate aplica políticas de token bucket a requests HTTP
type Gate struct {
	Limiter Limiter
	Enabled bool
	Log     *zap.Logger

	// Identify extrai o principal do request (normalmente do contexto de auth)
	Identify func(r *http.Request) string
	// OnReject escreve a resposta de erro (429 ou 503); headers de limite já estão setados
	OnReject func(w http.ResponseWriter, r *http.Request, err error)
	// OnDecision: métricas (bucket, scope, outcome=allowed|limited|error)
	OnDecision func(bucket, scope, outcome string)
}

func NewGate(l Limiter, enabled bool, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{Limiter: l, Enabled: enabled, Log: log}
}

// Check consome cost tokens do bucket do principal.
// Rejeição => *LimitedError; falha do backend => erro que casa com ErrBackendUnavailable.
func (g *Gate) Check(ctx context.Context, p Policy, principal string, cost int) (Decision, error) {
	if cost < 1 {
		cost = 1
	}
	res, err := g.Limiter.Allow(ctx, p.Key(principal), p.Capacity, p.RefillPerSecond, cost)
	if err != nil {
		g.observe(p, "error")
		return Decision{}, err
	}

	d := Decision{
		Allowed:   res.Allowed,
		Limit:     p.Capacity,
		Remaining: int(math.Max(0, math.Floor(res.Tokens))),
		Reset:     res.Reset,
	}
	if d.Reset < 0 {
		d.Reset = 0
	}
	if !res.Allowed {
		d.Remaining = 0
		d.RetryAfter = res.RetryAfter
		if d.RetryAfter < 1 {
			d.RetryAfter = 1
		}
		g.observe(p, "limited")
		return d, &LimitedError{Bucket: p.BucketID, Scope: p.Scope, Decision: d}
	}
	g.observe(p, "allowed")
	return d, nil
}

// Middleware devolve o middleware da política. Gate desligada => identidade, sem headers.
// Políticas compõem por encadeamento: basta uma rejeitar.
func (g *Gate) Middleware(p Policy) func(http.Handler) http.Handler {
	if g == nil || !g.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := g.Check(r.Context(), p, g.principal(r), requestCost(p.Cost, r))
			if err != nil {
				g.reject(w, r, err)
				return
			}
			d.WriteHeaders(w.Header())
			next.ServeHTTP(w, r)
		})
	}
}

func requestCost(fn CostFunc, r *http.Request) int {
	if fn == nil {
		return 1
	}
	c, err := fn(r)
	if err != nil || c < 1 {
		return 1
	}
	return c
}

func (g *Gate) principal(r *http.Request) string {
	if g.Identify == nil {
		return anonymous
	}
	if p := g.Identify(r); p != "" {
		return p
	}
	return anonymous
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, err error) {
	var le *LimitedError
	if errors.As(err, &le) {
		le.WriteHeaders(w.Header())
	} else {
		g.Log.Error("rate limit backend failure", zap.Error(err), zap.String("path", r.URL.Path))
	}
	if g.OnReject != nil {
		g.OnReject(w, r, err)
		return
	}
	writeDefaultReject(w, err)
}

func writeDefaultReject(w http.ResponseWriter, err error) {
	status, code, msg := http.StatusServiceUnavailable, "service_unavailable", "Service unavailable"
	var le *LimitedError
	if errors.As(err, &le) {
		status, code, msg = http.StatusTooManyRequests, "rate_limited", "Too many requests"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": msg})
}

// ContentLengthCost cobra 1 token a cada bytesPerToken bytes de corpo.
// Sem Content-Length conhecido o custo cai para 1.
func ContentLengthCost(bytesPerToken int64) CostFunc {
	return func(r *http.Request) (int, error) {
		if bytesPerToken <= 0 {
			return 1, nil
		}
		if r.ContentLength < 0 {
			return 0, errors.New("unknown content length")
		}
		return int((r.ContentLength + bytesPerToken - 1) / bytesPerToken), nil
	}
}

func (g *Gate) observe(p Policy, outcome string) {
	if g.OnDecision != nil {
		g.OnDecision(p.BucketID, p.Scope.String(), outcome)
	}
}
