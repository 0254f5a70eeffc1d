package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrBackendUnavailable: store de contadores inacessível. A gate falha fechada (503).
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
	ErrInvalidPolicy      = errors.New("rate limit policy requires capacity > 0 and refill > 0")
)

// Limiter decide se uma operação de custo cost cabe no bucket de key
type Limiter interface {
	Allow(ctx context.Context, key string, capacity int, refillPerSecond float64, cost int) (Result, error)
}

var tracer = otel.Tracer("github.com/radieske/betting-core-api/internal/core-api/ratelimit")

// RedisLimiter executa o token bucket como script Lua no Redis.
// Usa EVALSHA e, se o script não estiver registrado (NOSCRIPT), reenvia o corpo via EVAL.
type RedisLimiter struct {
	rdb   redis.Scripter
	clock Clock
	sha   string

	OnFallback func() // métrica: EVALSHA -> EVAL
}

func NewRedisLimiter(rdb redis.Scripter, clock Clock) *RedisLimiter {
	return &RedisLimiter{
		rdb:   rdb,
		clock: clock,
		sha:   redis.NewScript(tokenBucketLua).Hash(),
	}
}

// Load registra o script no Redis (SCRIPT LOAD); chamado no startup, mas opcional
func (l *RedisLimiter) Load(ctx context.Context) error {
	if err := l.rdb.ScriptLoad(ctx, tokenBucketLua).Err(); err != nil {
		return fmt.Errorf("%w: script load: %w", ErrBackendUnavailable, err)
	}
	return nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, capacity int, refillPerSecond float64, cost int) (Result, error) {
	if capacity <= 0 || refillPerSecond <= 0 {
		return Result{}, ErrInvalidPolicy
	}
	if cost < 1 {
		cost = 1
	}

	ctx, span := tracer.Start(ctx, "ratelimit.allow", trace.WithAttributes(
		attribute.String("ratelimit.key", key),
		attribute.Int("ratelimit.cost", cost),
	))
	defer span.End()

	now, err := l.clock.NowMs(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("%w: clock: %w", ErrBackendUnavailable, err)
	}

	keys := []string{key}
	args := []interface{}{capacity, refillPerSecond, now, cost}

	raw, err := l.rdb.EvalSha(ctx, l.sha, keys, args...).Result()
	if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
		if l.OnFallback != nil {
			l.OnFallback()
		}
		raw, err = l.rdb.Eval(ctx, tokenBucketLua, keys, args...).Result()
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("%w: eval token bucket: %w", ErrBackendUnavailable, err)
	}

	res, err := parseResult(raw)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(attribute.Bool("ratelimit.allowed", res.Allowed))
	return res, nil
}

// parseResult converte {allowed, tokens, retry_after, reset} vindo do script
func parseResult(raw interface{}) (Result, error) {
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 4 {
		return Result{}, fmt.Errorf("unexpected token bucket reply: %v", raw)
	}
	allowed, err := asInt64(vals[0])
	if err != nil {
		return Result{}, err
	}
	tokens, err := asFloat64(vals[1])
	if err != nil {
		return Result{}, err
	}
	retry, err := asInt64(vals[2])
	if err != nil {
		return Result{}, err
	}
	reset, err := asInt64(vals[3])
	if err != nil {
		return Result{}, err
	}
	return Result{Allowed: allowed == 1, Tokens: tokens, RetryAfter: retry, Reset: reset}, nil
}

func asInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected integer in token bucket reply: %T", v)
	}
}

func asFloat64(v interface{}) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case int64:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("unexpected number in token bucket reply: %T", v)
	}
}
