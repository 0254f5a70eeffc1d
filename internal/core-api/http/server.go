package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/radieske/betting-core-api/internal/core-api/auth"
	"github.com/radieske/betting-core-api/internal/core-api/ratelimit"
	"github.com/radieske/betting-core-api/internal/core-api/repo"
	"github.com/radieske/betting-core-api/internal/shared/config"
	"github.com/radieske/betting-core-api/pkg/contracts/events"
)

// Store é o subconjunto do repositório usado pelos handlers
type Store interface {
	CreateBet(ctx context.Context, b *repo.Bet) (repo.CreateResult, error)
	GetBet(ctx context.Context, betID string) (*repo.Bet, error)
	UpsertOdds(ctx context.Context, items []repo.Odds) (repo.UpsertResult, error)
	UpsertPredictions(ctx context.Context, items []repo.Prediction) (repo.UpsertResult, error)
	MissingIDs(ctx context.Context, table repo.RefTable, ids []string) ([]string, error)
	Readiness(ctx context.Context) (repo.Readiness, error)
}

type EventPublisher interface {
	PublishIngestBatch(ctx context.Context, e events.IngestBatch) error
	PublishBetRecorded(ctx context.Context, e events.BetRecorded) error
}

type TickPublisher interface {
	Publish(ctx context.Context, ticks []events.OddsTick) error
}

const maxBodyBytes = 16 << 20

// API expõe as rotas de ingestão (odds, predictions, bets) e de sistema
type API struct {
	Store   Store
	Events  EventPublisher // opcional
	Ticks   TickPublisher  // opcional
	Auth    *auth.Authenticator
	Gate    *ratelimit.Gate
	Stream  http.HandlerFunc // opcional: GET /odds/stream
	Metrics *Metrics
	Log     *zap.Logger
	Config  config.Config

	// RedisPing entra no /readyz quando o rate limit está ligado
	RedisPing func(ctx context.Context) error

	now func() time.Time
}

// Router retorna o roteador HTTP com middlewares e rotas
func (a *API) Router() http.Handler {
	if a.Log == nil {
		a.Log = zap.NewNop()
	}
	if a.now == nil {
		a.now = time.Now
	}
	a.bindGate()

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(tracing)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.Config.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", headerRequestID},
		ExposedHeaders: []string{
			headerRequestID, "trace-id", "span-id", headerReplayed, "Retry-After",
			"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
		},
		MaxAge: 300,
	}))

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.readyz)

	rl := a.Config.RateLimit
	oddsCost := ratelimit.ContentLengthCost(rl.OddsBytesPerToken)

	r.Group(func(r chi.Router) {
		if a.Config.RequestTimeout > 0 {
			r.Use(middleware.Timeout(a.Config.RequestTimeout))
		}

		r.With(
			a.Auth.Require(authError, auth.ScopeOddsWrite),
			a.Gate.Middleware(policy("odds_post", rl.OddsPerKey, ratelimit.PerKey, oddsCost)),
			a.Gate.Middleware(policy("odds_post", rl.OddsGlobal, ratelimit.Global, oddsCost)),
		).Post("/odds", a.postOdds)

		r.With(
			a.Auth.Require(authError, auth.ScopePredictionsWrite),
			a.Gate.Middleware(policy("predictions_post", rl.PredictionsPerKey, ratelimit.PerKey, nil)),
		).Post("/predictions", a.postPredictions)

		r.With(
			a.Auth.Require(authError, auth.ScopeBetsWrite),
			a.Gate.Middleware(policy("bets_post", rl.BetsPerKey, ratelimit.PerKey, nil)),
		).Post("/bets", a.postBet)

		r.With(a.Auth.Require(authError, auth.ScopeRead)).Get("/bets/{bet_id}", a.getBet)
	})

	// stream fica fora do timeout: conexão de longa duração
	if a.Stream != nil {
		r.With(a.Auth.Require(authError, auth.ScopeRead)).Get("/odds/stream", a.Stream)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})
	return r
}

// bindGate liga a gate ao principal autenticado, ao envelope de erro e às métricas
func (a *API) bindGate() {
	if a.Gate == nil {
		return
	}
	if a.Gate.Identify == nil {
		a.Gate.Identify = auth.PrincipalID
	}
	if a.Gate.OnReject == nil {
		a.Gate.OnReject = rejectLimited
	}
	if a.Gate.OnDecision == nil && a.Metrics != nil {
		a.Gate.OnDecision = a.Metrics.RateLimitDecision
	}
}

func policy(bucket string, b config.Bucket, scope ratelimit.Scope, cost ratelimit.CostFunc) ratelimit.Policy {
	return ratelimit.Policy{
		BucketID:        bucket,
		Capacity:        b.Capacity,
		RefillPerSecond: b.RefillPerSecond,
		Scope:           scope,
		Cost:            cost,
	}
}
