package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/betting-core-api/internal/core-api/auth"
	"github.com/radieske/betting-core-api/internal/core-api/dto"
	"github.com/radieske/betting-core-api/internal/core-api/ratelimit"
	"github.com/radieske/betting-core-api/internal/core-api/repo"
	"github.com/radieske/betting-core-api/internal/shared/config"
	"github.com/radieske/betting-core-api/internal/shared/db"
	"github.com/radieske/betting-core-api/pkg/contracts/events"
)

const (
	bk1  = "024c6a47-1a14-4549-935f-31e22e747670"
	sel1 = "bea8671c-e889-4e3d-91d3-b407bc186408"
	mod1 = "00000000-0000-0000-0000-000000000001"
)

type fakeStore struct {
	mu sync.Mutex

	known       map[string]bool
	oddsCalls   [][]repo.Odds
	predCalls   [][]repo.Prediction
	bets        map[string]string // idempotency_key -> bet_id
	upsertRes   repo.UpsertResult
	upsertErr   error
	readiness   repo.Readiness
	readyErr    error
	storedBet   *repo.Bet
	missingCall int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		known: map[string]bool{bk1: true, sel1: true, mod1: true},
		bets:  map[string]string{},
	}
}

func (f *fakeStore) CreateBet(_ context.Context, b *repo.Bet) (repo.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := deref(b.IdempotencyKey)
	if id, ok := f.bets[key]; ok && key != "" {
		return repo.CreateResult{Created: false, BetID: id}, nil
	}
	id := fmt.Sprintf("00000000-0000-0000-0000-%012d", len(f.bets)+1)
	f.bets[key] = id
	return repo.CreateResult{Created: true, BetID: id}, nil
}

func (f *fakeStore) GetBet(_ context.Context, id string) (*repo.Bet, error) {
	if f.storedBet != nil && f.storedBet.BetID == id {
		return f.storedBet, nil
	}
	return nil, repo.ErrNotFound
}

func (f *fakeStore) UpsertOdds(_ context.Context, items []repo.Odds) (repo.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oddsCalls = append(f.oddsCalls, items)
	if f.upsertErr != nil {
		return repo.UpsertResult{}, f.upsertErr
	}
	if f.upsertRes != (repo.UpsertResult{}) {
		return f.upsertRes, nil
	}
	return repo.UpsertResult{Inserted: len(items)}, nil
}

func (f *fakeStore) UpsertPredictions(_ context.Context, items []repo.Prediction) (repo.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predCalls = append(f.predCalls, items)
	return repo.UpsertResult{Inserted: len(items)}, nil
}

func (f *fakeStore) MissingIDs(_ context.Context, _ repo.RefTable, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missingCall++
	var out []string
	for _, id := range ids {
		if !f.known[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeStore) Readiness(context.Context) (repo.Readiness, error) {
	return f.readiness, f.readyErr
}

type fakeEvents struct {
	mu      sync.Mutex
	batches []events.IngestBatch
	bets    []events.BetRecorded
}

func (f *fakeEvents) PublishIngestBatch(_ context.Context, e events.IngestBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, e)
	return nil
}

func (f *fakeEvents) PublishBetRecorded(_ context.Context, e events.BetRecorded) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bets = append(f.bets, e)
	return nil
}

type fakeTicks struct{ ticks []events.OddsTick }

func (f *fakeTicks) Publish(_ context.Context, t []events.OddsTick) error {
	f.ticks = append(f.ticks, t...)
	return nil
}

type harness struct {
	api     *API
	handler http.Handler
	store   *fakeStore
	events  *fakeEvents
	ticks   *fakeTicks
	clock   *ratelimit.ManualClock
	reg     *prometheus.Registry
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Config{
		MaxBatchItems: 100,
		CORSOrigins:   []string{"*"},
		Auth: config.AuthConfig{
			Mode:    "api_key",
			APIKeys: "writer1=read,odds:write,predictions:write,bets:write;reader1=read",
		},
		RateLimit: config.RateLimitConfig{
			Enabled:           true,
			OddsPerKey:        config.Bucket{Capacity: 2, RefillPerSecond: 1},
			OddsGlobal:        config.Bucket{Capacity: 100, RefillPerSecond: 100},
			PredictionsPerKey: config.Bucket{Capacity: 10, RefillPerSecond: 10},
			BetsPerKey:        config.Bucket{Capacity: 10, RefillPerSecond: 10},
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	authn, err := auth.New(cfg.Auth)
	require.NoError(t, err)

	h := &harness{
		store:  newFakeStore(),
		events: &fakeEvents{},
		ticks:  &fakeTicks{},
		clock:  ratelimit.NewManualClock(0),
		reg:    prometheus.NewRegistry(),
	}
	h.api = &API{
		Store:   h.store,
		Events:  h.events,
		Ticks:   h.ticks,
		Auth:    authn,
		Gate:    ratelimit.NewGate(ratelimit.NewMemoryLimiter(h.clock), cfg.RateLimit.Enabled, nil),
		Metrics: NewMetrics(h.reg),
		Config:  cfg,
	}
	h.handler = h.api.Router()
	return h
}

func (h *harness) do(method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var out dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func oddsBody(items ...string) string {
	return `{"items":[` + strings.Join(items, ",") + `]}`
}

func oddsItem(bookmaker, price string) string {
	return `{"match_id":"m1","bookmaker_id":"` + bookmaker + `","selection_id":"` + sel1 +
		`","price":` + price + `,"captured_at":"2025-01-01T00:00:00Z","source":"feed-x"}`
}

func TestPostOdds_Upserts(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/odds", "writer1", oddsBody(oddsItem(bk1, "2.0"), oddsItem(bk1, "2.1")))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"inserted":2,"updated":0}`, rec.Body.String())
	// a última gate (global) define os headers da resposta
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	require.Len(t, h.store.oddsCalls, 1)
	assert.Equal(t, bk1, h.store.oddsCalls[0][1].BookmakerID)
	assert.Equal(t, time.UTC, h.store.oddsCalls[0][0].CapturedAt.Location())
	assert.Len(t, h.ticks.ticks, 2)

	require.Len(t, h.events.batches, 1)
	b := h.events.batches[0]
	assert.Equal(t, "odds", b.Entity)
	assert.Equal(t, "apikey:"+auth.KeyFingerprint("writer1"), b.Principal)
	assert.Equal(t, "feed-x", b.Source)
	assert.Equal(t, "ok", b.Status)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), b.RequestID)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.api.Metrics.upsertRows.WithLabelValues("odds", "inserted")))
}

// keyRecorder guarda as chaves de bucket que chegam ao limiter
type keyRecorder struct {
	ratelimit.Limiter
	keys []string
}

func (k *keyRecorder) Allow(ctx context.Context, key string, capacity int, refill float64, cost int) (ratelimit.Result, error) {
	k.keys = append(k.keys, key)
	return k.Limiter.Allow(ctx, key, capacity, refill, cost)
}

func TestPostOdds_APIKeyNeverLeavesAuth(t *testing.T) {
	h := newHarness(t, nil)
	rec := &keyRecorder{Limiter: h.api.Gate.Limiter}
	h.api.Gate.Limiter = rec

	resp := h.do(http.MethodPost, "/odds", "writer1", oddsBody(oddsItem(bk1, "2.0")))
	require.Equal(t, http.StatusOK, resp.Code)

	fp := auth.KeyFingerprint("writer1")
	assert.Equal(t, []string{"rl:odds_post:apikey:" + fp, "rl:odds_post:global"}, rec.keys)

	require.Len(t, h.events.batches, 1)
	raw, err := json.Marshal(h.events.batches[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "writer1")
	assert.Contains(t, string(raw), fp)
}

func TestPostOdds_EmptyBatchSkipsStore(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/odds", "writer1", `{"items":[]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"inserted":0,"updated":0}`, rec.Body.String())
	assert.Empty(t, h.store.oddsCalls)
	assert.Zero(t, h.store.missingCall)
	assert.Empty(t, h.events.batches)
}

func TestPostOdds_UnknownReferences(t *testing.T) {
	h := newHarness(t, nil)
	ghost := "11111111-1111-1111-1111-111111111111"

	rec := h.do(http.MethodPost, "/odds", "writer1", oddsBody(oddsItem(ghost, "2.0")))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "not_found", e.Code)
	assert.Equal(t, "unknown bookmaker_id(s): "+ghost, e.Message)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), e.TraceID)
	assert.Empty(t, h.store.oddsCalls)
}

func TestPostOdds_Validation(t *testing.T) {
	// três requests seguidos: bucket folgado para não cair no 429
	h := newHarness(t, func(c *config.Config) { c.RateLimit.OddsPerKey.Capacity = 10 })

	rec := h.do(http.MethodPost, "/odds", "writer1", oddsBody(oddsItem(bk1, "0.5")))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "validation_error", e.Code)
	require.Len(t, e.FieldErrors, 1)
	assert.Equal(t, "items[0].price", e.FieldErrors[0].Field)

	rec = h.do(http.MethodPost, "/odds", "writer1", `{"items":`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(http.MethodPost, "/odds", "writer1", `{"items":[{"price":"cheap"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	e = decodeError(t, rec)
	require.Len(t, e.FieldErrors, 1)
	assert.Contains(t, e.FieldErrors[0].Field, "price")
}

func TestPostOdds_BatchLimit(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.MaxBatchItems = 1 })

	rec := h.do(http.MethodPost, "/odds", "writer1", oddsBody(oddsItem(bk1, "2.0"), oddsItem(bk1, "2.1")))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "items", decodeError(t, rec).FieldErrors[0].Field)
}

func TestPostOdds_AuthAndScopes(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/odds", "", oddsBody(oddsItem(bk1, "2.0")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Code)

	rec = h.do(http.MethodPost, "/odds", "reader1", oddsBody(oddsItem(bk1, "2.0")))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "insufficient_scope", decodeError(t, rec).Message)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"), "auth roda antes do rate limit")
}

func TestPostOdds_RateLimited(t *testing.T) {
	h := newHarness(t, nil)
	body := oddsBody(oddsItem(bk1, "2.0"))

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/odds", "writer1", body).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/odds", "writer1", body).Code)
	rec := h.do(http.MethodPost, "/odds", "writer1", body)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	e := decodeError(t, rec)
	assert.Equal(t, "rate_limited", e.Code)
	assert.NotEmpty(t, e.TraceID)

	h.clock.Advance(time.Second)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/odds", "writer1", body).Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.api.Metrics.decisions.WithLabelValues("odds_post", "per_key", "limited")))
}

func TestPostOdds_RateLimitDisabled(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.RateLimit.Enabled = false })
	body := oddsBody(oddsItem(bk1, "2.0"))

	for i := 0; i < 5; i++ {
		rec := h.do(http.MethodPost, "/odds", "writer1", body)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestPostOdds_ConstraintErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"cardinality", &db.ConstraintError{Kind: db.Cardinality}, http.StatusBadRequest, "bad_request"},
		{"check", db.Classify(&pq.Error{Code: "23514", Constraint: "chk_odds_price_gt_1", Table: "odds"}), http.StatusBadRequest, "bad_request"},
		{"foreign key", &db.ConstraintError{Kind: db.ForeignKey, Table: "odds"}, http.StatusNotFound, "not_found"},
		{"unique", &db.ConstraintError{Kind: db.Unique, Constraint: "x"}, http.StatusConflict, "conflict"},
		{"too many parameters", fmt.Errorf("%w: 65536 parameters", repo.ErrBatchTooLarge), http.StatusRequestEntityTooLarge, "payload_too_large"},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.store.upsertErr = tt.err

			rec := h.do(http.MethodPost, "/odds", "writer1", oddsBody(oddsItem(bk1, "2.0")))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
			require.Len(t, h.events.batches, 1)
			assert.Equal(t, "error", h.events.batches[0].Status)
		})
	}
}

func TestPostPredictions(t *testing.T) {
	h := newHarness(t, nil)
	item := `{"match_id":"m1","model_id":"` + mod1 + `","selection_id":"` + sel1 +
		`","probability":0.58,"odds_fair":1.72,"features":{"home_form":0.65},"predicted_at":"2025-01-01T10:00:00Z"}`

	rec := h.do(http.MethodPost, "/predictions", "writer1", `{"items":[`+item+`]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, h.store.predCalls, 1)
	p := h.store.predCalls[0][0]
	assert.Equal(t, "v1", p.Version)
	assert.JSONEq(t, `{"home_form":0.65}`, string(p.Features))
	assert.Equal(t, "predictions", h.events.batches[0].Entity)

	rec = h.do(http.MethodPost, "/predictions", "reader1", `{"items":[`+item+`]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func betBody(idem string) string {
	return `{"external_id":"ticket-123","user_ref":"user42","match_id":"m1","bookmaker_id":"` + bk1 +
		`","selection_id":"` + sel1 + `","stake":100.0,"price":2.10,"placed_at":"2025-08-18T12:30:00Z","idempotency_key":"` + idem + `"}`
}

func TestPostBet_IdempotentReplay(t *testing.T) {
	h := newHarness(t, nil)

	first := h.do(http.MethodPost, "/bets", "writer1", betBody("abc-123"))
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Equal(t, "false", first.Header().Get("x-idempotent-replayed"))

	second := h.do(http.MethodPost, "/bets", "writer1", betBody("abc-123"))
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("x-idempotent-replayed"))

	var a, b dto.BetCreateResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.True(t, a.Created)
	assert.False(t, b.Created)
	require.NotNil(t, a.BetID)
	assert.Equal(t, *a.BetID, *b.BetID)

	// só a criação publica evento
	require.Len(t, h.events.bets, 1)
	assert.Equal(t, "100", h.events.bets[0].Stake)
	assert.Equal(t, "abc-123", h.events.bets[0].IdempotencyKey)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.api.Metrics.betWrites.WithLabelValues("replayed")))
}

func TestPostBet_Validation(t *testing.T) {
	h := newHarness(t, nil)
	body := strings.Replace(betBody("k"), `"stake":100.0`, `"stake":0`, 1)

	rec := h.do(http.MethodPost, "/bets", "writer1", body)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "stake", decodeError(t, rec).FieldErrors[0].Field)
}

func TestGetBet(t *testing.T) {
	h := newHarness(t, nil)
	id := "9b2f8c8e-4d1f-4b7a-9d57-1a2b3c4d5e6f"
	status := "open"
	h.store.storedBet = &repo.Bet{BetID: id, MatchID: "m1", BookmakerID: bk1, SelectionID: sel1, Status: &status}

	rec := h.do(http.MethodGet, "/bets/"+id, "reader1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got dto.BetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "open", got.Status)
	assert.Nil(t, got.Payout)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/bets/11111111-1111-1111-1111-111111111111", "reader1", "").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/bets/not-a-uuid", "reader1", "").Code)
}

func TestReadyz(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Readiness = config.ReadinessConfig{ExpectedRevision: "0001_core_schema", StrictMigrations: true}
	})
	h.store.readiness = repo.Readiness{Markets: 1, Selections: 3, Bookmakers: 2, Revision: "0001_core_schema"}
	h.api.RedisPing = func(context.Context) error { return nil }

	rec := h.do(http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ready dto.ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "ok", ready.Checks["migrations"])
	assert.Equal(t, "ok", ready.Checks["redis"])
	assert.Equal(t, int64(3), ready.Counts["selections"])

	h.store.readiness.Revision = "0000_old"
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/readyz", "", "").Code)

	h.api.Config.Readiness.StrictMigrations = false
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/readyz", "", "").Code)

	h.api.RedisPing = func(context.Context) error { return errors.New("redis down") }
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/readyz", "", "").Code)
}

func TestHealthzAndNotFound(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = h.do(http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
