package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/betting-core-api/internal/core-api/auth"
	"github.com/radieske/betting-core-api/internal/core-api/dto"
	"github.com/radieske/betting-core-api/internal/core-api/repo"
	"github.com/radieske/betting-core-api/internal/shared/logger"
	"github.com/radieske/betting-core-api/pkg/contracts/events"
)

const headerReplayed = "x-idempotent-replayed"

type refCheck struct {
	table repo.RefTable
	label string
	ids   []string
}

// checkRefs agrega os ids inexistentes de todas as tabelas em um único 404
func (a *API) checkRefs(ctx context.Context, checks ...refCheck) error {
	var parts []string
	for _, c := range checks {
		missing, err := a.Store.MissingIDs(ctx, c.table, c.ids)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			parts = append(parts, fmt.Sprintf("unknown %s(s): %s", c.label, strings.Join(missing, ", ")))
		}
	}
	if len(parts) > 0 {
		return &missingRefsError{parts: parts}
	}
	return nil
}

// postOdds faz o upsert em lote de snapshots de odds
func (a *API) postOdds(w http.ResponseWriter, r *http.Request) {
	started := a.now().UTC()
	var req dto.OddsBulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := req.Validate(a.Config.MaxBatchItems); err != nil {
		a.fail(w, r, err)
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusOK, dto.UpsertResponse{})
		return
	}

	ctx := r.Context()
	rows := oddsRows(req.Items)
	bookmakers := make([]string, 0, len(rows))
	selections := make([]string, 0, len(rows))
	for _, o := range rows {
		bookmakers = append(bookmakers, o.BookmakerID)
		selections = append(selections, o.SelectionID)
	}
	if err := a.checkRefs(ctx,
		refCheck{repo.RefBookmakers, "bookmaker_id", bookmakers},
		refCheck{repo.RefSelections, "selection_id", selections},
	); err != nil {
		a.fail(w, r, err)
		return
	}

	res, err := a.Store.UpsertOdds(ctx, rows)
	a.publishIngest(ctx, "odds", batchSource(rows), len(rows), res, started, err)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Metrics.upserted("odds", res.Inserted, res.Updated)

	if a.Ticks != nil {
		if err := a.Ticks.Publish(ctx, oddsTicks(rows)); err != nil {
			logger.For(ctx, a.Log).Warn("odds broadcast failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, dto.UpsertResponse(res))
}

// postPredictions faz o upsert em lote de predictions (dedup por chave natural no repositório)
func (a *API) postPredictions(w http.ResponseWriter, r *http.Request) {
	started := a.now().UTC()
	var req dto.PredictionsBulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := req.Validate(a.Config.MaxBatchItems); err != nil {
		a.fail(w, r, err)
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusOK, dto.UpsertResponse{})
		return
	}

	ctx := r.Context()
	rows, err := predictionRows(req.Items)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	models := make([]string, 0, len(rows))
	selections := make([]string, 0, len(rows))
	for _, p := range rows {
		models = append(models, p.ModelID)
		selections = append(selections, p.SelectionID)
	}
	if err := a.checkRefs(ctx,
		refCheck{repo.RefModels, "model_id", models},
		refCheck{repo.RefSelections, "selection_id", selections},
	); err != nil {
		a.fail(w, r, err)
		return
	}

	res, err := a.Store.UpsertPredictions(ctx, rows)
	a.publishIngest(ctx, "predictions", "", len(rows), res, started, err)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Metrics.upserted("predictions", res.Inserted, res.Updated)
	writeJSON(w, http.StatusOK, dto.UpsertResponse(res))
}

// postBet grava a aposta de forma idempotente: 201 quando cria, 200 em replay
func (a *API) postBet(w http.ResponseWriter, r *http.Request) {
	var req dto.BetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		a.fail(w, r, err)
		return
	}

	ctx := r.Context()
	row := betRow(req)
	if err := a.checkRefs(ctx,
		refCheck{repo.RefBookmakers, "bookmaker_id", []string{row.BookmakerID}},
		refCheck{repo.RefSelections, "selection_id", []string{row.SelectionID}},
	); err != nil {
		a.fail(w, r, err)
		return
	}

	res, err := a.Store.CreateBet(ctx, row)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Metrics.betWritten(res.Created)

	status := http.StatusCreated
	if res.Created {
		a.publishBet(ctx, row, res.BetID)
		w.Header().Set(headerReplayed, "false")
	} else {
		status = http.StatusOK
		w.Header().Set(headerReplayed, "true")
	}

	out := dto.BetCreateResponse{Created: res.Created}
	if res.BetID != "" {
		out.BetID = &res.BetID
	}
	writeJSON(w, status, out)
}

// getBet devolve uma aposta pelo id
func (a *API) getBet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "bet_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bet_id must be a valid UUID", nil)
		return
	}
	b, err := a.Store.GetBet(r.Context(), id.String())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, betResponse(b))
}

func (a *API) publishIngest(ctx context.Context, entity, source string, count int, res repo.UpsertResult, started time.Time, upsertErr error) {
	if a.Events == nil {
		return
	}
	ev := events.IngestBatch{
		Entity:     entity,
		Source:     source,
		Principal:  principalOf(ctx),
		Count:      count,
		Inserted:   res.Inserted,
		Updated:    res.Updated,
		Status:     "ok",
		StartedAt:  started,
		FinishedAt: a.now().UTC(),
		RequestID:  logger.RequestID(ctx),
	}
	if upsertErr != nil {
		ev.Status, ev.Details = "error", upsertErr.Error()
	}
	if err := a.Events.PublishIngestBatch(ctx, ev); err != nil {
		logger.For(ctx, a.Log).Warn("ingest event not published", zap.String("entity", entity), zap.Error(err))
	}
}

func (a *API) publishBet(ctx context.Context, b *repo.Bet, betID string) {
	if a.Events == nil {
		return
	}
	ev := events.BetRecorded{
		BetID:          betID,
		UserRef:        deref(b.UserRef),
		ExternalID:     deref(b.ExternalID),
		MatchID:        b.MatchID,
		BookmakerID:    b.BookmakerID,
		SelectionID:    b.SelectionID,
		Stake:          b.Stake.String(),
		Price:          b.Price.String(),
		Status:         "open",
		IdempotencyKey: deref(b.IdempotencyKey),
		PlacedAtUnixMs: b.PlacedAt.UnixMilli(),
		TsUnixMs:       a.now().UnixMilli(),
	}
	if err := a.Events.PublishBetRecorded(ctx, ev); err != nil {
		logger.For(ctx, a.Log).Warn("bet event not published", zap.String("bet_id", betID), zap.Error(err))
	}
}

func principalOf(ctx context.Context) string {
	if p, ok := auth.FromContext(ctx); ok {
		return p.ID
	}
	return ""
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, dto.HealthResponse{Status: "ok"})
}

// readyz checa banco, revisão de schema e, com rate limit ligado, o Redis
func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := dto.ReadyResponse{Status: "ready", Checks: map[string]string{}}
	ready := true

	rd, err := a.Store.Readiness(ctx)
	if err != nil {
		ready = false
		resp.Checks["database"] = "error: " + err.Error()
	} else {
		resp.Checks["database"] = "ok"
		resp.Counts = map[string]int64{"markets": rd.Markets, "selections": rd.Selections, "bookmakers": rd.Bookmakers}
		resp.Revision = rd.Revision

		if want := a.Config.Readiness.ExpectedRevision; want != "" {
			switch {
			case rd.Revision == want:
				resp.Checks["migrations"] = "ok"
			case a.Config.Readiness.StrictMigrations:
				ready = false
				resp.Checks["migrations"] = fmt.Sprintf("revision %q, expected %q", rd.Revision, want)
			default:
				resp.Checks["migrations"] = fmt.Sprintf("revision %q, expected %q (ignored)", rd.Revision, want)
			}
		}
	}

	if a.Config.RateLimit.Enabled && a.RedisPing != nil {
		if err := a.RedisPing(ctx); err != nil {
			ready = false
			resp.Checks["redis"] = "error: " + err.Error()
		} else {
			resp.Checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
		resp.Status = "not_ready"
		logger.For(ctx, a.Log).Warn("not ready", zap.Any("checks", resp.Checks))
	}
	writeJSON(w, status, resp)
}
