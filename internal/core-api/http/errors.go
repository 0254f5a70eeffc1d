package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/radieske/betting-core-api/internal/core-api/dto"
	"github.com/radieske/betting-core-api/internal/core-api/ratelimit"
	"github.com/radieske/betting-core-api/internal/core-api/repo"
	"github.com/radieske/betting-core-api/internal/shared/config"
	"github.com/radieske/betting-core-api/internal/shared/db"
	"github.com/radieske/betting-core-api/internal/shared/logger"
)

var statusCodes = map[int]string{
	http.StatusBadRequest:            "bad_request",
	http.StatusUnauthorized:          "unauthorized",
	http.StatusForbidden:             "forbidden",
	http.StatusNotFound:              "not_found",
	http.StatusMethodNotAllowed:      "method_not_allowed",
	http.StatusConflict:              "conflict",
	http.StatusRequestEntityTooLarge: "payload_too_large",
	http.StatusUnprocessableEntity:   "validation_error",
	http.StatusTooManyRequests:       "rate_limited",
	http.StatusInternalServerError:   "internal_error",
	http.StatusServiceUnavailable:    "service_unavailable",
}

// missingRefsError: ids de referência inexistentes (404)
type missingRefsError struct {
	parts []string
}

func (e *missingRefsError) Error() string { return strings.Join(e.parts, "; ") }

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError escreve o envelope {code, message, fieldErrors, traceId}
func writeError(w http.ResponseWriter, r *http.Request, status int, message string, fields []dto.FieldError) {
	code, ok := statusCodes[status]
	if !ok {
		code = fmt.Sprintf("http_%d", status)
	}
	writeJSON(w, status, dto.ErrorResponse{
		Code:        code,
		Message:     message,
		FieldErrors: fields,
		TraceID:     logger.RequestID(r.Context()),
	})
}

// authError adapta o envelope para auth.ErrorWriter
func authError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeError(w, r, status, message, nil)
}

// rejectLimited é o OnReject das gates: 429 quando o bucket esgotou, 503 quando o backend caiu
func rejectLimited(w http.ResponseWriter, r *http.Request, err error) {
	var le *ratelimit.LimitedError
	if errors.As(err, &le) {
		writeError(w, r, http.StatusTooManyRequests, "Too many requests", nil)
		return
	}
	writeError(w, r, http.StatusServiceUnavailable, "Rate limiter unavailable", nil)
}

// fail traduz erros de domínio/armazenamento em status HTTP
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *dto.ValidationError
		ce     *db.ConstraintError
		le     *ratelimit.LimitedError
		refs   *missingRefsError
		tooBig *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusUnprocessableEntity, "Validation failed", verr.Fields)
	case errors.As(err, &tooBig):
		writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooBig.Limit), nil)
	case errors.Is(err, repo.ErrBatchTooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d items per request", config.MaxBatchItemsLimit), nil)
	case errors.As(err, &refs):
		writeError(w, r, http.StatusNotFound, refs.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Not found", nil)
	case errors.As(err, &le):
		writeError(w, r, http.StatusTooManyRequests, "Too many requests", nil)
	case errors.Is(err, ratelimit.ErrBackendUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "Rate limiter unavailable", nil)
	case errors.As(err, &ce):
		a.constraintFailed(w, r, ce)
	case errors.Is(err, context.DeadlineExceeded):
		logger.For(r.Context(), a.Log).Warn("request timed out", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "Request timed out", nil)
	default:
		logger.For(r.Context(), a.Log).Error("unhandled error", zap.Error(err), zap.String("path", r.URL.Path))
		writeError(w, r, http.StatusInternalServerError, "An unexpected error occurred", nil)
	}
}

func (a *API) constraintFailed(w http.ResponseWriter, r *http.Request, ce *db.ConstraintError) {
	logger.For(r.Context(), a.Log).Info("constraint violation",
		zap.Stringer("kind", ce.Kind), zap.String("table", ce.Table), zap.String("constraint", ce.Constraint))

	switch ce.Kind {
	case db.Unique:
		writeError(w, r, http.StatusConflict, withDiag("Conflict", ce), nil)
	case db.ForeignKey:
		writeError(w, r, http.StatusNotFound, withDiag("Related resource not found", ce), nil)
	case db.Cardinality:
		writeError(w, r, http.StatusBadRequest, "Batch contains duplicate natural keys", nil)
	default:
		writeError(w, r, http.StatusBadRequest, withDiag("Constraint violated", ce), nil)
	}
}

// "Conflict (table=bets, constraint=uq_bets_idempotency_key)"
func withDiag(base string, ce *db.ConstraintError) string {
	var extras []string
	if ce.Table != "" {
		extras = append(extras, "table="+ce.Table)
	}
	if ce.Constraint != "" {
		extras = append(extras, "constraint="+ce.Constraint)
	}
	if len(extras) == 0 {
		return base
	}
	return base + " (" + strings.Join(extras, ", ") + ")"
}
