package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/radieske/betting-core-api/internal/shared/db"
	"github.com/radieske/betting-core-api/pkg/contracts/events"
)

// PostgresRepo grava o resultado de cada lote em core.ingest_audit
type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{DB: db}
}

// Insert grava uma linha por lote. Reentrega do mesmo (request_id, entity) não duplica:
// retorna false quando a linha já existia.
func (r *PostgresRepo) Insert(ctx context.Context, e events.IngestBatch) (bool, error) {
	const q = `
		INSERT INTO core.ingest_audit
		  (entity, source, count, started_at, finished_at, status, details, request_id)
		VALUES
		  ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (request_id, entity) WHERE request_id IS NOT NULL DO NOTHING
	`
	res, err := r.DB.ExecContext(ctx, q,
		e.Entity, nullable(e.Source), e.Count,
		e.StartedAt, e.FinishedAt, status(e), details(e), nullable(e.RequestID),
	)
	if err != nil {
		return false, db.Classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func status(e events.IngestBatch) string {
	if e.Status == "" {
		return "ok"
	}
	return e.Status
}

// details: mensagem de erro do lote, ou o resumo do upsert quando deu certo
func details(e events.IngestBatch) string {
	summary := fmt.Sprintf("inserted=%d updated=%d", e.Inserted, e.Updated)
	if e.Principal != "" {
		summary += " principal=" + e.Principal
	}
	if e.Details != "" {
		return e.Details + " (" + summary + ")"
	}
	return summary
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
