package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/radieske/betting-core-api/internal/shared/db"
)

var ErrNotFound = errors.New("not found")

// maxParams: limite de parâmetros de bind por statement no protocolo do Postgres
const maxParams = 65535

// ErrBatchTooLarge: o lote não cabe em um único INSERT (linhas x colunas > maxParams)
var ErrBatchTooLarge = errors.New("batch exceeds postgres bind parameter limit")

var tracer = otel.Tracer("github.com/radieske/betting-core-api/internal/core-api/repo")

// Postgres implementa bets, odds, predictions e checagens de referência sobre core.*
type Postgres struct{ db *sql.DB }

// NewPostgres retorna uma instância do repositório
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("db.system", "postgresql"))...))
}

// fail registra o erro no span e devolve a versão classificada
func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return db.Classify(err)
}

// valuesList gera "($1,$2,...),($n+1,...)" para rows linhas; casts[i] != "" vira "$k::cast"
func valuesList(rows int, casts []string) string {
	var sb strings.Builder
	cols := len(casts)
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", r*cols+c+1)
			if casts[c] != "" {
				sb.WriteString("::")
				sb.WriteString(casts[c])
			}
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// runUpsert executa um INSERT ... RETURNING (xmax = 0) e conta inseridos/atualizados
func (p *Postgres) runUpsert(ctx context.Context, span trace.Span, q string, args []any) (UpsertResult, error) {
	if len(args) > maxParams {
		err := fmt.Errorf("%w: %d parameters", ErrBatchTooLarge, len(args))
		span.SetStatus(codes.Error, err.Error())
		return UpsertResult{}, err
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return UpsertResult{}, fail(span, err)
	}
	defer rows.Close()

	var res UpsertResult
	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return UpsertResult{}, fail(span, err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	if err := rows.Err(); err != nil {
		return UpsertResult{}, fail(span, err)
	}
	span.SetAttributes(attribute.Int("upsert.inserted", res.Inserted), attribute.Int("upsert.updated", res.Updated))
	return res, nil
}
