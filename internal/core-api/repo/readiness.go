package repo

import (
	"context"
	"database/sql"
	"errors"
)

// Readiness checa conexão, o view core.readiness e a revisão de schema aplicada
func (p *Postgres) Readiness(ctx context.Context) (Readiness, error) {
	ctx, span := startSpan(ctx, "repo.Readiness")
	defer span.End()

	var r Readiness
	if err := p.db.PingContext(ctx); err != nil {
		return r, fail(span, err)
	}
	err := p.db.QueryRowContext(ctx,
		`SELECT markets, selections, bookmakers FROM core.readiness`,
	).Scan(&r.Markets, &r.Selections, &r.Bookmakers)
	if err != nil {
		return r, fail(span, err)
	}

	err = p.db.QueryRowContext(ctx, `SELECT version FROM core.schema_version LIMIT 1`).Scan(&r.Revision)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return r, fail(span, err)
	}
	return r, nil
}
