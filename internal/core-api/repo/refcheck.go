package repo

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

// RefTable identifica uma tabela de referência checada antes de upserts
type RefTable string

const (
	RefBookmakers RefTable = "bookmakers"
	RefSelections RefTable = "selections"
	RefModels     RefTable = "models"
)

func (t RefTable) column() (string, bool) {
	switch t {
	case RefBookmakers:
		return "bookmaker_id", true
	case RefSelections:
		return "selection_id", true
	case RefModels:
		return "model_id", true
	}
	return "", false
}

// MissingIDs devolve, na ordem recebida e sem repetição, os ids que não existem em core.<table>
func (p *Postgres) MissingIDs(ctx context.Context, table RefTable, ids []string) ([]string, error) {
	uniq := unique(ids)
	if len(uniq) == 0 {
		return nil, nil
	}
	col, ok := table.column()
	if !ok {
		return nil, fmt.Errorf("unknown reference table %q", table)
	}
	ctx, span := startSpan(ctx, "repo.MissingIDs",
		attribute.String("db.table", string(table)),
		attribute.Int("ref.ids", len(uniq)),
	)
	defer span.End()

	q := fmt.Sprintf(`SELECT %[1]s::text FROM core.%[2]s WHERE %[1]s = ANY($1::uuid[])`, col, table)
	rows, err := p.db.QueryContext(ctx, q, pq.Array(uniq))
	if err != nil {
		return nil, fail(span, err)
	}
	defer rows.Close()

	found := make(map[string]struct{}, len(uniq))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fail(span, err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, err)
	}

	var missing []string
	for _, id := range uniq {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
