package pgw

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// RowCount runs an exact COUNT(*) on one table.
func (g *Gateway) RowCount(ctx context.Context, schema, table string) (int64, error) {
	pool, err := g.lease()
	if err != nil {
		return 0, err
	}

	var count int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", QualifyTable(schema, table))
	if err := pool.QueryRow(ctx, q).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s.%s: %w", schema, table, err)
	}
	return count, nil
}

// Rows reads a window of a table as row_to_json objects, so numeric,
// temporal and JSON types round-trip through a string-keyed object.
func (g *Gateway) Rows(ctx context.Context, schema, table string, limit, offset int64) ([]json.RawMessage, error) {
	pool, err := g.lease()
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(
		"SELECT row_to_json(t.*) FROM %s t LIMIT $1 OFFSET $2",
		QualifyTable(schema, table),
	)
	rows, err := pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("rows %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data json.RawMessage
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("rows %s.%s: %w", schema, table, err)
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

// fingerprintExpr builds the SQL expression computing a row's primary
// key fingerprint: each PK column cast to text with NULL collapsed to
// the empty string, joined with a :: separator. Two rows of one table
// share a fingerprint iff their PK columns are equal.
func fingerprintExpr(pkColumns []string) string {
	parts := make([]string, len(pkColumns))
	for i, col := range pkColumns {
		parts[i] = fmt.Sprintf("COALESCE(t.%s::text, '')", QuoteIdent(col))
	}
	return strings.Join(parts, " || '::' || ")
}

// SnapshotRows reads up to limit rows of a table keyed by primary-key
// fingerprint. Row order beyond the limit is unspecified; changes
// outside the sampled set go unseen, which is the watcher's documented
// sampling cap.
func (g *Gateway) SnapshotRows(ctx context.Context, schema, table string, pkColumns []string, limit int) (map[string]json.RawMessage, error) {
	pool, err := g.lease()
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(
		"SELECT (%s) AS _pk, row_to_json(t.*) AS _data FROM %s t LIMIT $1",
		fingerprintExpr(pkColumns),
		QualifyTable(schema, table),
	)
	rows, err := pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	snapshot := make(map[string]json.RawMessage)
	for rows.Next() {
		var (
			pk   string
			data json.RawMessage
		)
		if err := rows.Scan(&pk, &data); err != nil {
			return nil, fmt.Errorf("snapshot %s.%s: %w", schema, table, err)
		}
		snapshot[pk] = data
	}
	return snapshot, rows.Err()
}
