package pgw

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RowPair couples the database-formatted JSON text of a row (used for
// equality) with the parsed value (reported to the caller).
type RowPair struct {
	Raw  string
	Data json.RawMessage
}

// Session is one dedicated connection checked out of the pool. The
// dry-run evaluator runs its whole BEGIN..ROLLBACK protocol on a single
// session so txid_current() and uncommitted state stay consistent.
type Session struct {
	conn *pgxpool.Conn
}

// AcquireSession checks a connection out of the pool under a read
// lease. The caller must Release it.
func (g *Gateway) AcquireSession(ctx context.Context) (*Session, error) {
	pool, err := g.lease()
	if err != nil {
		return nil, err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Release returns the connection to the pool.
func (s *Session) Release() { s.conn.Release() }

// Exec runs a statement batch over the simple query protocol, so
// multi-statement user SQL behaves exactly as it would in psql.
func (s *Session) Exec(ctx context.Context, sql string) error {
	results, err := s.conn.Conn().PgConn().Exec(ctx, sql).ReadAll()
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// Tables lists every non-system table visible to the session.
func (s *Session) Tables(ctx context.Context) ([]TableRef, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT schemaname::text, tablename::text FROM pg_tables
		 WHERE schemaname NOT IN ('pg_catalog', 'information_schema')`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var refs []TableRef
	for rows.Next() {
		var r TableRef
		if err := rows.Scan(&r.Schema, &r.Name); err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// Count runs an exact COUNT(*) inside the session's transaction.
func (s *Session) Count(ctx context.Context, schema, table string) (int64, error) {
	var count int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", QualifyTable(schema, table))
	if err := s.conn.QueryRow(ctx, q).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s.%s: %w", schema, table, err)
	}
	return count, nil
}

// SnapshotPairs reads every row as (raw JSON text, parsed JSON).
func (s *Session) SnapshotPairs(ctx context.Context, schema, table string) ([]RowPair, error) {
	q := fmt.Sprintf(
		"SELECT row_to_json(t.*)::text AS raw, row_to_json(t.*) AS data FROM %s t",
		QualifyTable(schema, table),
	)
	rows, err := s.conn.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var pairs []RowPair
	for rows.Next() {
		var p RowPair
		if err := rows.Scan(&p.Raw, &p.Data); err != nil {
			return nil, fmt.Errorf("snapshot %s.%s: %w", schema, table, err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// TailRows reads the n most recently placed rows, ordered by descending
// physical row id. Used to recover rows a statement just inserted.
func (s *Session) TailRows(ctx context.Context, schema, table string, n int64) ([]json.RawMessage, error) {
	q := fmt.Sprintf(
		"SELECT row_to_json(t.*) FROM %s t ORDER BY ctid DESC LIMIT $1",
		QualifyTable(schema, table),
	)
	return s.queryJSON(ctx, q, n)
}

// RawRows reads every current row as raw JSON text for set-difference
// delete attribution.
func (s *Session) RawRows(ctx context.Context, schema, table string) ([]string, error) {
	q := fmt.Sprintf(
		"SELECT row_to_json(t.*)::text FROM %s t",
		QualifyTable(schema, table),
	)
	rows, err := s.conn.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("rows %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("rows %s.%s: %w", schema, table, err)
		}
		out = append(out, raw)
	}
	return out, rows.Err()
}

// TouchedRows reads rows whose xmin stamp equals the current
// transaction id, i.e. rows the in-flight transaction wrote.
func (s *Session) TouchedRows(ctx context.Context, schema, table string) ([]json.RawMessage, error) {
	q := fmt.Sprintf(
		"SELECT row_to_json(t.*) FROM %s t WHERE xmin = txid_current()::text::xid",
		QualifyTable(schema, table),
	)
	return s.queryJSON(ctx, q)
}

func (s *Session) queryJSON(ctx context.Context, q string, args ...any) ([]json.RawMessage, error) {
	rows, err := s.conn.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data json.RawMessage
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}
