package pgw

import (
	"context"
	"fmt"
)

// TableInfo describes one base table for the UI's schema browser.
type TableInfo struct {
	Schema      string `json:"schema"`
	Name        string `json:"name"`
	ColumnCount int64  `json:"column_count"`
	Comment     string `json:"comment"`
}

func (t TableInfo) FullName() string { return t.Schema + "." + t.Name }

// ColumnInfo describes one column, flagging primary-key membership.
type ColumnInfo struct {
	Name         string  `json:"name"`
	DataType     string  `json:"data_type"`
	IsNullable   bool    `json:"is_nullable"`
	DefaultValue *string `json:"default_value"`
	IsPrimaryKey bool    `json:"is_primary_key"`
}

// ForeignKey is one referential constraint edge.
type ForeignKey struct {
	ConstraintName string `json:"constraint_name"`
	FromSchema     string `json:"from_schema"`
	FromTable      string `json:"from_table"`
	FromColumn     string `json:"from_column"`
	ToSchema       string `json:"to_schema"`
	ToTable        string `json:"to_table"`
	ToColumn       string `json:"to_column"`
	OnDelete       string `json:"on_delete"`
	OnUpdate       string `json:"on_update"`
}

// TableStats carries the cumulative tuple counters and vacuum
// timestamps from pg_stat_user_tables.
type TableStats struct {
	Schema         string  `json:"schema"`
	Table          string  `json:"table"`
	TupIns         int64   `json:"n_tup_ins"`
	TupUpd         int64   `json:"n_tup_upd"`
	TupDel         int64   `json:"n_tup_del"`
	LastVacuum     *string `json:"last_vacuum"`
	LastAutovacuum *string `json:"last_autovacuum"`
}

// TableRef is a bare (schema, name) pair.
type TableRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// ListTables returns every base table outside the catalog and
// information-schema namespaces, ordered by (schema, name).
func (g *Gateway) ListTables(ctx context.Context) ([]TableInfo, error) {
	pool, err := g.lease()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `
		SELECT
			t.table_schema,
			t.table_name,
			COALESCE(
				(SELECT COUNT(*) FROM information_schema.columns c
				 WHERE c.table_schema = t.table_schema
				 AND c.table_name = t.table_name),
				0
			) AS column_count,
			COALESCE(obj_description(
				(quote_ident(t.table_schema) || '.' || quote_ident(t.table_name))::regclass
			), '') AS table_comment
		FROM information_schema.tables t
		WHERE t.table_schema NOT IN ('pg_catalog', 'information_schema')
		AND t.table_type = 'BASE TABLE'
		ORDER BY t.table_schema, t.table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []TableInfo
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Schema, &t.Name, &t.ColumnCount, &t.Comment); err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// ListColumns returns the columns of one table in ordinal order.
func (g *Gateway) ListColumns(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	pool, err := g.lease()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable,
			c.column_default,
			CASE WHEN pk.column_name IS NOT NULL THEN true ELSE false END AS is_primary_key
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name
				AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
		) pk ON c.column_name = pk.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("list columns %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			c        ColumnInfo
			nullable string
		)
		if err := rows.Scan(&c.Name, &c.DataType, &nullable, &c.DefaultValue, &c.IsPrimaryKey); err != nil {
			return nil, fmt.Errorf("list columns %s.%s: %w", schema, table, err)
		}
		c.IsNullable = nullable == "YES"
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// ListForeignKeys returns every referential constraint across the
// non-system schemas.
func (g *Gateway) ListForeignKeys(ctx context.Context) ([]ForeignKey, error) {
	pool, err := g.lease()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `
		SELECT
			tc.constraint_name,
			tc.table_schema AS from_schema,
			tc.table_name AS from_table,
			kcu.column_name AS from_column,
			ccu.table_schema AS to_schema,
			ccu.table_name AS to_table,
			ccu.column_name AS to_column,
			rc.delete_rule AS on_delete,
			rc.update_rule AS on_update
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		JOIN information_schema.referential_constraints rc
			ON tc.constraint_name = rc.constraint_name
			AND tc.table_schema = rc.constraint_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		ORDER BY tc.table_schema, tc.table_name, tc.constraint_name`)
	if err != nil {
		return nil, fmt.Errorf("list foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.ConstraintName, &fk.FromSchema, &fk.FromTable, &fk.FromColumn,
			&fk.ToSchema, &fk.ToTable, &fk.ToColumn, &fk.OnDelete, &fk.OnUpdate); err != nil {
			return nil, fmt.Errorf("list foreign keys: %w", err)
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// Stats reads pg_stat_user_tables for every non-system table.
func (g *Gateway) Stats(ctx context.Context) ([]TableStats, error) {
	pool, err := g.lease()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `
		SELECT
			schemaname::text AS schema,
			relname::text AS table_name,
			COALESCE(n_tup_ins, 0) AS n_tup_ins,
			COALESCE(n_tup_upd, 0) AS n_tup_upd,
			COALESCE(n_tup_del, 0) AS n_tup_del,
			last_vacuum::text,
			last_autovacuum::text
		FROM pg_stat_user_tables
		WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
		ORDER BY schemaname, relname`)
	if err != nil {
		return nil, fmt.Errorf("table stats: %w", err)
	}
	defer rows.Close()

	var stats []TableStats
	for rows.Next() {
		var s TableStats
		if err := rows.Scan(&s.Schema, &s.Table, &s.TupIns, &s.TupUpd, &s.TupDel,
			&s.LastVacuum, &s.LastAutovacuum); err != nil {
			return nil, fmt.Errorf("table stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// PrimaryKeyColumns returns the PK column names of one table in key
// order. Empty means the table has no primary key.
func (g *Gateway) PrimaryKeyColumns(ctx context.Context, schema, table string) ([]string, error) {
	pool, err := g.lease()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		AND tc.table_schema = $1
		AND tc.table_name = $2
		ORDER BY kcu.ordinal_position`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("primary key of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("primary key of %s.%s: %w", schema, table, err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
