// Package dryrun evaluates an arbitrary SQL statement inside a
// transaction that is always rolled back, reconstructing the set of
// affected rows from before/after snapshots and the transaction id.
package dryrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/tabletrace/tabletrace/internal/change"
	"github.com/tabletrace/tabletrace/internal/pgw"
)

// snapshotMaxRows bounds the tables whose full contents are captured
// for delete attribution; larger tables fall back to contentless
// deletes.
const snapshotMaxRows = 1000

// Session is the slice of a dedicated database connection the
// evaluator drives. All calls happen on one session so the transaction
// state and txid_current() stay consistent.
type Session interface {
	Exec(ctx context.Context, sql string) error
	Tables(ctx context.Context) ([]pgw.TableRef, error)
	Count(ctx context.Context, schema, table string) (int64, error)
	SnapshotPairs(ctx context.Context, schema, table string) ([]pgw.RowPair, error)
	TailRows(ctx context.Context, schema, table string, n int64) ([]json.RawMessage, error)
	RawRows(ctx context.Context, schema, table string) ([]string, error)
	TouchedRows(ctx context.Context, schema, table string) ([]json.RawMessage, error)
}

// forbidden are the transaction-control tokens user SQL may not
// contain; the evaluator owns transaction control.
var forbidden = []string{"BEGIN", "COMMIT", "ROLLBACK"}

// Evaluate runs one statement in dry-run mode. Execution failures are
// reported inside the result, not as an error; the returned error is
// reserved for failures of the protocol itself before the transaction
// opens.
func Evaluate(ctx context.Context, s Session, sql string) (change.DryRunResult, error) {
	upper := strings.ToUpper(sql)
	for _, tok := range forbidden {
		if strings.Contains(upper, tok) {
			return change.DryRunResult{
				Success: false,
				Changes: []change.DryRunChange{},
				Error:   "SQL cannot contain COMMIT, BEGIN, or ROLLBACK statements in dry run mode",
			}, nil
		}
	}

	zap.L().Info("dry run: starting transaction")
	if err := s.Exec(ctx, "BEGIN"); err != nil {
		return change.DryRunResult{}, fmt.Errorf("begin: %w", err)
	}

	tables, err := s.Tables(ctx)
	if err != nil {
		_ = s.Exec(ctx, "ROLLBACK")
		return change.DryRunResult{}, fmt.Errorf("list tables: %w", err)
	}

	before := captureBefore(ctx, s, tables)

	// Execute the user statement. On failure we still fall through to
	// the rollback; never return early from here on.
	execErr := s.Exec(ctx, sql)

	var changes []change.DryRunChange
	if execErr == nil {
		changes = collectChanges(ctx, s, tables, before)
	}

	if err := s.Exec(ctx, "ROLLBACK"); err != nil {
		// The session must never be left holding uncommitted user
		// changes; a failed rollback overrides everything else.
		zap.L().Error("dry run: rollback failed", zap.Error(err))
		return change.DryRunResult{
			Success: false,
			Changes: []change.DryRunChange{},
			Error:   fmt.Sprintf("CRITICAL: Rollback failed - %v", err),
		}, nil
	}
	zap.L().Info("dry run: transaction rolled back")

	result := change.DryRunResult{
		Success:      execErr == nil,
		Changes:      changes,
		RowsAffected: int64(len(changes)),
	}
	if result.Changes == nil {
		result.Changes = []change.DryRunChange{}
	}
	if execErr != nil {
		result.Error = diagnostic(execErr)
	}
	return result, nil
}

// tableBefore is the pre-statement observation of one table.
type tableBefore struct {
	count    int64
	snapshot []pgw.RowPair // nil when the table was empty or too large
}

func captureBefore(ctx context.Context, s Session, tables []pgw.TableRef) map[string]tableBefore {
	before := make(map[string]tableBefore, len(tables))
	for _, t := range tables {
		count, err := s.Count(ctx, t.Schema, t.Name)
		if err != nil {
			zap.L().Debug("dry run: before count failed",
				zap.String("table", t.Schema+"."+t.Name), zap.Error(err))
			continue
		}
		b := tableBefore{count: count}
		if count > 0 && count < snapshotMaxRows {
			if pairs, err := s.SnapshotPairs(ctx, t.Schema, t.Name); err == nil {
				b.snapshot = pairs
			}
		}
		before[t.Schema+"."+t.Name] = b
	}
	return before
}

// collectChanges re-reads every table after the statement ran and
// attributes the difference: a count increase to inserts recovered from
// the physical tail, a decrease to deletes found by raw-text set
// difference, and a stable count to rows stamped with the current
// transaction id.
func collectChanges(ctx context.Context, s Session, tables []pgw.TableRef, before map[string]tableBefore) []change.DryRunChange {
	var changes []change.DryRunChange

	for _, t := range tables {
		b, ok := before[t.Schema+"."+t.Name]
		if !ok {
			continue
		}
		after, err := s.Count(ctx, t.Schema, t.Name)
		if err != nil {
			continue
		}

		switch delta := after - b.count; {
		case delta > 0:
			rows, err := s.TailRows(ctx, t.Schema, t.Name, delta)
			if err != nil {
				continue
			}
			for _, row := range rows {
				changes = append(changes, change.DryRunChange{
					Schema: t.Schema, Table: t.Name, Kind: change.Insert, After: row,
				})
			}

		case delta < 0:
			changes = append(changes, attributeDeletes(ctx, s, t, b, -delta)...)

		default:
			rows, err := s.TouchedRows(ctx, t.Schema, t.Name)
			if err != nil {
				continue
			}
			// before images are unrecoverable here; only the new row
			// state is reported.
			for _, row := range rows {
				changes = append(changes, change.DryRunChange{
					Schema: t.Schema, Table: t.Name, Kind: change.Update, After: row,
				})
			}
		}
	}
	return changes
}

// attributeDeletes walks the before-snapshot and reports a DELETE for
// each row no longer present, topping up with contentless deletes when
// attribution falls short (or no snapshot exists).
func attributeDeletes(ctx context.Context, s Session, t pgw.TableRef, b tableBefore, k int64) []change.DryRunChange {
	contentless := func(n int64) []change.DryRunChange {
		out := make([]change.DryRunChange, 0, n)
		for i := int64(0); i < n; i++ {
			out = append(out, change.DryRunChange{
				Schema: t.Schema, Table: t.Name, Kind: change.Delete,
			})
		}
		return out
	}

	if b.snapshot == nil {
		return contentless(k)
	}

	remaining, err := s.RawRows(ctx, t.Schema, t.Name)
	if err != nil {
		return contentless(k)
	}
	present := make(map[string]struct{}, len(remaining))
	for _, raw := range remaining {
		present[raw] = struct{}{}
	}

	var changes []change.DryRunChange
	for _, pair := range b.snapshot {
		if int64(len(changes)) >= k {
			break
		}
		if _, ok := present[pair.Raw]; !ok {
			changes = append(changes, change.DryRunChange{
				Schema: t.Schema, Table: t.Name, Kind: change.Delete, Before: pair.Data,
			})
		}
	}
	if short := k - int64(len(changes)); short > 0 {
		changes = append(changes, contentless(short)...)
	}
	return changes
}

// diagnostic renders a database error with severity, code and detail
// when the driver exposes them.
func diagnostic(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		detail := pgErr.Detail
		if detail == "" {
			detail = "none"
		}
		return fmt.Sprintf("%s: %s (code: %s, detail: %s)",
			pgErr.Severity, pgErr.Message, pgErr.Code, detail)
	}
	return err.Error()
}
