package dryrun

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletrace/tabletrace/internal/change"
	"github.com/tabletrace/tabletrace/internal/pgw"
	"github.com/tabletrace/tabletrace/pkg/pgtest"
)

func dryRunSandbox(t *testing.T) (*pgtest.Sandbox, *pgw.Session) {
	t.Helper()
	if testing.Short() {
		t.Skip("requires docker")
	}
	pgtest.BootOnce(t)
	sbx := pgtest.NewSandbox(t)
	pgtest.CreatePeople(t, sbx)
	pgtest.SeedPeople(t, sbx, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	gw := pgw.NewGateway()
	require.NoError(t, gw.Connect(ctx, sbx.Config()))
	t.Cleanup(gw.Disconnect)

	session, err := gw.AcquireSession(ctx)
	require.NoError(t, err)
	t.Cleanup(session.Release)
	return sbx, session
}

func rowCount(t *testing.T, sbx *pgtest.Sandbox) int64 {
	t.Helper()
	var n int64
	require.NoError(t, sbx.DB.QueryRow(`SELECT COUNT(*) FROM people`).Scan(&n))
	return n
}

func TestDryRunInsertRollsBack(t *testing.T) {
	sbx, session := dryRunSandbox(t)

	sql := fmt.Sprintf(
		`INSERT INTO %s (name, email) VALUES ('trial', 'trial@x')`,
		pgw.QualifyTable(sbx.Schema, "people"))
	result, err := Evaluate(context.Background(), session, sql)
	require.NoError(t, err)

	assert.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, int64(1), result.RowsAffected)

	var found bool
	for _, c := range result.Changes {
		if c.Table == "people" && c.Kind == change.Insert {
			found = true
			assert.Contains(t, string(c.After), "trial")
		}
	}
	assert.True(t, found, "insert change not attributed: %+v", result.Changes)
	assert.Equal(t, int64(3), rowCount(t, sbx), "dry run must not persist the insert")
}

func TestDryRunDeleteReportsBeforeImage(t *testing.T) {
	sbx, session := dryRunSandbox(t)

	sql := fmt.Sprintf(`DELETE FROM %s WHERE id = 1`, pgw.QualifyTable(sbx.Schema, "people"))
	result, err := Evaluate(context.Background(), session, sql)
	require.NoError(t, err)

	assert.True(t, result.Success, "error: %s", result.Error)

	var found bool
	for _, c := range result.Changes {
		if c.Table == "people" && c.Kind == change.Delete {
			found = true
			assert.Contains(t, string(c.Before), `"id":1`)
		}
	}
	assert.True(t, found, "delete change not attributed: %+v", result.Changes)
	assert.Equal(t, int64(3), rowCount(t, sbx))
}

func TestDryRunUpdateReportsNewState(t *testing.T) {
	sbx, session := dryRunSandbox(t)

	sql := fmt.Sprintf(
		`UPDATE %s SET name = 'renamed' WHERE id = 2`,
		pgw.QualifyTable(sbx.Schema, "people"))
	result, err := Evaluate(context.Background(), session, sql)
	require.NoError(t, err)

	assert.True(t, result.Success, "error: %s", result.Error)

	var found bool
	for _, c := range result.Changes {
		if c.Table == "people" && c.Kind == change.Update {
			found = true
			assert.Contains(t, string(c.After), "renamed")
		}
	}
	assert.True(t, found, "update change not attributed: %+v", result.Changes)

	var name string
	require.NoError(t, sbx.DB.QueryRow(`SELECT name FROM people WHERE id = 2`).Scan(&name))
	assert.NotEqual(t, "renamed", name, "dry run must not persist the update")
}

func TestDryRunSurfacesSQLErrors(t *testing.T) {
	sbx, session := dryRunSandbox(t)

	result, err := Evaluate(context.Background(), session, "DELETE FROM no_such_table_anywhere")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no_such_table_anywhere")
	assert.Empty(t, result.Changes)

	// The session must be usable again after the failed dry run.
	count, err := session.Count(context.Background(), sbx.Schema, "people")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestDryRunMultiStatement(t *testing.T) {
	sbx, session := dryRunSandbox(t)

	people := pgw.QualifyTable(sbx.Schema, "people")
	sql := fmt.Sprintf(
		`INSERT INTO %s (name, email) VALUES ('one', 'one@x'); INSERT INTO %s (name, email) VALUES ('two', 'two@x')`,
		people, people)
	result, err := Evaluate(context.Background(), session, sql)
	require.NoError(t, err)

	assert.True(t, result.Success, "error: %s", result.Error)
	inserts := 0
	for _, c := range result.Changes {
		if c.Table == "people" && c.Kind == change.Insert {
			inserts++
		}
	}
	assert.Equal(t, 2, inserts)
	assert.Equal(t, int64(3), rowCount(t, sbx))
}
