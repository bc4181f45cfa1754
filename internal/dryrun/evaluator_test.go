package dryrun

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletrace/tabletrace/internal/change"
	"github.com/tabletrace/tabletrace/internal/pgw"
)

// fakeSession scripts one table's before/after observations so the
// attribution logic can run without a database.
type fakeSession struct {
	tables       []pgw.TableRef
	countsBefore map[string]int64
	countsAfter  map[string]int64
	snapshots    map[string][]pgw.RowPair
	tails        map[string][]json.RawMessage
	raws         map[string][]string
	touched      map[string][]json.RawMessage

	execErr     error
	rollbackErr error

	executed []string
	done     bool
}

func (f *fakeSession) Exec(ctx context.Context, sql string) error {
	f.executed = append(f.executed, sql)
	switch sql {
	case "BEGIN":
		return nil
	case "ROLLBACK":
		return f.rollbackErr
	default:
		f.done = true
		return f.execErr
	}
}

func (f *fakeSession) Tables(ctx context.Context) ([]pgw.TableRef, error) { return f.tables, nil }

func (f *fakeSession) Count(ctx context.Context, schema, table string) (int64, error) {
	if f.done {
		return f.countsAfter[schema+"."+table], nil
	}
	return f.countsBefore[schema+"."+table], nil
}

func (f *fakeSession) SnapshotPairs(ctx context.Context, schema, table string) ([]pgw.RowPair, error) {
	return f.snapshots[schema+"."+table], nil
}

func (f *fakeSession) TailRows(ctx context.Context, schema, table string, n int64) ([]json.RawMessage, error) {
	return f.tails[schema+"."+table], nil
}

func (f *fakeSession) RawRows(ctx context.Context, schema, table string) ([]string, error) {
	return f.raws[schema+"."+table], nil
}

func (f *fakeSession) TouchedRows(ctx context.Context, schema, table string) ([]json.RawMessage, error) {
	return f.touched[schema+"."+table], nil
}

func (f *fakeSession) lastExec() string {
	if len(f.executed) == 0 {
		return ""
	}
	return f.executed[len(f.executed)-1]
}

func peopleSession() *fakeSession {
	return &fakeSession{
		tables:       []pgw.TableRef{{Schema: "public", Name: "people"}},
		countsBefore: map[string]int64{},
		countsAfter:  map[string]int64{},
		snapshots:    map[string][]pgw.RowPair{},
		tails:        map[string][]json.RawMessage{},
		raws:         map[string][]string{},
		touched:      map[string][]json.RawMessage{},
	}
}

func TestEvaluateRejectsTransactionControl(t *testing.T) {
	for _, sql := range []string{
		"BEGIN; DELETE FROM people",
		"commit",
		"DELETE FROM people; rollback",
	} {
		s := peopleSession()
		result, err := Evaluate(context.Background(), s, sql)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "dry run mode")
		assert.Empty(t, result.Changes)
		assert.Empty(t, s.executed, "rejected SQL must never reach the session")
	}
}

func TestEvaluateInsert(t *testing.T) {
	s := peopleSession()
	s.countsBefore["public.people"] = 1
	s.countsAfter["public.people"] = 2
	s.snapshots["public.people"] = []pgw.RowPair{{Raw: `{"id":1}`, Data: json.RawMessage(`{"id":1}`)}}
	s.tails["public.people"] = []json.RawMessage{json.RawMessage(`{"id":2,"name":"bob"}`)}

	result, err := Evaluate(context.Background(), s, "INSERT INTO people (name) VALUES ('bob')")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, int64(1), result.RowsAffected)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, change.Insert, result.Changes[0].Kind)
	assert.JSONEq(t, `{"id":2,"name":"bob"}`, string(result.Changes[0].After))
	assert.Equal(t, "ROLLBACK", s.lastExec())
}

func TestEvaluateDeleteAttribution(t *testing.T) {
	s := peopleSession()
	s.countsBefore["public.people"] = 3
	s.countsAfter["public.people"] = 2
	s.snapshots["public.people"] = []pgw.RowPair{
		{Raw: `{"id":1}`, Data: json.RawMessage(`{"id":1}`)},
		{Raw: `{"id":2}`, Data: json.RawMessage(`{"id":2}`)},
		{Raw: `{"id":3}`, Data: json.RawMessage(`{"id":3}`)},
	}
	s.raws["public.people"] = []string{`{"id":1}`, `{"id":3}`}

	result, err := Evaluate(context.Background(), s, "DELETE FROM people WHERE id = 2")
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, change.Delete, result.Changes[0].Kind)
	assert.JSONEq(t, `{"id":2}`, string(result.Changes[0].Before))
}

func TestEvaluateDeleteWithoutSnapshotIsContentless(t *testing.T) {
	s := peopleSession()
	// Beyond the snapshot bound, so no before image is available.
	s.countsBefore["public.people"] = 5000
	s.countsAfter["public.people"] = 4998

	result, err := Evaluate(context.Background(), s, "DELETE FROM people WHERE id < 3")
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, result.Changes, 2)
	for _, c := range result.Changes {
		assert.Equal(t, change.Delete, c.Kind)
		assert.Nil(t, c.Before)
	}
}

func TestEvaluateUpdate(t *testing.T) {
	s := peopleSession()
	s.countsBefore["public.people"] = 2
	s.countsAfter["public.people"] = 2
	s.snapshots["public.people"] = []pgw.RowPair{
		{Raw: `{"id":1}`, Data: json.RawMessage(`{"id":1}`)},
		{Raw: `{"id":2}`, Data: json.RawMessage(`{"id":2}`)},
	}
	s.touched["public.people"] = []json.RawMessage{json.RawMessage(`{"id":2,"name":"new"}`)}

	result, err := Evaluate(context.Background(), s, "UPDATE people SET name = 'new' WHERE id = 2")
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, change.Update, result.Changes[0].Kind)
	assert.JSONEq(t, `{"id":2,"name":"new"}`, string(result.Changes[0].After))
}

func TestEvaluateExecErrorStillRollsBack(t *testing.T) {
	s := peopleSession()
	s.countsBefore["public.people"] = 1
	s.execErr = assert.AnError

	result, err := Evaluate(context.Background(), s, "DELETE FROM nonexistent")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Empty(t, result.Changes)
	assert.NotNil(t, result.Changes, "changes must serialize as [], not null")
	assert.Equal(t, "ROLLBACK", s.lastExec())
}

func TestEvaluateRollbackFailureDominates(t *testing.T) {
	s := peopleSession()
	s.countsBefore["public.people"] = 1
	s.countsAfter["public.people"] = 2
	s.tails["public.people"] = []json.RawMessage{json.RawMessage(`{"id":2}`)}
	s.rollbackErr = assert.AnError

	result, err := Evaluate(context.Background(), s, "INSERT INTO people DEFAULT VALUES")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "CRITICAL: Rollback failed")
	assert.Empty(t, result.Changes)
}
