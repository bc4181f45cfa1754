package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletrace/tabletrace/internal/change"
	"github.com/tabletrace/tabletrace/internal/pgw"
	"github.com/tabletrace/tabletrace/pkg/pgtest"
)

func waitForEvent(t *testing.T, ch <-chan change.Event, kind change.Kind) change.Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", kind)
		}
	}
}

func TestPollerDetectsChanges(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	pgtest.BootOnce(t)
	sbx := pgtest.NewSandbox(t)
	pgtest.CreatePeople(t, sbx)
	pgtest.SeedPeople(t, sbx, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	gw := pgw.NewGateway()
	require.NoError(t, gw.Connect(ctx, sbx.Config()))
	defer gw.Disconnect()

	p := NewPoller(gw, Config{Interval: 50 * time.Millisecond})
	require.NoError(t, p.AddTable(ctx, sbx.Schema, "people"))

	b, ok := p.Start()
	require.True(t, ok)
	defer p.Stop()

	_, err := sbx.DB.ExecContext(ctx,
		`INSERT INTO people (name, email) VALUES ('grace', 'grace@x')`)
	require.NoError(t, err)

	ins := waitForEvent(t, b.Events(), change.Insert)
	assert.Equal(t, sbx.Schema, ins.Schema)
	assert.Equal(t, "people", ins.Table)
	assert.Contains(t, string(ins.After), "grace")
	assert.Equal(t, "polling", ins.Source)
	assert.NotEmpty(t, ins.PrimaryKey)

	_, err = sbx.DB.ExecContext(ctx, `UPDATE people SET name = 'hopper' WHERE name = 'grace'`)
	require.NoError(t, err)

	upd := waitForEvent(t, b.Events(), change.Update)
	assert.Contains(t, string(upd.Before), "grace")
	assert.Contains(t, string(upd.After), "hopper")

	_, err = sbx.DB.ExecContext(ctx, `DELETE FROM people WHERE name = 'hopper'`)
	require.NoError(t, err)

	del := waitForEvent(t, b.Events(), change.Delete)
	assert.Contains(t, string(del.Before), "hopper")
	assert.Nil(t, del.After)

	p.Stop()
	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("bus not closed after Stop")
	}
}
