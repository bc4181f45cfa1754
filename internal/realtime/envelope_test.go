package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletrace/tabletrace/internal/change"
	"github.com/tabletrace/tabletrace/internal/config"
)

func TestJoinEnvelope(t *testing.T) {
	env, err := joinEnvelope(config.SupabaseConfig{Schemas: []string{"public"}})
	require.NoError(t, err)

	assert.Equal(t, "realtime:*", env.Topic)
	assert.Equal(t, "phx_join", env.Event)
	require.NotNil(t, env.Ref)
	assert.Equal(t, "1", *env.Ref)

	var payload struct {
		Config struct {
			PostgresChanges []map[string]string `json:"postgres_changes"`
		} `json:"config"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	require.Len(t, payload.Config.PostgresChanges, 1)
	assert.Equal(t, "*", payload.Config.PostgresChanges[0]["event"])
	assert.Equal(t, "public", payload.Config.PostgresChanges[0]["schema"])
}

func TestSubscriptionsCrossProduct(t *testing.T) {
	subs := subscriptions(config.SupabaseConfig{
		Schemas: []string{"public", "audit"},
		Tables:  []string{"people", "orders"},
	})
	assert.Len(t, subs, 4)
	for _, sub := range subs {
		assert.Equal(t, "*", sub["event"])
		assert.NotEmpty(t, sub["table"])
	}
}

func TestHeartbeatEnvelope(t *testing.T) {
	env := heartbeatEnvelope()
	assert.Equal(t, "phoenix", env.Topic)
	assert.Equal(t, "heartbeat", env.Event)
	assert.JSONEq(t, "{}", string(env.Payload))
}

func frame(event string, payload any) []byte {
	p, _ := json.Marshal(payload)
	b, _ := json.Marshal(Envelope{Topic: "realtime:*", Event: event, Payload: p})
	return b
}

func TestParseChangeInsert(t *testing.T) {
	raw := frame("postgres_changes", map[string]any{
		"schema":           "public",
		"table":            "people",
		"commit_timestamp": "2026-08-24T12:00:00Z",
		"eventType":        "INSERT",
		"new":              map[string]any{"id": 5, "name": "ada"},
		"old":              map[string]any{},
	})

	ev, ok := ParseChange(raw)
	require.True(t, ok)
	assert.Equal(t, change.Insert, ev.Kind)
	assert.Equal(t, "public", ev.Schema)
	assert.Equal(t, "people", ev.Table)
	assert.Equal(t, "2026-08-24T12:00:00Z", ev.Timestamp)
	assert.Equal(t, "supabase", ev.Source)
	assert.JSONEq(t, `{"id":5}`, string(ev.PrimaryKey))
	assert.JSONEq(t, `{"id":5,"name":"ada"}`, string(ev.After))
	assert.NotEmpty(t, ev.ID)
}

func TestParseChangeDeleteUsesOldID(t *testing.T) {
	raw := frame("postgres_changes", map[string]any{
		"table":     "people",
		"eventType": "DELETE",
		"old":       map[string]any{"id": 9},
	})

	ev, ok := ParseChange(raw)
	require.True(t, ok)
	assert.Equal(t, change.Delete, ev.Kind)
	assert.Equal(t, "public", ev.Schema, "missing schema defaults to public")
	assert.NotEmpty(t, ev.Timestamp, "missing timestamp defaults to wall clock")
	assert.JSONEq(t, `{"id":9}`, string(ev.PrimaryKey))
	assert.JSONEq(t, `{"id":9}`, string(ev.Before))
	assert.Nil(t, ev.After)
}

func TestParseChangeDropsIrrelevantFrames(t *testing.T) {
	cases := [][]byte{
		frame("phx_reply", map[string]any{"status": "ok"}),
		frame("presence_state", map[string]any{}),
		frame("postgres_changes", map[string]any{"eventType": "INSERT"}),           // no table
		frame("postgres_changes", map[string]any{"table": "t", "eventType": "??"}), // unknown type
		[]byte("not json"),
	}
	for _, raw := range cases {
		_, ok := ParseChange(raw)
		assert.False(t, ok, "frame should be dropped: %s", raw)
	}
}
