package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tabletrace/tabletrace/internal/change"
	"github.com/tabletrace/tabletrace/internal/config"
)

// Source identifies events produced by the realtime feed.
const Source = "supabase"

// Envelope is the Phoenix channel frame the realtime service speaks.
type Envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

func newEnvelope(topic, event string, payload any, ref *string) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Topic: topic, Event: event, Payload: b, Ref: ref}, nil
}

// joinEnvelope subscribes to postgres_changes for the configured
// schemas, or for the schema x table cross product when explicit tables
// are set.
func joinEnvelope(cfg config.SupabaseConfig) (Envelope, error) {
	ref := "1"
	return newEnvelope("realtime:*", "phx_join", map[string]any{
		"config": map[string]any{
			"postgres_changes": subscriptions(cfg),
		},
	}, &ref)
}

func subscriptions(cfg config.SupabaseConfig) []map[string]string {
	schemas := cfg.WatchedSchemas()
	if len(cfg.Tables) == 0 {
		subs := make([]map[string]string, 0, len(schemas))
		for _, schema := range schemas {
			subs = append(subs, map[string]string{"event": "*", "schema": schema})
		}
		return subs
	}
	subs := make([]map[string]string, 0, len(schemas)*len(cfg.Tables))
	for _, table := range cfg.Tables {
		for _, schema := range schemas {
			subs = append(subs, map[string]string{"event": "*", "schema": schema, "table": table})
		}
	}
	return subs
}

func heartbeatEnvelope() Envelope {
	return Envelope{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage(`{}`)}
}

// realtimePayload is the body of a postgres_changes envelope.
type realtimePayload struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	CommitTimestamp string          `json:"commit_timestamp"`
	EventType       string          `json:"eventType"`
	New             json.RawMessage `json:"new"`
	Old             json.RawMessage `json:"old"`
}

// ParseChange translates one incoming frame into the common change
// shape. Frames that are not postgres_changes, or that lack a table or
// a recognizable event type, are dropped.
func ParseChange(raw []byte) (change.Event, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return change.Event{}, false
	}
	if env.Event != "postgres_changes" {
		return change.Event{}, false
	}

	var p realtimePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return change.Event{}, false
	}
	if p.Table == "" {
		return change.Event{}, false
	}
	var kind change.Kind
	switch p.EventType {
	case "INSERT":
		kind = change.Insert
	case "UPDATE":
		kind = change.Update
	case "DELETE":
		kind = change.Delete
	default:
		return change.Event{}, false
	}

	schema := p.Schema
	if schema == "" {
		schema = "public"
	}
	timestamp := p.CommitTimestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	return change.Event{
		ID:         uuid.NewString(),
		Schema:     schema,
		Table:      p.Table,
		Kind:       kind,
		PrimaryKey: extractID(p.New, p.Old),
		Before:     objectOrNil(p.Old),
		After:      objectOrNil(p.New),
		Timestamp:  timestamp,
		Source:     Source,
	}, true
}

// extractID builds {"id": <value>} from the new record, falling back to
// the old one; absent when neither carries an id column.
func extractID(records ...json.RawMessage) json.RawMessage {
	for _, rec := range records {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(rec, &obj); err != nil {
			continue
		}
		if id, ok := obj["id"]; ok {
			b, _ := json.Marshal(map[string]json.RawMessage{"id": id})
			return b
		}
	}
	return nil
}

// objectOrNil keeps only JSON objects; the feed sends {} or null for
// absent images.
func objectOrNil(rec json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(rec, &obj); err != nil || obj == nil {
		return nil
	}
	return rec
}
