// Package change holds the wire types shared by the polling watcher, the
// dry-run evaluator and the Supabase realtime client. Everything here
// serializes verbatim to the JSON shape the desktop UI consumes.
package change

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind is the class of a row-level change.
type Kind string

const (
	Insert Kind = "INSERT"
	Update Kind = "UPDATE"
	Delete Kind = "DELETE"
)

// Event is a single row-level change observed on a watched table.
// Before/After carry the database-formatted row_to_json object and are
// omitted when the corresponding image is unavailable.
type Event struct {
	ID         string          `json:"id"`
	Schema     string          `json:"schema"`
	Table      string          `json:"table"`
	Kind       Kind            `json:"type"`
	PrimaryKey json.RawMessage `json:"primary_key,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Timestamp  string          `json:"timestamp"`
	Source     string          `json:"source"`
}

// NewEvent stamps a change with a fresh id and the current wall clock.
func NewEvent(schema, table string, kind Kind, source string) Event {
	return Event{
		ID:        uuid.NewString(),
		Schema:    schema,
		Table:     table,
		Kind:      kind,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    source,
	}
}

// DryRunChange is the projection of Event reported by the dry-run
// evaluator: no id, primary key, timestamp or source.
type DryRunChange struct {
	Schema string          `json:"schema"`
	Table  string          `json:"table"`
	Kind   Kind            `json:"type"`
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
}

// DryRunResult is the outcome of evaluating one statement inside an
// always-rolled-back transaction.
type DryRunResult struct {
	Success      bool           `json:"success"`
	Changes      []DryRunChange `json:"changes"`
	Error        string         `json:"error,omitempty"`
	RowsAffected int64          `json:"rows_affected"`
}
