// Package watch implements the polling change detector: a per-table
// snapshot store and a poller that re-reads each watched table on a
// fixed cadence and diffs it against the stored snapshot.
package watch

import (
	"encoding/json"
	"sync"
)

// TableState is the stored snapshot of one watched table. Rows maps the
// primary-key fingerprint (computed in SQL, opaque outside this
// package) to the database-formatted row JSON. A Rows map is never
// mutated after it is stored, only replaced whole, so a cloned
// TableState can be read without the store lock.
type TableState struct {
	Schema    string
	Table     string
	PKColumns []string
	Rows      map[string]json.RawMessage
	RowCount  int64
}

// Key returns the store key, "schema.table".
func (t TableState) Key() string { return t.Schema + "." + t.Table }

// Store holds the snapshots of every watched table. Entries are few and
// operations short, so a single exclusive lock covers everything; the
// lock is never held across I/O.
type Store struct {
	mu     sync.Mutex
	tables map[string]TableState
}

func NewStore() *Store {
	return &Store{tables: make(map[string]TableState)}
}

func (s *Store) Contains(schema, table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[schema+"."+table]
	return ok
}

func (s *Store) Insert(state TableState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[state.Key()] = state
}

func (s *Store) Remove(schema, table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, schema+"."+table)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[string]TableState)
}

// List returns a cloned slice of states so the poller can run its
// queries without holding the lock.
func (s *Store) List() []TableState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TableState, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t)
	}
	return out
}

// Keys returns the watched "schema.table" names.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tables))
	for k := range s.tables {
		out = append(out, k)
	}
	return out
}

// Commit atomically replaces the snapshot of one table. A table removed
// while its poll was in flight stays removed.
func (s *Store) Commit(schema, table string, rows map[string]json.RawMessage, rowCount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.tables[schema+"."+table]
	if !ok {
		return
	}
	state.Rows = rows
	state.RowCount = rowCount
	s.tables[schema+"."+table] = state
}
