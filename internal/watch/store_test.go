package watch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreCommitAfterRemove(t *testing.T) {
	s := NewStore()
	s.Insert(TableState{Schema: "public", Table: "people", RowCount: 1})
	s.Remove("public", "people")

	// A poll that was in flight when the table was removed must not
	// resurrect it.
	s.Commit("public", "people", map[string]json.RawMessage{"1": []byte(`{}`)}, 1)
	assert.False(t, s.Contains("public", "people"))
	assert.Empty(t, s.Keys())
}

func TestStoreCommitReplacesSnapshot(t *testing.T) {
	s := NewStore()
	s.Insert(TableState{
		Schema: "public", Table: "people",
		PKColumns: []string{"id"},
		Rows:      map[string]json.RawMessage{"1": []byte(`{"id":1}`)},
		RowCount:  1,
	})

	s.Commit("public", "people", map[string]json.RawMessage{"2": []byte(`{"id":2}`)}, 1)

	states := s.List()
	assert.Len(t, states, 1)
	assert.Equal(t, []string{"id"}, states[0].PKColumns, "commit must not clobber the key columns")
	_, ok := states[0].Rows["2"]
	assert.True(t, ok)
}

func TestStoreClear(t *testing.T) {
	s := NewStore()
	s.Insert(TableState{Schema: "public", Table: "a"})
	s.Insert(TableState{Schema: "public", Table: "b"})
	s.Clear()
	assert.Empty(t, s.List())
}
