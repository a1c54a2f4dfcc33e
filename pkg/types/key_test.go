package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntityKey(t *testing.T) {
	k, err := NewEntityKey("Document", "d1")
	require.NoError(t, err)
	assert.Equal(t, EntityKey{Type: "Document", ID: "d1"}, k)
	assert.Equal(t, "Document#d1", k.String())

	_, err = NewEntityKey("Document", "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewEntityKey("", "d1")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEntityKeyEqual(t *testing.T) {
	a := EntityKey{Type: "PkgItem", ID: "1"}

	assert.True(t, a.Equal(EntityKey{Type: "PkgItem", ID: "1"}))
	assert.False(t, a.Equal(EntityKey{Type: "Document", ID: "1"}), "type is part of identity")
	assert.False(t, a.Equal(EntityKey{Type: "PkgItem", ID: "2"}))

	transient := EntityKey{Type: "PkgItem"}
	assert.False(t, transient.Equal(transient), "transient keys identify nothing")
	assert.Equal(t, "PkgItem#<transient>", transient.String())
}

func TestCriteriaMatch(t *testing.T) {
	fields := map[string]any{"name": "doc1", "size": float64(3), "draft": false, "serial": int64(1<<53 + 1)}

	tests := []struct {
		name     string
		criteria Criteria
		want     bool
	}{
		{"empty matches all", Criteria{}, true},
		{"string equality", Criteria{"name": "doc1"}, true},
		{"string mismatch", Criteria{"name": "doc2"}, false},
		{"int matches decoded float", Criteria{"size": 3}, true},
		{"bool equality", Criteria{"draft": false}, true},
		{"large integers compare exactly", Criteria{"serial": int64(1 << 53)}, false},
		{"large integer equality", Criteria{"serial": int64(1<<53 + 1)}, true},
		{"missing field", Criteria{"owner": "x"}, false},
		{"all criteria must hold", Criteria{"name": "doc1", "size": 4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.Match(fields))
		})
	}
}

func TestRowClone(t *testing.T) {
	r := Row{
		Type:   "Document",
		ID:     "d1",
		Fields: map[string]any{"name": "doc1"},
		Refs:   map[string]EntityKey{"parent": {Type: "Document", ID: "d0"}},
	}
	c := r.Clone()
	c.Fields["name"] = "changed"
	c.Refs["parent"] = EntityKey{}

	assert.Equal(t, "doc1", r.Fields["name"])
	assert.Equal(t, "d0", r.Refs["parent"].ID)
	assert.Equal(t, r.Key(), c.Key())
}

func TestWrapStorage(t *testing.T) {
	key := EntityKey{Type: "Document", ID: "d1"}
	cause := errors.New("disk on fire")

	err := WrapStorage("fetch_by_id", key, cause)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "fetch_by_id", se.Op)
	assert.Equal(t, key, se.Key)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Contains(t, err.Error(), "Document#d1")

	assert.NoError(t, WrapStorage("insert", key, nil))

	notFound := fmt.Errorf("row: %w", ErrNotFound)
	assert.Same(t, notFound, WrapStorage("fetch_by_id", key, notFound))

	assert.Same(t, err, WrapStorage("commit", EntityKey{}, err), "already wrapped")
}
