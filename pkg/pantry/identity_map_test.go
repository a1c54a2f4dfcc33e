package pantry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

func TestIdentityMap_GetOrLoadLoadsOnce(t *testing.T) {
	m := NewIdentityMap[*Entity]()
	key := types.EntityKey{Type: "Document", ID: "d1"}
	loads := 0
	load := func() (*Entity, error) {
		loads++
		return NewEntity("Document"), nil
	}

	first, err := m.GetOrLoad(key, load)
	require.NoError(t, err)
	second, err := m.GetOrLoad(key, load)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, loads)
	assert.True(t, m.Contains(key))
	assert.Equal(t, 1, m.Len())
}

func TestIdentityMap_FailedLoadLeavesKeyAbsent(t *testing.T) {
	m := NewIdentityMap[string]()
	key := types.EntityKey{Type: "Document", ID: "d1"}
	boom := errors.New("storage unavailable")

	_, err := m.GetOrLoad(key, func() (string, error) { return "", boom })
	assert.Same(t, boom, err)
	assert.False(t, m.Contains(key))

	v, err := m.GetOrLoad(key, func() (string, error) { return "loaded", nil })
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)
}

func TestIdentityMap_RejectsInvalidKeys(t *testing.T) {
	m := NewIdentityMap[string]()
	called := false

	_, err := m.GetOrLoad(types.EntityKey{Type: "Document"}, func() (string, error) {
		called = true
		return "x", nil
	})
	assert.ErrorIs(t, err, types.ErrInvalidKey)
	assert.False(t, called)

	assert.ErrorIs(t, m.Put(types.EntityKey{ID: "d1"}, "x"), types.ErrInvalidKey)
	assert.Equal(t, 0, m.Len())
}

func TestIdentityMap_PutOverwritesAndKeepsOrder(t *testing.T) {
	m := NewIdentityMap[string]()
	a := types.EntityKey{Type: "T", ID: "a"}
	b := types.EntityKey{Type: "T", ID: "b"}

	require.NoError(t, m.Put(a, "a1"))
	require.NoError(t, m.Put(b, "b1"))
	require.NoError(t, m.Put(a, "a2"))

	got, ok := m.Get(a)
	assert.True(t, ok)
	assert.Equal(t, "a2", got)
	assert.Equal(t, []string{"a2", "b1"}, m.Values())

	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Contains(a))
	assert.Empty(t, m.Values())
}
