package pantry

import (
	"fmt"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// IdentityMap maps entity keys to the single live instance representing
// each row. It is owned by one UnitOfWork and is not synchronized.
type IdentityMap[E any] struct {
	entries map[types.EntityKey]E
	order   []types.EntityKey
}

// NewIdentityMap returns an empty map.
func NewIdentityMap[E any]() *IdentityMap[E] {
	return &IdentityMap[E]{entries: make(map[types.EntityKey]E)}
}

// GetOrLoad returns the instance stored under key. On a miss it calls load
// exactly once, stores the result and returns it. When load fails the key
// stays absent and the error is returned unchanged.
func (m *IdentityMap[E]) GetOrLoad(key types.EntityKey, load func() (E, error)) (E, error) {
	var zero E
	if !key.Valid() {
		return zero, fmt.Errorf("%w: %s", types.ErrInvalidKey, key)
	}
	if e, ok := m.entries[key]; ok {
		return e, nil
	}
	e, err := load()
	if err != nil {
		return zero, err
	}
	m.store(key, e)
	return e, nil
}

// Put stores e under key, replacing any previous instance.
func (m *IdentityMap[E]) Put(key types.EntityKey, e E) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %s", types.ErrInvalidKey, key)
	}
	m.store(key, e)
	return nil
}

func (m *IdentityMap[E]) store(key types.EntityKey, e E) {
	if _, ok := m.entries[key]; !ok {
		m.order = append(m.order, key)
	}
	m.entries[key] = e
}

// Get returns the instance stored under key, if any.
func (m *IdentityMap[E]) Get(key types.EntityKey) (E, bool) {
	e, ok := m.entries[key]
	return e, ok
}

// Contains reports whether key has an instance.
func (m *IdentityMap[E]) Contains(key types.EntityKey) bool {
	_, ok := m.entries[key]
	return ok
}

// Len returns the number of instances held.
func (m *IdentityMap[E]) Len() int { return len(m.entries) }

// Values returns the instances in the order their keys were first stored.
func (m *IdentityMap[E]) Values() []E {
	out := make([]E, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.entries[k])
	}
	return out
}

// Clear drops every instance.
func (m *IdentityMap[E]) Clear() {
	m.entries = make(map[types.EntityKey]E)
	m.order = nil
}
