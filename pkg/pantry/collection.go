package pantry

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Entry is one key/value pair of a collection association.
type Entry struct {
	Key   *Entity
	Value *Entity
}

// Mapping is the loaded content of a collection association. Lookups match
// entity keys, so any instance carrying the right identity (managed,
// detached or freshly merged) finds its entry. A transient key only matches
// itself.
type Mapping struct {
	entries []Entry
}

func newMapping(n int) *Mapping {
	return &Mapping{entries: make([]Entry, 0, n)}
}

// find returns the index of the entry whose key matches k. Transient keys
// can only match by pointer.
func (m *Mapping) find(k *Entity) int {
	key := k.Key()
	for i, entry := range m.entries {
		if entry.Key == k {
			return i
		}
		if key.Valid() && entry.Key.Key().Equal(key) {
			return i
		}
	}
	return -1
}

func (m *Mapping) set(key, value *Entity) {
	if i := m.find(key); i >= 0 {
		m.entries[i].Value = value
		return
	}
	m.entries = append(m.entries, Entry{Key: key, Value: value})
}

// Get returns the value stored for key.
func (m *Mapping) Get(key *Entity) (*Entity, bool) {
	if i := m.find(key); i >= 0 {
		return m.entries[i].Value, true
	}
	return nil, false
}

// GetKey returns the value stored under the entity identified by key.
func (m *Mapping) GetKey(key types.EntityKey) (*Entity, bool) {
	for _, entry := range m.entries {
		if entry.Key.Key().Equal(key) {
			return entry.Value, true
		}
	}
	return nil, false
}

// Keys returns the entry keys in association order.
func (m *Mapping) Keys() []*Entity {
	out := make([]*Entity, len(m.entries))
	for i, entry := range m.entries {
		out[i] = entry.Key
	}
	return out
}

// Entries returns a copy of the entries in association order.
func (m *Mapping) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Len returns the number of entries.
func (m *Mapping) Len() int { return len(m.entries) }

func (m *Mapping) links() []types.AssociationLink {
	out := make([]types.AssociationLink, len(m.entries))
	for i, entry := range m.entries {
		out[i] = types.AssociationLink{Key: entry.Key.Key(), Value: entry.Value.Key()}
	}
	return out
}

// LazyCollection stands in for a collection association until it is first
// read. It moves from unloaded to loaded once; later reads are served from
// memory.
type LazyCollection struct {
	owner   *Entity
	name    string
	loaded  bool
	dirty   bool
	mapping *Mapping
}

// Name returns the association name.
func (c *LazyCollection) Name() string { return c.name }

// Loaded reports whether the content has been fetched.
func (c *LazyCollection) Loaded() bool { return c.loaded }

// Resolve returns the association content. The first call on an unloaded
// collection fetches every pair through the owning unit of work and maps
// both ends through its identity map; later calls do no I/O. Resolve fails
// with types.ErrDetachedAccess once the owning unit has ended, loaded or not.
func (c *LazyCollection) Resolve(ctx context.Context) (*Mapping, error) {
	if c.owner.Detached() {
		return nil, fmt.Errorf("resolve %s.%s: %w", c.owner.Key(), c.name, types.ErrDetachedAccess)
	}
	if c.loaded {
		return c.mapping, nil
	}
	m, err := c.owner.uow.loadAssociation(ctx, c.owner.Key(), c.name)
	if err != nil {
		return nil, fmt.Errorf("resolve %s.%s: %w", c.owner.Key(), c.name, err)
	}
	c.mapping = m
	c.loaded = true
	return m, nil
}

// ResolveFor resolves the collection and returns only the entries whose key
// matches one of candidates. Matching compares entity keys; the result is
// keyed by the caller's candidate instances, in candidate order. Candidates
// missing from the association, or transient, are left out.
func (c *LazyCollection) ResolveFor(ctx context.Context, candidates ...*Entity) (*Mapping, error) {
	m, err := c.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	out := newMapping(len(candidates))
	for _, cand := range candidates {
		key := cand.Key()
		if !key.Valid() {
			continue
		}
		if v, ok := m.GetKey(key); ok {
			out.set(cand, v)
		}
	}
	return out, nil
}

// Put sets value for key, loading the collection first if needed. On a
// managed owner both ends must be managed by the same unit of work and the
// association is rewritten on the next flush.
func (c *LazyCollection) Put(ctx context.Context, key, value *Entity) error {
	m, err := c.Resolve(ctx)
	if err != nil {
		return err
	}
	if c.owner.uow != nil {
		if err := c.owner.uow.checkEntry(Entry{Key: key, Value: value}); err != nil {
			return fmt.Errorf("put %s.%s: %w", c.owner.Key(), c.name, err)
		}
		c.dirty = true
	}
	m.set(key, value)
	return nil
}
