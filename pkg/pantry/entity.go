package pantry

import (
	"context"
	"fmt"
	"maps"
	"reflect"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Entity is a stored record: a type tag, a primary key (empty until first
// persisted), scalar fields, single-valued references and collection
// associations. An Entity is owned by at most one UnitOfWork; once that unit
// ends the entity is detached.
type Entity struct {
	entityType  string
	id          string
	fields      map[string]any
	refs        map[string]*reference
	collections map[string]*LazyCollection
	uow         *UnitOfWork
}

// reference is a single-valued association. target is nil until the
// reference is resolved or set by the application.
type reference struct {
	key    types.EntityKey
	target *Entity
}

func (r *reference) currentKey() types.EntityKey {
	if r.target != nil {
		return r.target.Key()
	}
	return r.key
}

// NewEntity returns a transient entity of the given type.
func NewEntity(entityType string) *Entity {
	return &Entity{
		entityType:  entityType,
		fields:      make(map[string]any),
		refs:        make(map[string]*reference),
		collections: make(map[string]*LazyCollection),
	}
}

// Type returns the entity type tag.
func (e *Entity) Type() string { return e.entityType }

// PrimaryKey returns the primary key, or "" for a transient entity.
func (e *Entity) PrimaryKey() string { return e.id }

// Key returns the entity's identity. The key is invalid while the entity is
// transient.
func (e *Entity) Key() types.EntityKey {
	return types.EntityKey{Type: e.entityType, ID: e.id}
}

// Persisted reports whether the entity has a primary key.
func (e *Entity) Persisted() bool { return e.id != "" }

// Detached reports whether the unit of work that owned the entity has ended.
func (e *Entity) Detached() bool {
	return e.uow != nil && e.uow.ended()
}

func (e *Entity) managed() bool {
	return e.uow != nil && !e.uow.ended()
}

// Get returns a scalar field. Fields stay readable after detachment.
func (e *Entity) Get(field string) (any, bool) {
	v, ok := e.fields[field]
	return v, ok
}

// GetString returns a string field, or "" when absent or not a string.
func (e *Entity) GetString(field string) string {
	s, _ := e.fields[field].(string)
	return s
}

// Set assigns a scalar field. Changes on a managed entity are written on
// the next flush.
func (e *Entity) Set(field string, value any) {
	e.fields[field] = value
}

// Fields returns a copy of the scalar fields.
func (e *Entity) Fields() map[string]any {
	return maps.Clone(e.fields)
}

// Ref returns the entity referenced by name, loading it through the owning
// unit of work on first access. It returns nil when the reference is unset.
func (e *Entity) Ref(ctx context.Context, name string) (*Entity, error) {
	if e.Detached() {
		return nil, fmt.Errorf("ref %s.%s: %w", e.Key(), name, types.ErrDetachedAccess)
	}
	r, ok := e.refs[name]
	if !ok {
		return nil, nil
	}
	if r.target != nil || e.uow == nil {
		return r.target, nil
	}
	target, err := e.uow.load(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("ref %s.%s: %w", e.Key(), name, err)
	}
	r.target = target
	return target, nil
}

// Refs returns the key each reference points at, without loading targets.
func (e *Entity) Refs() map[string]types.EntityKey {
	out := make(map[string]types.EntityKey, len(e.refs))
	for name, r := range e.refs {
		out[name] = r.currentKey()
	}
	return out
}

// SetRef points the named reference at target; a nil target clears it.
// On a managed entity the target must be managed by the same unit of work:
// transient targets fail with types.ErrTransientReference and instances of
// another unit with types.ErrDetachedAccess. Detached entities accept any
// target, to be checked when they are merged.
func (e *Entity) SetRef(name string, target *Entity) error {
	if target == nil {
		delete(e.refs, name)
		return nil
	}
	if e.managed() {
		if err := e.uow.checkMember(target); err != nil {
			return fmt.Errorf("set ref %s.%s: %w", e.Key(), name, err)
		}
	}
	e.refs[name] = &reference{key: target.Key(), target: target}
	return nil
}

// Collection returns the named collection association. On a managed entity
// the collection starts unloaded and hits storage on the first Resolve; on a
// transient entity it starts loaded and empty.
func (e *Entity) Collection(name string) *LazyCollection {
	if c, ok := e.collections[name]; ok {
		return c
	}
	c := &LazyCollection{owner: e, name: name}
	if e.uow == nil {
		c.loaded = true
		c.mapping = newMapping(0)
	}
	e.collections[name] = c
	return c
}

// SetCollection replaces the content of the named collection. On a managed
// entity both ends of every entry must be managed by the same unit of work,
// and the association is rewritten on the next flush.
func (e *Entity) SetCollection(name string, entries ...Entry) error {
	if e.Detached() {
		return fmt.Errorf("set collection %s.%s: %w", e.Key(), name, types.ErrDetachedAccess)
	}
	m := newMapping(len(entries))
	for _, entry := range entries {
		if e.uow != nil {
			if err := e.uow.checkEntry(entry); err != nil {
				return fmt.Errorf("set collection %s.%s: %w", e.Key(), name, err)
			}
		}
		m.set(entry.Key, entry.Value)
	}
	c := e.Collection(name)
	c.mapping = m
	c.loaded = true
	c.dirty = e.uow != nil
	return nil
}

// checkReferences verifies that every loaded reference and collection
// entry can be stored by u: transient ends fail with ErrTransientReference,
// instances of another unit with ErrDetachedAccess.
func (e *Entity) checkReferences(u *UnitOfWork) error {
	for name, r := range e.refs {
		if r.target == nil {
			continue
		}
		if err := u.checkMember(r.target); err != nil {
			return fmt.Errorf("%s.%s: %w", e.entityType, name, err)
		}
	}
	for name, c := range e.collections {
		if !c.loaded {
			continue
		}
		for _, entry := range c.mapping.entries {
			if err := u.checkEntry(entry); err != nil {
				return fmt.Errorf("%s.%s: %w", e.entityType, name, err)
			}
		}
	}
	return nil
}

// row renders the entity's current state for storage.
func (e *Entity) row() types.Row {
	r := types.Row{
		Type:   e.entityType,
		ID:     e.id,
		Fields: maps.Clone(e.fields),
		Refs:   make(map[string]types.EntityKey, len(e.refs)),
	}
	for name, ref := range e.refs {
		r.Refs[name] = ref.currentKey()
	}
	return r
}

// rowsEqual compares the stored state of two rows, treating nil and empty
// maps alike.
func rowsEqual(a, b types.Row) bool {
	if a.Key() != b.Key() || len(a.Fields) != len(b.Fields) || len(a.Refs) != len(b.Refs) {
		return false
	}
	for k, v := range a.Fields {
		w, ok := b.Fields[k]
		if !ok || !reflect.DeepEqual(v, w) {
			return false
		}
	}
	for k, v := range a.Refs {
		if w, ok := b.Refs[k]; !ok || w != v {
			return false
		}
	}
	return true
}
