package pantry

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Merge returns the instance managed by uow that represents the same row as
// detached. The row is taken from the identity map or fetched, then the
// detached instance's scalar fields are copied onto it (last writer wins).
// References the detached instance had loaded are merged recursively;
// unloaded ones are carried over by key. Collections are never loaded by a
// merge. Callers must use the returned instance, not the argument.
//
// Merging an entity without a primary key fails with
// types.ErrTransientMerge. Merging an entity uow already manages returns it
// unchanged, so Merge(Merge(x)) is Merge(x). Nothing is copied unless the
// whole graph merges: a failure leaves every managed instance as it was.
func Merge(ctx context.Context, uow *UnitOfWork, detached *Entity) (*Entity, error) {
	if err := uow.checkActive("merge"); err != nil {
		return nil, err
	}
	p := newMergePlan()
	managed, err := uow.plan(ctx, detached, p)
	if err != nil {
		return nil, err
	}
	uow.apply(p)
	return managed, nil
}

// MergeBatch merges every entity in order and returns the managed
// instances in the same order. Shared references are merged once. It stops
// at the first failure, in which case no instance is changed.
func MergeBatch(ctx context.Context, uow *UnitOfWork, detached []*Entity) ([]*Entity, error) {
	if err := uow.checkActive("merge"); err != nil {
		return nil, err
	}
	p := newMergePlan()
	out := make([]*Entity, 0, len(detached))
	for i, d := range detached {
		m, err := uow.plan(ctx, d, p)
		if err != nil {
			return nil, fmt.Errorf("merge batch item %d: %w", i, err)
		}
		out = append(out, m)
	}
	uow.apply(p)
	return out, nil
}

// mergePlan pairs each detached instance with the managed instance it
// merges into. visited makes the walk cycle-safe.
type mergePlan struct {
	visited map[types.EntityKey]*Entity
	steps   []mergeStep
}

type mergeStep struct {
	managed  *Entity
	detached *Entity
}

func newMergePlan() *mergePlan {
	return &mergePlan{visited: make(map[types.EntityKey]*Entity)}
}

// target returns the managed instance standing in for e after planning.
func (p *mergePlan) target(u *UnitOfWork, e *Entity) *Entity {
	if e.uow == u {
		return e
	}
	return p.visited[e.Key()]
}

// plan resolves d and every loaded reference under it to managed
// instances, failing before anything is copied.
func (u *UnitOfWork) plan(ctx context.Context, d *Entity, p *mergePlan) (*Entity, error) {
	if !d.Persisted() {
		return nil, fmt.Errorf("merge %s: %w", d.Key(), types.ErrTransientMerge)
	}
	if d.uow == u {
		return d, nil
	}
	key := d.Key()
	if m, ok := p.visited[key]; ok {
		return m, nil
	}

	managed, err := u.load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w", key, err)
	}
	p.visited[key] = managed
	p.steps = append(p.steps, mergeStep{managed: managed, detached: d})

	for name, r := range d.refs {
		if r.target == nil {
			continue
		}
		if !r.target.Persisted() {
			return nil, fmt.Errorf("merge %s.%s: %w", key, name, types.ErrTransientReference)
		}
		if _, err := u.plan(ctx, r.target, p); err != nil {
			return nil, err
		}
	}
	return managed, nil
}

// apply copies fields and references of every planned pair.
func (u *UnitOfWork) apply(p *mergePlan) {
	for _, step := range p.steps {
		managed, d := step.managed, step.detached
		for field, v := range d.fields {
			managed.fields[field] = v
		}
		for name, r := range d.refs {
			if r.target == nil {
				if cur, ok := managed.refs[name]; !ok || cur.currentKey() != r.key {
					managed.refs[name] = &reference{key: r.key}
				}
				continue
			}
			target := p.target(u, r.target)
			managed.refs[name] = &reference{key: target.Key(), target: target}
		}
		u.logger.Debug("entity merged", "key", managed.Key().String())
	}
}
