// Package memory provides an in-memory StorageGateway used for tests and
// ephemeral environments. Each session writes to a private overlay that is
// applied to the shared state on Commit, so uncommitted writes are never
// visible to other sessions.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Compile-time contract assertions.
var (
	_ types.StorageGateway = (*Gateway)(nil)
	_ types.Session        = (*session)(nil)
)

type assocKey struct {
	owner types.EntityKey
	name  string
}

type state struct {
	rows   map[types.EntityKey]types.Row
	order  []types.EntityKey
	assocs map[assocKey][]types.AssociationLink
}

func newState() state {
	return state{
		rows:   make(map[types.EntityKey]types.Row),
		assocs: make(map[assocKey][]types.AssociationLink),
	}
}

// Gateway is an in-memory StorageGateway. It is safe for concurrent use.
type Gateway struct {
	mu    sync.RWMutex
	state state
}

// New returns an empty gateway.
func New() *Gateway {
	return &Gateway{state: newState()}
}

// Begin opens a session with an empty write overlay.
func (g *Gateway) Begin(ctx context.Context) (types.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{gw: g, overlay: newState(), inserts: make(map[types.EntityKey]bool)}, nil
}

// Close is a no-op; it lets the gateway stand in wherever a closable
// backend is expected.
func (g *Gateway) Close() error { return nil }

// Len returns the number of committed rows.
func (g *Gateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.state.rows)
}

// session reads committed state through its own overlay of writes.
type session struct {
	gw      *Gateway
	overlay state
	inserts map[types.EntityKey]bool
	closed  bool
}

func (s *session) check(ctx context.Context) error {
	if s.closed {
		return types.ErrSessionClosed
	}
	return ctx.Err()
}

// row returns the current row for key; the caller must hold gw.mu.
func (s *session) row(key types.EntityKey) (types.Row, bool) {
	if r, ok := s.overlay.rows[key]; ok {
		return r, true
	}
	r, ok := s.gw.state.rows[key]
	return r, ok
}

func (s *session) FetchByID(ctx context.Context, key types.EntityKey) (types.Row, error) {
	if err := s.check(ctx); err != nil {
		return types.Row{}, err
	}
	s.gw.mu.RLock()
	defer s.gw.mu.RUnlock()

	r, ok := s.row(key)
	if !ok {
		return types.Row{}, fmt.Errorf("%s: %w", key, types.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *session) FetchByCriteria(ctx context.Context, entityType string, criteria types.Criteria) ([]types.Row, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.gw.mu.RLock()
	defer s.gw.mu.RUnlock()

	var out []types.Row
	visit := func(key types.EntityKey) {
		if key.Type != entityType {
			return
		}
		r, _ := s.row(key)
		if criteria.Match(r.Fields) {
			out = append(out, r.Clone())
		}
	}
	for _, key := range s.gw.state.order {
		visit(key)
	}
	for _, key := range s.overlay.order {
		if _, committed := s.gw.state.rows[key]; !committed {
			visit(key)
		}
	}
	return out, nil
}

func (s *session) FetchAssociation(ctx context.Context, owner types.EntityKey, name string) ([]types.AssociationEntry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.gw.mu.RLock()
	defer s.gw.mu.RUnlock()

	ak := assocKey{owner: owner, name: name}
	links, ok := s.overlay.assocs[ak]
	if !ok {
		links = s.gw.state.assocs[ak]
	}
	out := make([]types.AssociationEntry, 0, len(links))
	for _, l := range links {
		k, ok := s.row(l.Key)
		if !ok {
			return nil, fmt.Errorf("association %s.%s: dangling key %s: %w", owner, name, l.Key, types.ErrNotFound)
		}
		v, ok := s.row(l.Value)
		if !ok {
			return nil, fmt.Errorf("association %s.%s: dangling value %s: %w", owner, name, l.Value, types.ErrNotFound)
		}
		out = append(out, types.AssociationEntry{Key: k.Clone(), Value: v.Clone()})
	}
	return out, nil
}

func (s *session) Insert(ctx context.Context, row types.Row) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	if row.ID == "" {
		row.ID = uuid.Must(uuid.NewV7()).String()
	}
	s.gw.mu.RLock()
	_, exists := s.row(row.Key())
	s.gw.mu.RUnlock()
	if exists {
		return "", fmt.Errorf("insert %s: %w", row.Key(), types.ErrRowExists)
	}
	s.overlay.rows[row.Key()] = row.Clone()
	s.overlay.order = append(s.overlay.order, row.Key())
	s.inserts[row.Key()] = true
	return row.ID, nil
}

func (s *session) Update(ctx context.Context, row types.Row) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.gw.mu.RLock()
	_, exists := s.row(row.Key())
	s.gw.mu.RUnlock()
	if !exists {
		return fmt.Errorf("update %s: %w", row.Key(), types.ErrNotFound)
	}
	if _, ok := s.overlay.rows[row.Key()]; !ok {
		s.overlay.order = append(s.overlay.order, row.Key())
	}
	s.overlay.rows[row.Key()] = row.Clone()
	return nil
}

func (s *session) ReplaceAssociation(ctx context.Context, owner types.EntityKey, name string, links []types.AssociationLink) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.overlay.assocs[assocKey{owner: owner, name: name}] = slices.Clone(links)
	return nil
}

// Commit applies the overlay to the shared state. A row inserted by this
// session that another session committed first fails the whole commit.
func (s *session) Commit(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.gw.mu.Lock()
	defer s.gw.mu.Unlock()

	for key := range s.inserts {
		if _, ok := s.gw.state.rows[key]; ok {
			return fmt.Errorf("commit %s: %w", key, types.ErrRowExists)
		}
	}
	for _, key := range s.overlay.order {
		if _, ok := s.gw.state.rows[key]; !ok {
			s.gw.state.order = append(s.gw.state.order, key)
		}
		s.gw.state.rows[key] = s.overlay.rows[key]
	}
	for ak, links := range s.overlay.assocs {
		s.gw.state.assocs[ak] = links
	}
	s.closed = true
	return nil
}

func (s *session) Rollback(context.Context) error {
	s.closed = true
	s.overlay = newState()
	s.inserts = nil
	return nil
}
