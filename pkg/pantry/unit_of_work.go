package pantry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// State is the lifecycle state of a UnitOfWork.
type State int

// Unit of work states. Flushing is transient; Committed and RolledBack are
// terminal.
const (
	StateActive State = iota
	StateFlushing
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFlushing:
		return "flushing"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// UnitOfWork owns one identity map and one storage session. Every entity it
// hands out is the single representative of its row for the unit's
// lifetime. A UnitOfWork is used by one goroutine at a time.
type UnitOfWork struct {
	id        string
	session   types.Session
	identity  *IdentityMap[*Entity]
	state     State
	pending   []*Entity                     // scheduled inserts, in persist order
	snapshots map[types.EntityKey]types.Row // last state read from or written to storage
	logger    *slog.Logger
	newID     func() string
}

// Option configures a UnitOfWork.
type Option func(*options)

type options struct {
	logger *slog.Logger
	newID  func() string
}

// WithLogger sets the logger used for debug events. The default is
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithIDGenerator sets the primary key allocator used by Persist. The
// default allocates UUID v7 strings.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// newUUID generates a UUID v7, falling back to v4 if v7 generation fails.
func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Begin opens a storage session on gw and returns an active unit of work
// with an empty identity map.
func Begin(ctx context.Context, gw types.StorageGateway, opts ...Option) (*UnitOfWork, error) {
	o := options{logger: slog.Default(), newID: newUUID}
	for _, opt := range opts {
		opt(&o)
	}
	session, err := gw.Begin(ctx)
	if err != nil {
		return nil, types.WrapStorage("begin", types.EntityKey{}, err)
	}
	u := &UnitOfWork{
		id:        newUUID(),
		session:   session,
		identity:  NewIdentityMap[*Entity](),
		state:     StateActive,
		snapshots: make(map[types.EntityKey]types.Row),
		newID:     o.newID,
	}
	u.logger = o.logger.With("uow", u.id)
	u.logger.Debug("unit of work started")
	return u, nil
}

// Transact runs fn inside a new unit of work. The unit is committed when fn
// returns nil and rolled back otherwise; fn's error is returned.
func Transact(ctx context.Context, gw types.StorageGateway, fn func(*UnitOfWork) error, opts ...Option) error {
	u, err := Begin(ctx, gw, opts...)
	if err != nil {
		return err
	}
	defer func() {
		// Only reached with an active unit when fn panics.
		if u.state == StateActive {
			_ = u.Rollback(ctx)
		}
	}()

	if err := fn(u); err != nil {
		if u.state == StateActive {
			if rbErr := u.Rollback(ctx); rbErr != nil {
				return errors.Join(err, rbErr)
			}
		}
		return err
	}
	if u.state != StateActive {
		return nil
	}
	return u.Commit(ctx)
}

// ID returns the unit's correlation id.
func (u *UnitOfWork) ID() string { return u.id }

// State returns the current lifecycle state.
func (u *UnitOfWork) State() State { return u.state }

// Contains reports whether e is managed by this unit.
func (u *UnitOfWork) Contains(e *Entity) bool {
	return e != nil && e.uow == u && !u.ended()
}

func (u *UnitOfWork) ended() bool {
	return u.state == StateCommitted || u.state == StateRolledBack
}

func (u *UnitOfWork) checkActive(op string) error {
	if u.state != StateActive {
		return fmt.Errorf("%s: %w (%s)", op, types.ErrInactiveUnitOfWork, u.state)
	}
	return nil
}

// checkMember reports whether e may be linked from an entity u manages.
// Links never cross units by pointer; other units' instances must be
// merged or looked up first.
func (u *UnitOfWork) checkMember(e *Entity) error {
	if !e.Persisted() {
		return types.ErrTransientReference
	}
	if e.uow != u || u.ended() {
		return fmt.Errorf("%s: %w", e.Key(), types.ErrDetachedAccess)
	}
	return nil
}

func (u *UnitOfWork) checkEntry(entry Entry) error {
	if err := u.checkMember(entry.Key); err != nil {
		return err
	}
	return u.checkMember(entry.Value)
}

// Persist makes a transient entity managed: it allocates a primary key when
// the entity has none, registers it in the identity map and schedules its
// insert for the next flush. Persisting an entity this unit already manages
// is a no-op. Entities owned by another unit must go through Merge. Loaded
// references and collection entries must already be managed by this unit.
// On failure the entity is left untouched.
func (u *UnitOfWork) Persist(e *Entity) error {
	if err := u.checkActive("persist"); err != nil {
		return err
	}
	if e.uow == u {
		return nil
	}
	if e.uow != nil {
		return fmt.Errorf("persist %s: %w", e.Key(), types.ErrDetachedAccess)
	}
	if e.entityType == "" {
		return fmt.Errorf("persist: %w: empty entity type", types.ErrInvalidKey)
	}
	if err := e.checkReferences(u); err != nil {
		return fmt.Errorf("persist: %w", err)
	}

	id := e.id
	if id == "" {
		id = u.newID()
	}
	key := types.EntityKey{Type: e.entityType, ID: id}
	if u.identity.Contains(key) {
		return fmt.Errorf("persist %s: %w", key, types.ErrDuplicateEntity)
	}
	if err := u.identity.Put(key, e); err != nil {
		return fmt.Errorf("persist: %w", err)
	}

	e.id = id
	e.uow = u
	for _, c := range e.collections {
		if c.loaded {
			c.dirty = true
		}
	}
	u.pending = append(u.pending, e)
	u.logger.Debug("entity persisted", "key", key.String())
	return nil
}

// Find returns the entities of entityType matching criteria. Pending writes
// are flushed first so the query sees them. Rows already represented in the
// identity map come back as the existing instances.
func (u *UnitOfWork) Find(ctx context.Context, entityType string, criteria types.Criteria) ([]*Entity, error) {
	if err := u.checkActive("find"); err != nil {
		return nil, err
	}
	if err := u.Flush(ctx); err != nil {
		return nil, err
	}
	rows, err := u.session.FetchByCriteria(ctx, entityType, criteria)
	if err != nil {
		return nil, types.WrapStorage("fetch_by_criteria", types.EntityKey{}, err)
	}
	out := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		e, err := u.identity.GetOrLoad(row.Key(), func() (*Entity, error) {
			return u.hydrate(row), nil
		})
		if err != nil {
			return nil, fmt.Errorf("find %s: %w", entityType, err)
		}
		out = append(out, e)
	}
	u.logger.Debug("find", "type", entityType, "rows", len(rows))
	return out, nil
}

// Lookup returns the entity identified by key. An identity map hit costs no
// storage round-trip. A key with no backing row yields (nil, false, nil).
func (u *UnitOfWork) Lookup(ctx context.Context, key types.EntityKey) (*Entity, bool, error) {
	if err := u.checkActive("lookup"); err != nil {
		return nil, false, err
	}
	e, err := u.load(ctx, key)
	if errors.Is(err, types.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// load resolves key through the identity map, fetching the row on a miss.
func (u *UnitOfWork) load(ctx context.Context, key types.EntityKey) (*Entity, error) {
	if u.ended() {
		return nil, fmt.Errorf("load %s: %w", key, types.ErrDetachedAccess)
	}
	return u.identity.GetOrLoad(key, func() (*Entity, error) {
		row, err := u.session.FetchByID(ctx, key)
		if err != nil {
			return nil, types.WrapStorage("fetch_by_id", key, err)
		}
		return u.hydrate(row), nil
	})
}

// loadAssociation fetches one association and maps both ends of every pair
// through the identity map.
func (u *UnitOfWork) loadAssociation(ctx context.Context, owner types.EntityKey, name string) (*Mapping, error) {
	entries, err := u.session.FetchAssociation(ctx, owner, name)
	if err != nil {
		return nil, types.WrapStorage("fetch_association", owner, err)
	}
	m := newMapping(len(entries))
	for _, entry := range entries {
		k, err := u.identity.GetOrLoad(entry.Key.Key(), func() (*Entity, error) {
			return u.hydrate(entry.Key), nil
		})
		if err != nil {
			return nil, err
		}
		v, err := u.identity.GetOrLoad(entry.Value.Key(), func() (*Entity, error) {
			return u.hydrate(entry.Value), nil
		})
		if err != nil {
			return nil, err
		}
		m.set(k, v)
	}
	u.logger.Debug("association loaded", "key", owner.String(), "association", name, "rows", len(entries))
	return m, nil
}

// hydrate builds a managed entity from a row and records its snapshot.
// Collections are not touched; they load on first access.
func (u *UnitOfWork) hydrate(row types.Row) *Entity {
	e := NewEntity(row.Type)
	e.id = row.ID
	e.uow = u
	for k, v := range row.Fields {
		e.fields[k] = v
	}
	for name, key := range row.Refs {
		e.refs[name] = &reference{key: key}
	}
	u.snapshots[row.Key()] = e.row()
	return e
}

// Flush writes pending inserts in persist order, then updates for managed
// entities whose fields or references changed, then rewrites modified
// associations. On error the unit stays active and unwritten changes stay
// queued.
func (u *UnitOfWork) Flush(ctx context.Context) error {
	if err := u.checkActive("flush"); err != nil {
		return err
	}
	u.state = StateFlushing
	defer func() { u.state = StateActive }()

	inserts := len(u.pending)
	for len(u.pending) > 0 {
		e := u.pending[0]
		row := e.row()
		if _, err := u.session.Insert(ctx, row); err != nil {
			return types.WrapStorage("insert", row.Key(), err)
		}
		u.snapshots[row.Key()] = row
		u.pending = u.pending[1:]
	}

	updates := 0
	for _, e := range u.identity.Values() {
		row := e.row()
		if snap, ok := u.snapshots[row.Key()]; ok && rowsEqual(snap, row) {
			continue
		}
		if err := u.session.Update(ctx, row); err != nil {
			return types.WrapStorage("update", row.Key(), err)
		}
		u.snapshots[row.Key()] = row
		updates++
	}

	associations := 0
	for _, e := range u.identity.Values() {
		for _, name := range slices.Sorted(maps.Keys(e.collections)) {
			c := e.collections[name]
			if !c.dirty {
				continue
			}
			if err := u.session.ReplaceAssociation(ctx, e.Key(), name, c.mapping.links()); err != nil {
				return types.WrapStorage("replace_association", e.Key(), err)
			}
			c.dirty = false
			associations++
		}
	}

	if inserts+updates+associations > 0 {
		u.logger.Debug("flushed", "inserts", inserts, "updates", updates, "associations", associations)
	}
	return nil
}

// Commit flushes pending writes and commits the storage session. Afterwards
// the identity map is discarded and every entity the unit handed out is
// detached. If the flush or the session commit fails, the session is rolled
// back and the unit ends RolledBack.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if err := u.checkActive("commit"); err != nil {
		return err
	}
	if err := u.Flush(ctx); err != nil {
		return u.abort(ctx, fmt.Errorf("commit: %w", err))
	}
	u.state = StateFlushing
	if err := u.session.Commit(ctx); err != nil {
		return u.abort(ctx, types.WrapStorage("commit", types.EntityKey{}, err))
	}
	u.end(StateCommitted)
	return nil
}

// Rollback discards pending writes and rolls back the storage session.
// Every entity the unit handed out is detached.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if err := u.checkActive("rollback"); err != nil {
		return err
	}
	err := u.session.Rollback(ctx)
	u.end(StateRolledBack)
	return types.WrapStorage("rollback", types.EntityKey{}, err)
}

func (u *UnitOfWork) abort(ctx context.Context, cause error) error {
	if err := u.session.Rollback(ctx); err != nil {
		cause = errors.Join(cause, types.WrapStorage("rollback", types.EntityKey{}, err))
	}
	u.end(StateRolledBack)
	return cause
}

func (u *UnitOfWork) end(state State) {
	held := u.identity.Len()
	u.state = state
	u.pending = nil
	u.identity.Clear()
	u.snapshots = nil
	u.logger.Debug("unit of work ended", "state", state.String(), "detached", held)
}
