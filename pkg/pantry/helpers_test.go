package pantry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/pantry/internal/memory"
	"github.com/mesh-intelligence/pantry/pkg/instrument"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// fixture is an in-memory gateway whose round-trips are counted.
type fixture struct {
	gw      types.StorageGateway
	metrics *instrument.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := instrument.NewMetrics(nil)
	return &fixture{
		gw:      instrument.Wrap(memory.New(), instrument.Options{Metrics: m}),
		metrics: m,
	}
}

// calls returns how many times op reached storage.
func (f *fixture) calls(op string) int {
	return int(testutil.ToFloat64(f.metrics.Calls.WithLabelValues(op)))
}

func (f *fixture) begin(t *testing.T) *UnitOfWork {
	t.Helper()
	uow, err := Begin(context.Background(), f.gw, WithLogger(quietLogger()))
	require.NoError(t, err)
	return uow
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sequentialIDs returns an id generator yielding prefix-1, prefix-2, ...
func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func named(entityType, name string) *Entity {
	e := NewEntity(entityType)
	e.Set("name", name)
	return e
}

// seedBundles stores pkgitem1, doc2 and doc1{bundles: pkgitem1 -> doc2} in
// one committed unit and returns the now detached instances.
func seedBundles(t *testing.T, f *fixture) (doc1, item, doc2 *Entity) {
	t.Helper()
	ctx := context.Background()
	uow := f.begin(t)

	item = named("PkgItem", "pkgitem1")
	require.NoError(t, uow.Persist(item))
	doc2 = named("Document", "doc2")
	require.NoError(t, uow.Persist(doc2))

	doc1 = named("Document", "doc1")
	require.NoError(t, doc1.SetCollection("bundles", Entry{Key: item, Value: doc2}))
	require.NoError(t, uow.Persist(doc1))

	require.NoError(t, uow.Commit(ctx))
	return doc1, item, doc2
}

// mockGateway and mockSession let tests inject storage failures.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Begin(ctx context.Context) (types.Session, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(types.Session)
	return s, args.Error(1)
}

type mockSession struct {
	mock.Mock
}

func (m *mockSession) FetchByID(ctx context.Context, key types.EntityKey) (types.Row, error) {
	args := m.Called(ctx, key)
	r, _ := args.Get(0).(types.Row)
	return r, args.Error(1)
}

func (m *mockSession) FetchByCriteria(ctx context.Context, entityType string, criteria types.Criteria) ([]types.Row, error) {
	args := m.Called(ctx, entityType, criteria)
	rows, _ := args.Get(0).([]types.Row)
	return rows, args.Error(1)
}

func (m *mockSession) FetchAssociation(ctx context.Context, owner types.EntityKey, name string) ([]types.AssociationEntry, error) {
	args := m.Called(ctx, owner, name)
	entries, _ := args.Get(0).([]types.AssociationEntry)
	return entries, args.Error(1)
}

func (m *mockSession) Insert(ctx context.Context, row types.Row) (string, error) {
	args := m.Called(ctx, row)
	return args.String(0), args.Error(1)
}

func (m *mockSession) Update(ctx context.Context, row types.Row) error {
	return m.Called(ctx, row).Error(0)
}

func (m *mockSession) ReplaceAssociation(ctx context.Context, owner types.EntityKey, name string, links []types.AssociationLink) error {
	return m.Called(ctx, owner, name, links).Error(0)
}

func (m *mockSession) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSession) Rollback(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// beginMocked opens a unit over a mocked session.
func beginMocked(t *testing.T) (*UnitOfWork, *mockSession) {
	t.Helper()
	s := &mockSession{}
	gw := &mockGateway{}
	gw.On("Begin", mock.Anything).Return(s, nil)
	uow, err := Begin(context.Background(), gw, WithLogger(quietLogger()))
	require.NoError(t, err)
	return uow, s
}
