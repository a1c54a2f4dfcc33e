package pantry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// These scenarios walk a document and its package-item bundles across unit
// of work boundaries.

func TestScenario_SingleUnit(t *testing.T) {
	ctx := context.Background()
	uow := newFixture(t).begin(t)

	item := named("PkgItem", "pkgitem1")
	doc2 := named("Document", "doc2")
	doc1 := named("Document", "doc1")
	require.NoError(t, uow.Persist(item))
	require.NoError(t, uow.Persist(doc2))
	require.NoError(t, doc1.SetCollection("bundles", Entry{Key: item, Value: doc2}))
	require.NoError(t, uow.Persist(doc1))

	found := findOne(t, uow, "Document", "doc1")
	assert.Same(t, doc1, found)

	m, err := found.Collection("bundles").Resolve(ctx)
	require.NoError(t, err)
	v, ok := m.Get(item)
	require.True(t, ok)
	assert.Same(t, doc2, v)
	require.NoError(t, uow.Commit(ctx))
}

func TestScenario_FindInLaterUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBundles(t, f)

	uow := f.begin(t)
	doc1 := findOne(t, uow, "Document", "doc1")
	m, err := doc1.Collection("bundles").Resolve(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	entry := m.Entries()[0]
	assert.Equal(t, "pkgitem1", entry.Key.GetString("name"))
	assert.Equal(t, "doc2", entry.Value.GetString("name"))
	require.NoError(t, uow.Commit(ctx))
}

func TestScenario_MergeParentAndKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc1, item, _ := seedBundles(t, f)

	uow := f.begin(t)
	parent, err := Merge(ctx, uow, doc1)
	require.NoError(t, err)
	key, err := Merge(ctx, uow, item)
	require.NoError(t, err)
	assert.NotSame(t, doc1, parent)
	assert.NotSame(t, item, key)

	bundles := parent.Collection("bundles")
	assert.False(t, bundles.Loaded())
	m, err := bundles.Resolve(ctx)
	require.NoError(t, err)

	v, ok := m.Get(key)
	require.True(t, ok)
	assert.Equal(t, "doc2", v.GetString("name"))
	assert.Same(t, key, m.Keys()[0], "the association reuses the merged instance")
	require.NoError(t, uow.Commit(ctx))
}

func TestScenario_MergeRefetchedEntities(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBundles(t, f)

	reader := f.begin(t)
	doc1 := findOne(t, reader, "Document", "doc1")
	item := findOne(t, reader, "PkgItem", "pkgitem1")
	require.NoError(t, reader.Commit(ctx))

	_, err := doc1.Collection("bundles").Resolve(ctx)
	require.ErrorIs(t, err, types.ErrDetachedAccess)

	uow := f.begin(t)
	merged, err := MergeBatch(ctx, uow, []*Entity{doc1, item})
	require.NoError(t, err)

	m, err := merged[0].Collection("bundles").Resolve(ctx)
	require.NoError(t, err)
	v, ok := m.Get(merged[1])
	require.True(t, ok)
	assert.Equal(t, "doc2", v.GetString("name"))

	v, ok = m.Get(item)
	require.True(t, ok, "a detached instance still finds its entry by key")
	assert.Equal(t, "doc2", v.GetString("name"))
	require.NoError(t, uow.Commit(ctx))
}

func TestScenario_BatchLookupKeyedByCallerInstances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	setup := f.begin(t)
	items := []*Entity{named("PkgItem", "pkgitem1"), named("PkgItem", "pkgitem2"), named("PkgItem", "pkgitem3")}
	var entries []Entry
	for i, item := range items {
		child := named("Document", "child"+string(rune('1'+i)))
		require.NoError(t, setup.Persist(item))
		require.NoError(t, setup.Persist(child))
		entries = append(entries, Entry{Key: item, Value: child})
	}
	parent := named("Document", "parent")
	require.NoError(t, parent.SetCollection("bundles", entries...))
	require.NoError(t, setup.Persist(parent))
	require.NoError(t, setup.Commit(ctx))

	uow := f.begin(t)
	managed, err := Merge(ctx, uow, parent)
	require.NoError(t, err)
	children, err := managed.Collection("bundles").ResolveFor(ctx, items[0], items[2])
	require.NoError(t, err)

	require.Equal(t, 2, children.Len())
	c1, ok := children.Get(items[0])
	require.True(t, ok)
	assert.Equal(t, "child1", c1.GetString("name"))
	c3, ok := children.Get(items[2])
	require.True(t, ok)
	assert.Equal(t, "child3", c3.GetString("name"))
	assert.Same(t, items[0], children.Keys()[0])
	require.NoError(t, uow.Commit(ctx))
}
