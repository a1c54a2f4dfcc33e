package pantry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/pantry/pkg/instrument"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// seedOwned stores a folder and a document whose "folder" reference points
// at it, and returns the detached instances.
func seedOwned(t *testing.T, f *fixture) (doc, folder *Entity) {
	t.Helper()
	uow := f.begin(t)
	folder = named("Folder", "inbox")
	require.NoError(t, uow.Persist(folder))
	doc = named("Document", "doc1")
	require.NoError(t, doc.SetRef("folder", folder))
	require.NoError(t, uow.Persist(doc))
	require.NoError(t, uow.Commit(context.Background()))
	return doc, folder
}

func TestEntity_TransientState(t *testing.T) {
	e := NewEntity("Document")
	assert.Equal(t, "Document", e.Type())
	assert.Empty(t, e.PrimaryKey())
	assert.False(t, e.Persisted())
	assert.False(t, e.Detached())
	assert.False(t, e.Key().Valid())

	e.Set("pages", 3)
	v, ok := e.Get("pages")
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Empty(t, e.GetString("pages"), "non-string field")

	fields := e.Fields()
	fields["pages"] = 4
	v, _ = e.Get("pages")
	assert.Equal(t, 3, v, "Fields returns a copy")

	assert.True(t, e.Collection("bundles").Loaded(), "transient collections start loaded and empty")
}

func TestEntity_RefLoadsLazily(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedOwned(t, f)

	uow := f.begin(t)
	doc := findOne(t, uow, "Document", "doc1")
	assert.Equal(t, 0, f.calls(instrument.OpFetchByID))

	folder, err := doc.Ref(ctx, "folder")
	require.NoError(t, err)
	require.NotNil(t, folder)
	assert.Equal(t, "inbox", folder.GetString("name"))
	assert.Equal(t, 1, f.calls(instrument.OpFetchByID))

	again, err := doc.Ref(ctx, "folder")
	require.NoError(t, err)
	assert.Same(t, folder, again)
	assert.Same(t, folder, findOne(t, uow, "Folder", "inbox"))
	assert.Equal(t, 1, f.calls(instrument.OpFetchByID))

	missing, err := doc.Ref(ctx, "reviewer")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEntity_SetRefIsWrittenOnFlush(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedOwned(t, f)

	uow := f.begin(t)
	doc := findOne(t, uow, "Document", "doc1")
	archive := named("Folder", "archive")
	require.NoError(t, uow.Persist(archive))
	require.NoError(t, doc.SetRef("folder", archive))
	require.NoError(t, uow.Commit(ctx))

	check := f.begin(t)
	folder, err := findOne(t, check, "Document", "doc1").Ref(ctx, "folder")
	require.NoError(t, err)
	assert.Equal(t, "archive", folder.GetString("name"))

	doc = findOne(t, check, "Document", "doc1")
	require.NoError(t, doc.SetRef("folder", nil))
	require.NoError(t, check.Commit(ctx))

	last := f.begin(t)
	folder, err = findOne(t, last, "Document", "doc1").Ref(ctx, "folder")
	require.NoError(t, err)
	assert.Nil(t, folder)
}

func TestEntity_DetachedAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc, _ := seedOwned(t, f)

	assert.True(t, doc.Detached())
	assert.Equal(t, "doc1", doc.GetString("name"), "fields stay readable")

	_, err := doc.Ref(ctx, "folder")
	assert.ErrorIs(t, err, types.ErrDetachedAccess)
	assert.ErrorIs(t, doc.SetCollection("bundles"), types.ErrDetachedAccess)
}

func TestEntity_SetCollectionOnManagedOwnerRequiresPersistedEnds(t *testing.T) {
	f := newFixture(t)
	seedOwned(t, f)

	uow := f.begin(t)
	doc := findOne(t, uow, "Document", "doc1")
	err := doc.SetCollection("bundles", Entry{Key: named("PkgItem", "x"), Value: doc})
	assert.ErrorIs(t, err, types.ErrTransientReference)
	assert.False(t, doc.Collection("bundles").Loaded(), "failed set leaves the collection untouched")
}

func TestEntity_SetRefOnManagedOwnerRejectsOtherUnits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, folder := seedOwned(t, f)

	uow := f.begin(t)
	doc := findOne(t, uow, "Document", "doc1")
	current, err := doc.Ref(ctx, "folder")
	require.NoError(t, err)

	assert.ErrorIs(t, doc.SetRef("folder", folder), types.ErrDetachedAccess)

	other := f.begin(t)
	assert.ErrorIs(t, doc.SetRef("folder", findOne(t, other, "Folder", "inbox")), types.ErrDetachedAccess)
	assert.ErrorIs(t, doc.SetRef("folder", named("Folder", "new")), types.ErrTransientReference)

	got, err := doc.Ref(ctx, "folder")
	require.NoError(t, err)
	assert.Same(t, current, got, "a rejected set leaves the reference as it was")
}

func TestEntity_SetCollectionOnManagedOwnerRejectsDetachedEnds(t *testing.T) {
	f := newFixture(t)
	_, item, doc2 := seedBundles(t, f)

	uow := f.begin(t)
	doc := findOne(t, uow, "Document", "doc1")
	err := doc.SetCollection("bundles", Entry{Key: item, Value: doc2})
	assert.ErrorIs(t, err, types.ErrDetachedAccess)
	assert.False(t, doc.Collection("bundles").Loaded(), "failed set leaves the collection untouched")
}
