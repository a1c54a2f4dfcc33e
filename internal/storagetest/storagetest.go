// Package storagetest holds the behaviour every StorageGateway backend must
// share. Backend packages call Run from their own tests with a factory for a
// fresh, empty gateway.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Factory returns an empty gateway. Cleanup is the factory's job (t.Cleanup).
type Factory func(t *testing.T) types.StorageGateway

// Run executes the shared gateway tests as subtests of t.
func Run(t *testing.T, newGateway Factory) {
	t.Run("InsertThenFetch", func(t *testing.T) { testInsertThenFetch(t, newGateway(t)) })
	t.Run("InsertConflict", func(t *testing.T) { testInsertConflict(t, newGateway(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, newGateway(t)) })
	t.Run("FetchByCriteria", func(t *testing.T) { testFetchByCriteria(t, newGateway(t)) })
	t.Run("Associations", func(t *testing.T) { testAssociations(t, newGateway(t)) })
	t.Run("DanglingAssociation", func(t *testing.T) { testDanglingAssociation(t, newGateway(t)) })
	t.Run("IntegerFields", func(t *testing.T) { testIntegerFields(t, newGateway(t)) })
	t.Run("Isolation", func(t *testing.T) { testIsolation(t, newGateway(t)) })
}

func document(id, name string) types.Row {
	return types.Row{Type: "Document", ID: id, Fields: map[string]any{"name": name}}
}

func begin(t *testing.T, gw types.StorageGateway) types.Session {
	t.Helper()
	s, err := gw.Begin(context.Background())
	require.NoError(t, err)
	return s
}

func insert(t *testing.T, s types.Session, rows ...types.Row) {
	t.Helper()
	for _, r := range rows {
		_, err := s.Insert(context.Background(), r)
		require.NoError(t, err)
	}
}

func testInsertThenFetch(t *testing.T, gw types.StorageGateway) {
	ctx := context.Background()
	s := begin(t, gw)

	row := types.Row{
		Type:   "Document",
		ID:     "d1",
		Fields: map[string]any{"name": "doc1", "pages": 12.5, "draft": true},
		Refs:   map[string]types.EntityKey{"folder": {Type: "Folder", ID: "f1"}},
	}
	id, err := s.Insert(ctx, row)
	require.NoError(t, err)
	assert.Equal(t, "d1", id)

	generated, err := s.Insert(ctx, types.Row{Type: "Document"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated)
	require.NoError(t, s.Commit(ctx))

	s = begin(t, gw)
	defer s.Rollback(ctx)
	got, err := s.FetchByID(ctx, row.Key())
	require.NoError(t, err)
	assert.Equal(t, row.Key(), got.Key())
	assert.Equal(t, "doc1", got.Fields["name"])
	assert.EqualValues(t, 12.5, got.Fields["pages"])
	assert.Equal(t, true, got.Fields["draft"])
	assert.Equal(t, types.EntityKey{Type: "Folder", ID: "f1"}, got.Refs["folder"])

	_, err = s.FetchByID(ctx, types.EntityKey{Type: "Document", ID: generated})
	assert.NoError(t, err)

	_, err = s.FetchByID(ctx, types.EntityKey{Type: "Document", ID: "missing"})
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.FetchByID(ctx, types.EntityKey{Type: "Folder", ID: "d1"})
	assert.ErrorIs(t, err, types.ErrNotFound, "keys are scoped by type")
}

func testInsertConflict(t *testing.T, gw types.StorageGateway) {
	ctx := context.Background()
	s := begin(t, gw)
	insert(t, s, document("d1", "doc1"))
	require.NoError(t, s.Commit(ctx))

	s = begin(t, gw)
	defer s.Rollback(ctx)
	_, err := s.Insert(ctx, document("d1", "again"))
	assert.ErrorIs(t, err, types.ErrRowExists)

	insert(t, s, document("d2", "doc2"))
	_, err = s.Insert(ctx, document("d2", "again"))
	assert.ErrorIs(t, err, types.ErrRowExists)
}

func testUpdate(t *testing.T, gw types.StorageGateway) {
	ctx := context.Background()
	s := begin(t, gw)
	insert(t, s, document("d1", "doc1"))
	require.NoError(t, s.Commit(ctx))

	s = begin(t, gw)
	assert.ErrorIs(t, s.Update(ctx, document("missing", "x")), types.ErrNotFound)
	require.NoError(t, s.Update(ctx, document("d1", "renamed")))
	require.NoError(t, s.Commit(ctx))

	s = begin(t, gw)
	defer s.Rollback(ctx)
	got, err := s.FetchByID(ctx, types.EntityKey{Type: "Document", ID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Fields["name"])
}

func testFetchByCriteria(t *testing.T, gw types.StorageGateway) {
	ctx := context.Background()
	s := begin(t, gw)
	defer s.Rollback(ctx)
	insert(t, s,
		document("d1", "doc1"),
		types.Row{Type: "PkgItem", ID: "p1", Fields: map[string]any{"name": "doc1"}},
		document("d2", "doc2"),
		document("d3", "doc1"),
	)

	rows, err := s.FetchByCriteria(ctx, "Document", types.Criteria{"name": "doc1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "d1", rows[0].ID, "rows come back in insertion order")
	assert.Equal(t, "d3", rows[1].ID)

	all, err := s.FetchByCriteria(ctx, "Document", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := s.FetchByCriteria(ctx, "Document", types.Criteria{"name": "nope"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testAssociations(t *testing.T, gw types.StorageGateway) {
	ctx := context.Background()
	owner := document("d1", "doc1")
	p1 := types.Row{Type: "PkgItem", ID: "p1", Fields: map[string]any{"name": "pkgitem1"}}
	p2 := types.Row{Type: "PkgItem", ID: "p2", Fields: map[string]any{"name": "pkgitem2"}}
	child := document("d2", "doc2")

	s := begin(t, gw)
	insert(t, s, owner, p1, p2, child)
	require.NoError(t, s.ReplaceAssociation(ctx, owner.Key(), "bundles", []types.AssociationLink{
		{Key: p2.Key(), Value: child.Key()},
		{Key: p1.Key(), Value: owner.Key()},
	}))
	require.NoError(t, s.Commit(ctx))

	s = begin(t, gw)
	entries, err := s.FetchAssociation(ctx, owner.Key(), "bundles")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, p2.Key(), entries[0].Key.Key(), "links keep their order")
	assert.Equal(t, "pkgitem2", entries[0].Key.Fields["name"])
	assert.Equal(t, "doc2", entries[0].Value.Fields["name"])
	assert.Equal(t, owner.Key(), entries[1].Value.Key())

	empty, err := s.FetchAssociation(ctx, owner.Key(), "reviewers")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.ReplaceAssociation(ctx, owner.Key(), "bundles", []types.AssociationLink{
		{Key: p1.Key(), Value: child.Key()},
	}))
	entries, err = s.FetchAssociation(ctx, owner.Key(), "bundles")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, p1.Key(), entries[0].Key.Key())
	require.NoError(t, s.Commit(ctx))
}

func testDanglingAssociation(t *testing.T, gw types.StorageGateway) {
	ctx := context.Background()
	owner := document("d1", "doc1")
	child := document("d2", "doc2")
	gone := types.EntityKey{Type: "PkgItem", ID: "gone"}

	s := begin(t, gw)
	defer s.Rollback(ctx)
	insert(t, s, owner, child)

	require.NoError(t, s.ReplaceAssociation(ctx, owner.Key(), "bundles", []types.AssociationLink{
		{Key: gone, Value: child.Key()},
	}))
	_, err := s.FetchAssociation(ctx, owner.Key(), "bundles")
	assert.ErrorIs(t, err, types.ErrNotFound, "a link to a missing key row is reported")

	require.NoError(t, s.ReplaceAssociation(ctx, owner.Key(), "bundles", []types.AssociationLink{
		{Key: child.Key(), Value: gone},
	}))
	_, err = s.FetchAssociation(ctx, owner.Key(), "bundles")
	assert.ErrorIs(t, err, types.ErrNotFound, "a link to a missing value row is reported")
}

func testIntegerFields(t *testing.T, gw types.StorageGateway) {
	ctx := context.Background()
	const serial = int64(1<<53 + 1)
	row := types.Row{Type: "Document", ID: "d1", Fields: map[string]any{"serial": serial, "ratio": 0.25}}

	s := begin(t, gw)
	insert(t, s, row)
	require.NoError(t, s.Commit(ctx))

	s = begin(t, gw)
	defer s.Rollback(ctx)
	got, err := s.FetchByID(ctx, row.Key())
	require.NoError(t, err)
	assert.Equal(t, serial, got.Fields["serial"], "integers above 2^53 keep their precision")
	assert.Equal(t, 0.25, got.Fields["ratio"])

	found, err := s.FetchByCriteria(ctx, "Document", types.Criteria{"serial": serial})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func testIsolation(t *testing.T, gw types.StorageGateway) {
	ctx := context.Background()
	writer := begin(t, gw)
	insert(t, writer, document("d1", "doc1"))

	reader := begin(t, gw)
	_, err := reader.FetchByID(ctx, types.EntityKey{Type: "Document", ID: "d1"})
	assert.ErrorIs(t, err, types.ErrNotFound, "uncommitted rows are private to their session")
	require.NoError(t, reader.Rollback(ctx))

	require.NoError(t, writer.Rollback(ctx))
	require.NoError(t, writer.Rollback(ctx), "rollback is idempotent")

	after := begin(t, gw)
	defer after.Rollback(ctx)
	_, err = after.FetchByID(ctx, types.EntityKey{Type: "Document", ID: "d1"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}
