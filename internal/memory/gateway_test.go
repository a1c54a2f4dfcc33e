package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/pantry/internal/storagetest"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

func TestGateway_Contract(t *testing.T) {
	storagetest.Run(t, func(*testing.T) types.StorageGateway { return New() })
}

func doc(id, name string) types.Row {
	return types.Row{Type: "Document", ID: id, Fields: map[string]any{"name": name}}
}

func TestSession_WritesAreIsolatedUntilCommit(t *testing.T) {
	ctx := context.Background()
	g := New()

	writer, err := g.Begin(ctx)
	require.NoError(t, err)
	reader, err := g.Begin(ctx)
	require.NoError(t, err)

	id, err := writer.Insert(ctx, doc("d1", "doc1"))
	require.NoError(t, err)
	assert.Equal(t, "d1", id)

	got, err := writer.FetchByID(ctx, types.EntityKey{Type: "Document", ID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, "doc1", got.Fields["name"])

	_, err = reader.FetchByID(ctx, types.EntityKey{Type: "Document", ID: "d1"})
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, 0, g.Len())

	require.NoError(t, writer.Commit(ctx))
	assert.Equal(t, 1, g.Len())

	got, err = reader.FetchByID(ctx, types.EntityKey{Type: "Document", ID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, "doc1", got.Fields["name"])
}

func TestSession_ReturnedRowsAreCopies(t *testing.T) {
	ctx := context.Background()
	g := New()
	s, err := g.Begin(ctx)
	require.NoError(t, err)

	row := doc("d1", "doc1")
	_, err = s.Insert(ctx, row)
	require.NoError(t, err)
	row.Fields["name"] = "mutated"

	got, err := s.FetchByID(ctx, row.Key())
	require.NoError(t, err)
	assert.Equal(t, "doc1", got.Fields["name"])
	got.Fields["name"] = "mutated"

	again, err := s.FetchByID(ctx, row.Key())
	require.NoError(t, err)
	assert.Equal(t, "doc1", again.Fields["name"])
}

func TestSession_InsertAllocatesMissingID(t *testing.T) {
	ctx := context.Background()
	s, err := New().Begin(ctx)
	require.NoError(t, err)

	id, err := s.Insert(ctx, types.Row{Type: "Document"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.FetchByID(ctx, types.EntityKey{Type: "Document", ID: id})
	assert.NoError(t, err)
}

func TestSession_InsertAndUpdateConflicts(t *testing.T) {
	ctx := context.Background()
	g := New()

	first, err := g.Begin(ctx)
	require.NoError(t, err)
	second, err := g.Begin(ctx)
	require.NoError(t, err)

	_, err = first.Insert(ctx, doc("d1", "a"))
	require.NoError(t, err)
	_, err = first.Insert(ctx, doc("d1", "b"))
	assert.ErrorIs(t, err, types.ErrRowExists)

	_, err = second.Insert(ctx, doc("d1", "c"))
	require.NoError(t, err, "the other session has not committed yet")

	require.NoError(t, first.Commit(ctx))
	assert.ErrorIs(t, second.Commit(ctx), types.ErrRowExists)
	require.NoError(t, second.Rollback(ctx))

	third, err := g.Begin(ctx)
	require.NoError(t, err)
	got, err := third.FetchByID(ctx, types.EntityKey{Type: "Document", ID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, "a", got.Fields["name"])

	assert.ErrorIs(t, third.Update(ctx, doc("d9", "x")), types.ErrNotFound)
	require.NoError(t, third.Update(ctx, doc("d1", "a2")))
	require.NoError(t, third.Commit(ctx))
	assert.Equal(t, 1, g.Len())
}

func TestSession_FetchByCriteria(t *testing.T) {
	ctx := context.Background()
	g := New()
	s, err := g.Begin(ctx)
	require.NoError(t, err)

	for _, r := range []types.Row{
		doc("d1", "doc1"),
		doc("d2", "doc2"),
		{Type: "PkgItem", ID: "p1", Fields: map[string]any{"name": "doc1"}},
	} {
		_, err := s.Insert(ctx, r)
		require.NoError(t, err)
	}
	require.NoError(t, s.Commit(ctx))

	s, err = g.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Insert(ctx, doc("d3", "doc1"))
	require.NoError(t, err)

	rows, err := s.FetchByCriteria(ctx, "Document", types.Criteria{"name": "doc1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "d1", rows[0].ID)
	assert.Equal(t, "d3", rows[1].ID)

	all, err := s.FetchByCriteria(ctx, "Document", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSession_Associations(t *testing.T) {
	ctx := context.Background()
	g := New()
	s, err := g.Begin(ctx)
	require.NoError(t, err)

	owner := doc("d1", "doc1")
	item := types.Row{Type: "PkgItem", ID: "p1", Fields: map[string]any{"name": "pkgitem1"}}
	child := doc("d2", "doc2")
	for _, r := range []types.Row{owner, item, child} {
		_, err := s.Insert(ctx, r)
		require.NoError(t, err)
	}
	links := []types.AssociationLink{{Key: item.Key(), Value: child.Key()}}
	require.NoError(t, s.ReplaceAssociation(ctx, owner.Key(), "bundles", links))
	links[0].Value = owner.Key()

	entries, err := s.FetchAssociation(ctx, owner.Key(), "bundles")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pkgitem1", entries[0].Key.Fields["name"])
	assert.Equal(t, "doc2", entries[0].Value.Fields["name"], "stored links are copies")

	empty, err := s.FetchAssociation(ctx, child.Key(), "bundles")
	require.NoError(t, err)
	assert.Empty(t, empty)

	dangling := []types.AssociationLink{{Key: types.EntityKey{Type: "PkgItem", ID: "gone"}, Value: child.Key()}}
	require.NoError(t, s.ReplaceAssociation(ctx, owner.Key(), "bundles", dangling))
	_, err = s.FetchAssociation(ctx, owner.Key(), "bundles")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSession_ClosedAfterEnd(t *testing.T) {
	ctx := context.Background()
	g := New()

	committed, err := g.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, committed.Commit(ctx))
	_, err = committed.FetchByID(ctx, types.EntityKey{Type: "Document", ID: "d1"})
	assert.ErrorIs(t, err, types.ErrSessionClosed)
	assert.ErrorIs(t, committed.Commit(ctx), types.ErrSessionClosed)

	rolledBack, err := g.Begin(ctx)
	require.NoError(t, err)
	_, err = rolledBack.Insert(ctx, doc("d1", "doc1"))
	require.NoError(t, err)
	require.NoError(t, rolledBack.Rollback(ctx))
	_, err = rolledBack.Insert(ctx, doc("d2", "doc2"))
	assert.ErrorIs(t, err, types.ErrSessionClosed)
	assert.Equal(t, 0, g.Len())
}

func TestGateway_BeginHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Begin(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
