package types

import "context"

// StorageGateway is the durable storage the core consumes. Each unit of work
// opens one Session; sessions are independent and the gateway provides at
// least read-committed isolation between them.
type StorageGateway interface {
	// Begin opens a new storage session.
	Begin(ctx context.Context) (Session, error)
}

// Session executes storage operations for a single unit of work. It returns
// raw rows only. A Session is used by one goroutine at a time.
type Session interface {
	// FetchByID returns the row with the given key.
	// Returns ErrNotFound if no such row exists.
	FetchByID(ctx context.Context, key EntityKey) (Row, error)

	// FetchByCriteria returns every row of entityType matching criteria.
	FetchByCriteria(ctx context.Context, entityType string, criteria Criteria) ([]Row, error)

	// FetchAssociation returns the pairs of the named collection association
	// owned by owner, in insertion order. An association with no pairs
	// yields an empty slice.
	FetchAssociation(ctx context.Context, owner EntityKey, name string) ([]AssociationEntry, error)

	// Insert stores a new row. When row.ID is empty the session assigns one.
	// Returns the ID used.
	Insert(ctx context.Context, row Row) (string, error)

	// Update overwrites the fields and refs of an existing row.
	// Returns ErrNotFound if the row does not exist.
	Update(ctx context.Context, row Row) error

	// ReplaceAssociation rewrites the named association of owner with links.
	ReplaceAssociation(ctx context.Context, owner EntityKey, name string, links []AssociationLink) error

	// Commit makes the session's writes durable and ends the session.
	Commit(ctx context.Context) error

	// Rollback discards the session's writes and ends the session.
	// Rollback after Commit is a no-op.
	Rollback(ctx context.Context) error
}
