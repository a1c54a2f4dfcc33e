// Package postgres provides a Postgres-backed StorageGateway using the pgx
// database/sql driver. Schema creation runs on Open.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/mesh-intelligence/pantry/internal/sqlstore"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

const driverName = "pgx"

var _ types.StorageGateway = (*Backend)(nil)

// Backend is a StorageGateway backed by a Postgres database.
type Backend struct {
	*sqlstore.Gateway
	db *sql.DB
}

// Open connects to dsn, pings the server and ensures the schema.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	if dsn == "" {
		return nil, types.ErrDSNRequired
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	gw := sqlstore.New(db, sqlstore.Postgres)
	if err := gw.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Backend{Gateway: gw, db: db}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (b *Backend) DB() *sql.DB { return b.db }

// Close closes the connection pool.
func (b *Backend) Close() error { return b.db.Close() }
