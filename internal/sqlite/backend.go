// Package sqlite implements the SQLite storage backend for pantry.
// The database file lives in the configured DataDir and persists across
// attachments; sessions run on the shared sqlstore gateway.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/pantry/internal/sqlstore"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// DBFileName is the database file created inside DataDir.
const DBFileName = "pantry.db"

// dsnPragmas enables WAL and a busy timeout so independent units of work
// can hold transactions on separate connections.
const dsnPragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

var _ types.StorageGateway = (*Backend)(nil)

// Backend is a StorageGateway backed by a SQLite file.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	gateway  *sqlstore.Gateway
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{}
}

// Attach opens (or creates) DataDir/pantry.db and ensures the schema.
// Returns ErrGatewayAttached if already attached.
func (b *Backend) Attach(ctx context.Context, config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrGatewayAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, DBFileName)+dsnPragmas)
	if err != nil {
		return err
	}
	gw := sqlstore.New(db, sqlstore.SQLite)
	if err := gw.Migrate(ctx); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	b.db = db
	b.gateway = gw
	b.config = config
	b.attached = true
	return nil
}

// Begin opens a session in a new database transaction.
// Returns ErrGatewayDetached if the backend is not attached.
func (b *Backend) Begin(ctx context.Context) (types.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrGatewayDetached
	}
	return b.gateway.Begin(ctx)
}

// Detach closes the database. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if err := b.db.Close(); err != nil {
		return err
	}
	b.db = nil
	b.gateway = nil
	b.attached = false
	return nil
}

// Close detaches the backend.
func (b *Backend) Close() error { return b.Detach() }
