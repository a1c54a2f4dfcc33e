// Package storage opens the StorageGateway selected by a Config. It exposes
// the backend factories while keeping their implementations internal.
//
// Example:
//
//	gw, err := storage.Open(ctx, types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".pantry-db",
//	})
//	if err != nil {
//	    return err
//	}
//	defer gw.Close()
package storage

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/pantry/internal/memory"
	"github.com/mesh-intelligence/pantry/internal/postgres"
	"github.com/mesh-intelligence/pantry/internal/sqlite"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Gateway is a StorageGateway that holds resources until closed.
type Gateway interface {
	types.StorageGateway
	Close() error
}

// Open validates cfg and returns the matching backend, ready for Begin.
func Open(ctx context.Context, cfg types.Config) (Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case types.BackendMemory:
		return memory.New(), nil
	case types.BackendSQLite:
		b := sqlite.NewBackend()
		if err := b.Attach(ctx, cfg); err != nil {
			return nil, fmt.Errorf("attach sqlite: %w", err)
		}
		return b, nil
	case types.BackendPostgres:
		b, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, types.ErrBackendUnknown
	}
}
