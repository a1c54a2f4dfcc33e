package types

import (
	"errors"
	"fmt"
)

// Storage errors.
var (
	ErrStorage   = errors.New("storage error")
	ErrNotFound  = errors.New("entity not found")
	ErrRowExists = errors.New("row already exists")
)

// Identity and lifecycle errors.
var (
	ErrInvalidKey         = errors.New("invalid entity key")
	ErrTransientMerge     = errors.New("cannot merge an entity without a primary key")
	ErrTransientReference = errors.New("entity references an unsaved entity")
	ErrDetachedAccess     = errors.New("entity accessed after its unit of work ended")
	ErrInactiveUnitOfWork = errors.New("unit of work is not active")
	ErrDuplicateEntity    = errors.New("another instance with the same key is already managed")
	ErrSessionClosed      = errors.New("storage session is closed")
	ErrGatewayDetached    = errors.New("storage gateway is detached")
	ErrGatewayAttached    = errors.New("storage gateway is already attached")
)

// StorageError reports a backend failure. It is propagated to the caller
// and never retried by the core.
type StorageError struct {
	Op  string    // Gateway operation, e.g. "fetch_by_id".
	Key EntityKey // Row involved, when there is one.
	Err error
}

func (e *StorageError) Error() string {
	if e.Key.Type != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// WrapStorage wraps err as a StorageError for op. ErrNotFound and errors
// that already are StorageErrors pass through unchanged; nil stays nil.
func WrapStorage(op string, key EntityKey, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Key: key, Err: err}
}
