package types

import "fmt"

// EntityKey identifies a stored row: the entity type plus its primary key.
// EntityKey is comparable and is used directly as a map key. A key with an
// empty ID belongs to a transient (unsaved) entity and identifies nothing.
type EntityKey struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// NewEntityKey builds a key and returns ErrInvalidKey when either part is empty.
func NewEntityKey(entityType, id string) (EntityKey, error) {
	k := EntityKey{Type: entityType, ID: id}
	if !k.Valid() {
		return EntityKey{}, fmt.Errorf("%w: %q/%q", ErrInvalidKey, entityType, id)
	}
	return k, nil
}

// Valid reports whether the key names a persisted row.
func (k EntityKey) Valid() bool {
	return k.Type != "" && k.ID != ""
}

// Equal reports whether both keys are valid and name the same row.
// Two transient keys are never equal, even when their types match.
func (k EntityKey) Equal(other EntityKey) bool {
	return k.Valid() && k == other
}

func (k EntityKey) String() string {
	if k.ID == "" {
		return k.Type + "#<transient>"
	}
	return k.Type + "#" + k.ID
}
