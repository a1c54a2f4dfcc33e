// Package sqlstore implements the StorageGateway over database/sql. Rows
// live in one entities table (fields and refs stored as JSON text) and
// collection associations in one associations table. The SQLite and
// Postgres backends share this code and differ only by Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Compile-time contract assertions.
var (
	_ types.StorageGateway = (*Gateway)(nil)
	_ types.Session        = (*session)(nil)
)

// Gateway opens one database transaction per session.
type Gateway struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps db. Call Migrate before the first session.
func New(db *sql.DB, dialect Dialect) *Gateway {
	return &Gateway{db: db, dialect: dialect}
}

// Migrate creates the storage tables if they do not exist.
func (g *Gateway) Migrate(ctx context.Context) error {
	for _, stmt := range g.dialect.createTable {
		if _, err := g.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// Begin starts a database transaction at the driver's default isolation
// level (read committed or stronger on both supported engines).
func (g *Gateway) Begin(ctx context.Context) (types.Session, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &session{tx: tx, d: g.dialect}, nil
}

type session struct {
	tx *sql.Tx
	d  Dialect
}

const selectEntity = `SELECT entity_type, entity_id, fields, refs FROM entities`

func (s *session) FetchByID(ctx context.Context, key types.EntityKey) (types.Row, error) {
	row := s.tx.QueryRowContext(ctx,
		s.d.Rebind(selectEntity+` WHERE entity_type = ? AND entity_id = ?`), key.Type, key.ID)
	var r types.Row
	var fields, refs string
	err := row.Scan(&r.Type, &r.ID, &fields, &refs)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Row{}, fmt.Errorf("%s: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return types.Row{}, fmt.Errorf("scanning entity: %w", err)
	}
	if err := decodeRow(&r, fields, refs); err != nil {
		return types.Row{}, err
	}
	return r, nil
}

// FetchByCriteria scans every row of the type and filters in Go, since the
// field values are JSON text whose typed comparison differs per engine.
func (s *session) FetchByCriteria(ctx context.Context, entityType string, criteria types.Criteria) ([]types.Row, error) {
	rows, err := s.tx.QueryContext(ctx,
		s.d.Rebind(selectEntity+` WHERE entity_type = ? ORDER BY seq`), entityType)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var out []types.Row
	for rows.Next() {
		var r types.Row
		var fields, refs string
		if err := rows.Scan(&r.Type, &r.ID, &fields, &refs); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		if err := decodeRow(&r, fields, refs); err != nil {
			return nil, err
		}
		if criteria.Match(r.Fields) {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

// selectAssociation left-joins both ends so a link whose row is gone
// surfaces as NULL columns instead of vanishing from the result.
const selectAssociation = `SELECT
    a.key_type, a.key_id, k.fields, k.refs,
    a.value_type, a.value_id, v.fields, v.refs
FROM associations a
LEFT JOIN entities k ON k.entity_type = a.key_type AND k.entity_id = a.key_id
LEFT JOIN entities v ON v.entity_type = a.value_type AND v.entity_id = a.value_id
WHERE a.owner_type = ? AND a.owner_id = ? AND a.name = ?
ORDER BY a.ordinal`

// FetchAssociation returns the pairs in link order. A link whose key or
// value row does not exist fails with ErrNotFound.
func (s *session) FetchAssociation(ctx context.Context, owner types.EntityKey, name string) ([]types.AssociationEntry, error) {
	rows, err := s.tx.QueryContext(ctx, s.d.Rebind(selectAssociation), owner.Type, owner.ID, name)
	if err != nil {
		return nil, fmt.Errorf("querying association: %w", err)
	}
	defer rows.Close()

	out := []types.AssociationEntry{}
	for rows.Next() {
		var e types.AssociationEntry
		var kFields, kRefs, vFields, vRefs sql.NullString
		if err := rows.Scan(
			&e.Key.Type, &e.Key.ID, &kFields, &kRefs,
			&e.Value.Type, &e.Value.ID, &vFields, &vRefs,
		); err != nil {
			return nil, fmt.Errorf("scanning association: %w", err)
		}
		if !kFields.Valid {
			return nil, fmt.Errorf("association %s.%s: dangling key %s: %w", owner, name, e.Key.Key(), types.ErrNotFound)
		}
		if !vFields.Valid {
			return nil, fmt.Errorf("association %s.%s: dangling value %s: %w", owner, name, e.Value.Key(), types.ErrNotFound)
		}
		if err := decodeRow(&e.Key, kFields.String, kRefs.String); err != nil {
			return nil, err
		}
		if err := decodeRow(&e.Value, vFields.String, vRefs.String); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *session) Insert(ctx context.Context, row types.Row) (string, error) {
	if row.ID == "" {
		row.ID = uuid.Must(uuid.NewV7()).String()
	}
	fields, refs, err := encodeRow(row)
	if err != nil {
		return "", err
	}
	if _, err := s.FetchByID(ctx, row.Key()); err == nil {
		return "", fmt.Errorf("insert %s: %w", row.Key(), types.ErrRowExists)
	} else if !errors.Is(err, types.ErrNotFound) {
		return "", err
	}
	_, err = s.tx.ExecContext(ctx,
		s.d.Rebind(`INSERT INTO entities (entity_type, entity_id, fields, refs) VALUES (?, ?, ?, ?)`),
		row.Type, row.ID, fields, refs)
	if err != nil {
		return "", fmt.Errorf("inserting entity: %w", err)
	}
	return row.ID, nil
}

func (s *session) Update(ctx context.Context, row types.Row) error {
	fields, refs, err := encodeRow(row)
	if err != nil {
		return err
	}
	res, err := s.tx.ExecContext(ctx,
		s.d.Rebind(`UPDATE entities SET fields = ?, refs = ? WHERE entity_type = ? AND entity_id = ?`),
		fields, refs, row.Type, row.ID)
	if err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: %w", row.Key(), types.ErrNotFound)
	}
	return nil
}

func (s *session) ReplaceAssociation(ctx context.Context, owner types.EntityKey, name string, links []types.AssociationLink) error {
	_, err := s.tx.ExecContext(ctx,
		s.d.Rebind(`DELETE FROM associations WHERE owner_type = ? AND owner_id = ? AND name = ?`),
		owner.Type, owner.ID, name)
	if err != nil {
		return fmt.Errorf("clearing association: %w", err)
	}
	insert := s.d.Rebind(`INSERT INTO associations
    (owner_type, owner_id, name, ordinal, key_type, key_id, value_type, value_id)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, l := range links {
		if _, err := s.tx.ExecContext(ctx, insert,
			owner.Type, owner.ID, name, i, l.Key.Type, l.Key.ID, l.Value.Type, l.Value.ID); err != nil {
			return fmt.Errorf("inserting association link: %w", err)
		}
	}
	return nil
}

func (s *session) Commit(context.Context) error {
	if err := s.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return types.ErrSessionClosed
		}
		return err
	}
	return nil
}

func (s *session) Rollback(context.Context) error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func encodeRow(r types.Row) (string, string, error) {
	fields := r.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	f, err := json.Marshal(fields)
	if err != nil {
		return "", "", fmt.Errorf("encoding fields of %s: %w", r.Key(), err)
	}
	refs := r.Refs
	if refs == nil {
		refs = map[string]types.EntityKey{}
	}
	rf, err := json.Marshal(refs)
	if err != nil {
		return "", "", fmt.Errorf("encoding refs of %s: %w", r.Key(), err)
	}
	return string(f), string(rf), nil
}

// decodeRow parses the stored JSON columns. Numbers without a fraction or
// exponent come back as int64 so large integers keep their precision; all
// other numbers are float64.
func decodeRow(r *types.Row, fields, refs string) error {
	dec := json.NewDecoder(strings.NewReader(fields))
	dec.UseNumber()
	if err := dec.Decode(&r.Fields); err != nil {
		return fmt.Errorf("parsing fields of %s: %w", r.Key(), err)
	}
	for k, v := range r.Fields {
		r.Fields[k] = normalizeNumbers(v)
	}
	if err := json.Unmarshal([]byte(refs), &r.Refs); err != nil {
		return fmt.Errorf("parsing refs of %s: %w", r.Key(), err)
	}
	return nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case []any:
		for i := range x {
			x[i] = normalizeNumbers(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = normalizeNumbers(x[k])
		}
	}
	return v
}
