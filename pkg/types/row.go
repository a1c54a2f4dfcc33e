package types

import "reflect"

// Row is the raw shape of one stored entity as exchanged with a
// StorageGateway. Fields holds JSON-compatible scalar values; Refs holds
// single-valued references to other entities by key.
type Row struct {
	Type   string               `json:"type"`
	ID     string               `json:"id"`
	Fields map[string]any       `json:"fields,omitempty"`
	Refs   map[string]EntityKey `json:"refs,omitempty"`
}

// Key returns the row's identity.
func (r Row) Key() EntityKey {
	return EntityKey{Type: r.Type, ID: r.ID}
}

// Clone returns a deep-enough copy of the row: the maps are copied, the
// scalar values they hold are shared.
func (r Row) Clone() Row {
	out := Row{Type: r.Type, ID: r.ID}
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	if r.Refs != nil {
		out.Refs = make(map[string]EntityKey, len(r.Refs))
		for k, v := range r.Refs {
			out.Refs[k] = v
		}
	}
	return out
}

// AssociationEntry is one raw key/value pair of a collection-valued
// association. Both ends are delivered as full rows so a single association
// fetch is enough to hydrate them.
type AssociationEntry struct {
	Key   Row `json:"key"`
	Value Row `json:"value"`
}

// AssociationLink is the write-side form of an association pair.
type AssociationLink struct {
	Key   EntityKey `json:"key"`
	Value EntityKey `json:"value"`
}

// Criteria filters rows by field equality. An empty Criteria matches every row.
type Criteria map[string]any

// Match reports whether every criterion equals the corresponding field.
// Two integers compare exactly; other numeric pairs are compared after
// widening to float64, so 12 matches 12.0.
func (c Criteria) Match(fields map[string]any) bool {
	for name, want := range c {
		got, ok := fields[name]
		if !ok {
			return false
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if ia, ok := toInt(a); ok {
		if ib, ok := toInt(b); ok {
			return ia == ib
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
