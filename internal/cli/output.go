package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/pantry/pkg/pantry"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// entityView is the printed form of an entity.
type entityView struct {
	Type   string                     `json:"type"`
	ID     string                     `json:"id"`
	Fields map[string]any             `json:"fields"`
	Refs   map[string]types.EntityKey `json:"refs,omitempty"`
}

// entryView is the printed form of one collection entry.
type entryView struct {
	Key   entityView `json:"key"`
	Value entityView `json:"value"`
}

func viewOf(e *pantry.Entity) entityView {
	v := entityView{Type: e.Type(), ID: e.PrimaryKey(), Fields: e.Fields()}
	if refs := e.Refs(); len(refs) > 0 {
		v.Refs = refs
	}
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeEntity prints one entity per line: key, then sorted fields and refs.
func writeEntity(w io.Writer, v entityView) {
	var b strings.Builder
	b.WriteString(types.EntityKey{Type: v.Type, ID: v.ID}.String())
	for _, name := range slices.Sorted(maps.Keys(v.Fields)) {
		fmt.Fprintf(&b, " %s=%v", name, v.Fields[name])
	}
	for _, name := range slices.Sorted(maps.Keys(v.Refs)) {
		fmt.Fprintf(&b, " %s->%s", name, v.Refs[name])
	}
	fmt.Fprintln(w, b.String())
}

// parseAssignments turns field=value arguments into a field map. Numbers
// and booleans are stored typed; everything else is a string.
func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, usageErrorf("expected field=value, got %q", arg)
		}
		out[name] = parseValue(value)
	}
	return out, nil
}

func parseValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// parseKey parses Type:ID.
func parseKey(s string) (types.EntityKey, error) {
	t, id, ok := strings.Cut(s, ":")
	if !ok {
		return types.EntityKey{}, usageErrorf("expected Type:ID, got %q", s)
	}
	return types.NewEntityKey(t, id)
}
