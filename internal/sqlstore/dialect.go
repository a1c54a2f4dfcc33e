package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the SQL engines the gateway
// runs on: placeholder syntax and the DDL for the two storage tables.
type Dialect struct {
	Name        string
	numbered    bool // $1, $2... instead of ?
	createTable []string
}

// SQLite is the dialect for modernc.org/sqlite.
var SQLite = Dialect{
	Name: "sqlite",
	createTable: []string{
		`CREATE TABLE IF NOT EXISTS entities (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    fields TEXT NOT NULL,
    refs TEXT NOT NULL,
    UNIQUE (entity_type, entity_id)
)`,
		createAssociations,
	},
}

// Postgres is the dialect for the pgx database/sql driver.
var Postgres = Dialect{
	Name:     "postgres",
	numbered: true,
	createTable: []string{
		`CREATE TABLE IF NOT EXISTS entities (
    seq BIGSERIAL PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    fields TEXT NOT NULL,
    refs TEXT NOT NULL,
    UNIQUE (entity_type, entity_id)
)`,
		createAssociations,
	},
}

const createAssociations = `CREATE TABLE IF NOT EXISTS associations (
    owner_type TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    key_type TEXT NOT NULL,
    key_id TEXT NOT NULL,
    value_type TEXT NOT NULL,
    value_id TEXT NOT NULL,
    PRIMARY KEY (owner_type, owner_id, name, key_type, key_id)
)`

// Rebind rewrites ? placeholders for the dialect. Queries in this package
// never contain a literal question mark.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
