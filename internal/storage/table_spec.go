// Package storage defines the backend-neutral table description and
// repository contract used by the loader. Backends live in subpackages and
// register themselves from init().
package storage

import (
	"fmt"
	"strings"
)

// Logical column types. Each backend maps them to its own DDL types.
const (
	TypeText        = "text"
	TypeInteger     = "integer"
	TypeDate        = "date"
	TypeTimestampTZ = "timestamptz"
)

// TableSpec describes a table to create.
type TableSpec struct {
	// Name is qualified: "schema.table".
	Name       string
	PrimaryKey *PrimaryKeySpec
	Columns    []ColumnSpec
}

// PrimaryKeySpec is an auto-generated integer key (serial / identity).
type PrimaryKeySpec struct {
	Name string
}

type ColumnSpec struct {
	Name    string
	Type    string
	NotNull bool
}

// ColumnNames returns the data column names in declaration order, primary
// key excluded.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Column returns the column called name.
func (t TableSpec) Column(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// Validate checks the invariants every backend relies on.
func (t TableSpec) Validate() error {
	schema, table := SplitQualifiedName(t.Name)
	if schema == "" || table == "" {
		return fmt.Errorf("table %q: name must be schema.table", t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		if strings.TrimSpace(t.PrimaryKey.Name) == "" {
			return fmt.Errorf("table %s: primary_key.name is required", t.Name)
		}
		seen[t.PrimaryKey.Name] = true
	}
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("table %s: column name must be set", t.Name)
		}
		switch c.Type {
		case TypeText, TypeInteger, TypeDate, TypeTimestampTZ:
		default:
			return fmt.Errorf("table %s: column %s: unsupported type %q", t.Name, c.Name, c.Type)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// SplitQualifiedName splits "schema.table". A name without exactly one dot
// returns ("", name).
func SplitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}
