package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ColumnDef is a single column of a table.
type ColumnDef struct {
	Name string
	Type string // CQL type, e.g. "int", "text"
}

// IndexDef is a secondary index on one column.
type IndexDef struct {
	Name   string
	Column string
}

// TableMetadata describes a table's identity and schema. It is everything a
// snapshot needs to be able to recreate the table, even after the table is dropped.
type TableMetadata struct {
	Keyspace      string
	Name          string
	ID            uuid.UUID
	Columns       []ColumnDef
	PartitionKey  []string
	ClusteringKey []string
	Indexes       []IndexDef
}

// QualifiedName returns "keyspace.table".
func (t TableMetadata) QualifiedName() string {
	return t.Keyspace + "." + t.Name
}

// DirName returns the on-disk directory name of the table: "<name>-<id hex>".
func (t TableMetadata) DirName() string {
	return TableDirName(t.Name, t.ID)
}

// TableDirName formats a table directory name from its parts.
func TableDirName(name string, id uuid.UUID) string {
	return name + "-" + strings.ReplaceAll(id.String(), "-", "")
}

// ParseTableDirName splits "<name>-<32 hex>" into the table name and id.
func ParseTableDirName(dir string) (string, uuid.UUID, bool) {
	idx := strings.LastIndexByte(dir, '-')
	if idx <= 0 || len(dir)-idx-1 != 32 {
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(dir[idx+1:])
	if err != nil {
		return "", uuid.Nil, false
	}
	return dir[:idx], id, true
}

func (t TableMetadata) column(name string) (ColumnDef, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// Validate checks names and that every key and index refers to a declared column.
func (t TableMetadata) Validate() error {
	if err := ValidateIdentifier("keyspace", t.Keyspace); err != nil {
		return err
	}
	if err := ValidateIdentifier("table", t.Name); err != nil {
		return err
	}
	if len(t.Columns) == 0 {
		return &ValidationError{Message: "table must declare at least one column", Field: "table", Value: t.Name}
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if err := ValidateIdentifier("column", c.Name); err != nil {
			return err
		}
		if c.Type == "" {
			return &ValidationError{Message: "column type cannot be empty", Field: "column", Value: c.Name}
		}
		if _, dup := seen[c.Name]; dup {
			return &ValidationError{Message: "duplicate column", Field: "column", Value: c.Name}
		}
		seen[c.Name] = struct{}{}
	}
	if len(t.PartitionKey) == 0 {
		return &ValidationError{Message: "partition key cannot be empty", Field: "table", Value: t.Name}
	}
	for _, k := range append(append([]string{}, t.PartitionKey...), t.ClusteringKey...) {
		if _, ok := t.column(k); !ok {
			return &ValidationError{Message: "primary key refers to an undeclared column", Field: "column", Value: k}
		}
	}
	for _, idx := range t.Indexes {
		if err := ValidateIdentifier("index", idx.Name); err != nil {
			return err
		}
		if _, ok := t.column(idx.Column); !ok {
			return &ValidationError{Message: "index refers to an undeclared column", Field: "index", Value: idx.Name}
		}
	}
	return nil
}

// CreateStatements renders the DDL that recreates the table and its
// secondary indexes. This is what a snapshot's schema file captures.
func (t TableMetadata) CreateStatements() []string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.QualifiedName())
	for _, c := range t.Columns {
		fmt.Fprintf(&b, "    %s %s,\n", c.Name, c.Type)
	}

	partition := strings.Join(t.PartitionKey, ", ")
	if len(t.PartitionKey) > 1 {
		partition = "(" + partition + ")"
	}
	key := append([]string{partition}, t.ClusteringKey...)
	fmt.Fprintf(&b, "    PRIMARY KEY (%s)\n", strings.Join(key, ", "))
	fmt.Fprintf(&b, ") WITH ID = %s;", t.ID.String())

	stmts := []string{b.String()}
	for _, idx := range t.Indexes {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);", idx.Name, t.QualifiedName(), idx.Column))
	}
	return stmts
}
