package domain

import "vectorgate/internal/vector"

// RootSchema is the name of the backend's root (default) schema.
const RootSchema = ""

// Schema describes one schema exposed by the metadata collaborator.
type Schema struct {
	Name   string  `json:"name"`
	Tables []Table `json:"tables"`
}

// Table describes a table and its columns.
type Table struct {
	Schema  string   `json:"schema"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column describes one column of a table.
type Column struct {
	Name     string             `json:"name"`
	Index    int                `json:"index"`
	Type     vector.LogicalType `json:"logicalType"`
	Nullable bool               `json:"nullable"`
}

// Path returns the table's qualified name as ordered segments.
func (t Table) Path() []string {
	if t.Schema == RootSchema {
		return []string{t.Name}
	}
	return []string{t.Schema, t.Name}
}
