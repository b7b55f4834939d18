package vector

import (
	"fmt"
	"strings"
)

// Field describes one column of a Schema.
type Field struct {
	Index    int         `json:"index"`
	Name     string      `json:"name"`
	Type     LogicalType `json:"logicalType"`
	Nullable bool        `json:"nullable"`
}

// Schema is the ordered list of fields of a block. Field order is canonical
// and matches vector order positionally.
type Schema struct {
	Fields []Field `json:"fields"`
}

// NewSchema builds a schema, assigning dense indices in order.
func NewSchema(fields ...Field) Schema {
	out := make([]Field, len(fields))
	for i, f := range fields {
		f.Index = i
		out[i] = f
	}
	return Schema{Fields: out}
}

// Len returns the number of fields.
func (s Schema) Len() int { return len(s.Fields) }

// FieldByName returns the field named name, compared case-insensitively.
func (s Schema) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns the field names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Validate checks that indices are dense, unique and positional, and that
// every field has a valid logical type.
func (s Schema) Validate() error {
	for i, f := range s.Fields {
		if f.Index != i {
			return fmt.Errorf("field %q: index %d at position %d", f.Name, f.Index, i)
		}
		if !f.Type.Valid() {
			return fmt.Errorf("field %q: invalid logical type", f.Name)
		}
	}
	return nil
}

// Equal reports whether two schemas have the same fields in the same order.
func (s Schema) Equal(o Schema) bool {
	if len(s.Fields) != len(o.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != o.Fields[i] {
			return false
		}
	}
	return true
}
