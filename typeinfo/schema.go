// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package typeinfo

import (
	"bytes"
	"fmt"
)

// FieldSchema describes one result column.
type FieldSchema struct {
	Name     string
	Type     Type
	Nullable bool
}

func (f FieldSchema) String() string {
	if f.Nullable {
		return fmt.Sprintf("%s?: %s", f.Name, f.Type)
	}
	return fmt.Sprintf("%s: %s", f.Name, f.Type)
}

// QuerySchema is the inferred shape of a single query string.
//
// Parameters are positional and there is exactly one per placeholder in the
// query. Fields are in the order the engine reports its output columns.
type QuerySchema struct {
	Parameters []Type
	Fields     []FieldSchema
}

// String returns a compact representation, e.g.
//
//	(integer) -> {id: integer, name?: text}
func (qs *QuerySchema) String() string {
	var b bytes.Buffer
	b.WriteString("(")
	for i, p := range qs.Parameters {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> {")
	for i, f := range qs.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.String())
	}
	b.WriteString("}")
	return b.String()
}
