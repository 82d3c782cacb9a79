// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package assemble turns the pieces of information gathered about a
// prepared statement into the schema of its parameters and result fields.
// Nothing here talks to the database.
package assemble

import (
	"strings"

	"github.com/canonical/sqlinfer/internal/catalog"
	"github.com/canonical/sqlinfer/internal/parse"
	"github.com/canonical/sqlinfer/typeinfo"
)

// UnnamedColumn is the name the planner gives to output expressions that
// carry no alias.
const UnnamedColumn = "?column?"

// Column is a row of the relation metadata of a scanned relation.
type Column struct {
	Name    string
	NotNull bool
}

// NotNull maps output column keys to the declared not-null flag of the
// column behind them.
type NotNull map[string]bool

// Add records the columns of the relation read by scan. Columns are keyed
// by alias-qualified name when the scan aliases the relation, and by bare
// name otherwise.
func (nn NotNull) Add(scan *parse.ScanNode, columns []Column) {
	prefix := ""
	if scan.Alias != "" && scan.Alias != scan.Relation {
		prefix = scan.Alias + "."
	}
	for _, col := range columns {
		nn[prefix+col.Name] = col.NotNull
	}
}

// Type resolves a type identifier through the catalog, and through the
// enum table if the catalog has no mapping for it.
func Type(oid typeinfo.OID, enums typeinfo.EnumTable) (typeinfo.Type, bool) {
	if t, ok := catalog.Resolve(oid); ok {
		return t, true
	}
	return enums.Lookup(oid)
}

// Parameters resolves the parameter type identifiers of a statement.
// Unmapped parameters are kept in place as Unknown.
func Parameters(oids []typeinfo.OID) []typeinfo.Type {
	params := make([]typeinfo.Type, 0, len(oids))
	for _, oid := range oids {
		t, ok := catalog.Resolve(oid)
		if !ok {
			t = typeinfo.Unknown{}
		}
		params = append(params, t)
	}
	return params
}

// Fields assembles the fields of a relation-backed plan from its output
// columns. The i-th output column has type resultTypes[i]. Columns whose
// type is neither in the catalog nor in the enum table are left out, as are
// columns with no reported type. A column is nullable unless notNull says
// otherwise.
func Fields(output []string, resultTypes []typeinfo.OID, notNull NotNull, enums typeinfo.EnumTable) []typeinfo.FieldSchema {
	fields := []typeinfo.FieldSchema{}
	for i, column := range output {
		if i >= len(resultTypes) {
			break
		}
		t, ok := Type(resultTypes[i], enums)
		if !ok {
			continue
		}
		fields = append(fields, typeinfo.FieldSchema{
			Name:     fieldName(column),
			Type:     t,
			Nullable: !notNull[column],
		})
	}
	return fields
}

// LiteralFields assembles the fields of a plan that reads no relation. Only
// the last output expression contributes, as the planner names every
// unaliased expression the same.
func LiteralFields(output []string) []typeinfo.FieldSchema {
	if len(output) == 0 {
		return []typeinfo.FieldSchema{}
	}
	return []typeinfo.FieldSchema{{
		Name: UnnamedColumn,
		Type: parse.Literal(output[len(output)-1]),
	}}
}

// fieldName returns the last dotted segment of an output column.
func fieldName(column string) string {
	if i := strings.LastIndexByte(column, '.'); i >= 0 {
		return column[i+1:]
	}
	return column
}
