// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package catalog maps engine type identifiers to semantic types.

The Postgres table deliberately covers only the common types. Geometric,
network, range and other rarer types are left out; callers treat an absent
mapping as "unsupported", never as an error.
*/
package catalog

import (
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/canonical/sqlinfer/typeinfo"
)

var scalars = map[typeinfo.OID]typeinfo.Scalar{
	pgtype.BoolOID:        typeinfo.Boolean,
	pgtype.ByteaOID:       typeinfo.Bytes,
	pgtype.QCharOID:       typeinfo.Text,
	pgtype.Int8OID:        typeinfo.Integer,
	pgtype.Int2OID:        typeinfo.Integer,
	pgtype.Int4OID:        typeinfo.Integer,
	pgtype.TextOID:        typeinfo.Text,
	pgtype.JSONOID:        typeinfo.JSON,
	pgtype.Float4OID:      typeinfo.Float,
	pgtype.Float8OID:      typeinfo.Float,
	pgtype.VarcharOID:     typeinfo.Text,
	pgtype.DateOID:        typeinfo.DateTime,
	pgtype.TimeOID:        typeinfo.DateTime,
	pgtype.TimestampOID:   typeinfo.DateTime,
	pgtype.TimestamptzOID: typeinfo.DateTime,
	pgtype.JSONBOID:       typeinfo.JSON,
}

// arrays maps array type OIDs to the OID of their element type.
var arrays = map[typeinfo.OID]typeinfo.OID{
	pgtype.JSONArrayOID:        pgtype.JSONOID,
	pgtype.BoolArrayOID:        pgtype.BoolOID,
	pgtype.ByteaArrayOID:       pgtype.ByteaOID,
	pgtype.QCharArrayOID:       pgtype.QCharOID,
	pgtype.Int2ArrayOID:        pgtype.Int2OID,
	pgtype.Int4ArrayOID:        pgtype.Int4OID,
	pgtype.TextArrayOID:        pgtype.TextOID,
	pgtype.VarcharArrayOID:     pgtype.VarcharOID,
	pgtype.Int8ArrayOID:        pgtype.Int8OID,
	pgtype.Float4ArrayOID:      pgtype.Float4OID,
	pgtype.Float8ArrayOID:      pgtype.Float8OID,
	pgtype.TimestampArrayOID:   pgtype.TimestampOID,
	pgtype.DateArrayOID:        pgtype.DateOID,
	pgtype.TimeArrayOID:        pgtype.TimeOID,
	pgtype.TimestamptzArrayOID: pgtype.TimestamptzOID,
	pgtype.JSONBArrayOID:       pgtype.JSONBOID,
}

// Resolve returns the semantic type of a Postgres type OID. The second
// result is false if the OID has no mapping. An array whose element type has
// no mapping has no mapping itself.
func Resolve(oid typeinfo.OID) (typeinfo.Type, bool) {
	if s, ok := scalars[oid]; ok {
		return s, true
	}
	if elem, ok := arrays[oid]; ok {
		inner, ok := Resolve(elem)
		if !ok {
			return nil, false
		}
		return typeinfo.Sequence{Elem: inner}, true
	}
	return nil, false
}

// affinities is checked in order; the first rule whose substring occurs in
// the declared type wins. The order follows SQLite's own affinity rules, with
// BOOL, DATE/TIME and JSON recognised ahead of the generic numeric fallback.
var affinities = []struct {
	substr string
	typ    typeinfo.Scalar
}{
	{"INT", typeinfo.Integer},
	{"CHAR", typeinfo.Text},
	{"CLOB", typeinfo.Text},
	{"TEXT", typeinfo.Text},
	{"BLOB", typeinfo.Bytes},
	{"REAL", typeinfo.Float},
	{"FLOA", typeinfo.Float},
	{"DOUB", typeinfo.Float},
	{"BOOL", typeinfo.Boolean},
	{"DATE", typeinfo.DateTime},
	{"TIME", typeinfo.DateTime},
	{"JSON", typeinfo.JSON},
}

// ResolveDeclType returns the semantic type of a SQLite declared column
// type such as "VARCHAR(20)" or "INTEGER". Expressions have no declared
// type and are reported as unmapped.
func ResolveDeclType(decl string) (typeinfo.Type, bool) {
	decl = strings.ToUpper(strings.TrimSpace(decl))
	if decl == "" {
		return nil, false
	}
	for _, a := range affinities {
		if strings.Contains(decl, a.substr) {
			return a.typ, true
		}
	}
	return nil, false
}
