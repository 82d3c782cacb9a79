// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package enum reads the user-defined enumerations of a database.
package enum

import (
	"context"
	"fmt"

	"github.com/canonical/sqlinfer/internal/session"
	"github.com/canonical/sqlinfer/typeinfo"
)

// Query returns one row per enum: its OID, the OID of its array type and
// its labels in declaration order.
const Query = `SELECT e.enumtypid::oid, t.typarray::oid, array_agg(e.enumlabel::text ORDER BY e.enumsortorder)
FROM pg_enum e
JOIN pg_type t ON t.oid = e.enumtypid
GROUP BY e.enumtypid, t.typarray`

// ResolutionError is returned when the enumerations cannot be read.
type ResolutionError struct {
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve enums: %s", e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Resolve scans the enumerations visible to the session. Any failure is
// returned as a *ResolutionError; a partial table is never returned.
func Resolve(ctx context.Context, s session.Session) (typeinfo.EnumTable, error) {
	rows, err := s.Query(ctx, Query)
	if err != nil {
		return typeinfo.EnumTable{}, &ResolutionError{Err: err}
	}
	defer rows.Close()

	var table typeinfo.EnumTable
	for rows.Next() {
		var oid, arrayOID uint32
		var labels []string
		if err := rows.Scan(&oid, &arrayOID, &labels); err != nil {
			return typeinfo.EnumTable{}, &ResolutionError{Err: err}
		}
		table.Add(typeinfo.OID(oid), typeinfo.OID(arrayOID), labels)
	}
	if err := rows.Err(); err != nil {
		return typeinfo.EnumTable{}, &ResolutionError{Err: err}
	}
	return table, nil
}
