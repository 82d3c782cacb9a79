// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package typeinfo

// EnumTable maps the OIDs of user-defined enumerations to their variants.
// It is built once per inference batch and only read afterwards. The zero
// value is an empty table.
type EnumTable struct {
	variants map[OID][]string
	// arrays maps the OID of an enum's array type to the enum's OID.
	arrays map[OID]OID
}

// Add records the variants of the enum with the given OID. arrayOID is the
// OID of the enum's array type, or zero if it has none.
func (t *EnumTable) Add(oid OID, arrayOID OID, variants []string) {
	if t.variants == nil {
		t.variants = make(map[OID][]string)
		t.arrays = make(map[OID]OID)
	}
	t.variants[oid] = append([]string(nil), variants...)
	if arrayOID != 0 {
		t.arrays[arrayOID] = oid
	}
}

// Lookup returns the type of oid if it denotes an enum or an array of an
// enum. A false result means the OID is not an enum.
func (t EnumTable) Lookup(oid OID) (Type, bool) {
	if variants, ok := t.variants[oid]; ok {
		return Enum{Variants: append([]string(nil), variants...)}, true
	}
	if elem, ok := t.arrays[oid]; ok {
		return Sequence{Elem: Enum{Variants: append([]string(nil), t.variants[elem]...)}}, true
	}
	return nil, false
}

// Len returns the number of enums in the table.
func (t EnumTable) Len() int {
	return len(t.variants)
}
