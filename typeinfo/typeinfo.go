// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package typeinfo

import (
	"fmt"
	"strconv"
	"strings"
)

// OID is the engine-native identifier of a column or parameter type. Only the
// type catalog and the enum resolver interpret it.
type OID uint32

// Type is the semantic type of a parameter or column. The set of
// implementations is closed: Scalar, Sequence, Enum, Literal and Unknown.
type Type interface {
	String() string
	semantic()
}

// Scalar is one of the general scalar kinds.
type Scalar int

const (
	Boolean Scalar = iota + 1
	Integer
	Float
	Text
	DateTime
	JSON
	Bytes
)

var scalarNames = map[Scalar]string{
	Boolean:  "boolean",
	Integer:  "integer",
	Float:    "float",
	Text:     "text",
	DateTime: "datetime",
	JSON:     "json",
	Bytes:    "bytes",
}

func (s Scalar) String() string {
	if name, ok := scalarNames[s]; ok {
		return name
	}
	return "Scalar(" + strconv.Itoa(int(s)) + ")"
}

func (Scalar) semantic() {}

// Sequence is an array of Elem.
type Sequence struct {
	Elem Type
}

func (s Sequence) String() string {
	return s.Elem.String() + "[]"
}

func (Sequence) semantic() {}

// Enum is a user-defined enumeration. Variants are in catalog order.
type Enum struct {
	Variants []string
}

func (e Enum) String() string {
	quoted := make([]string, len(e.Variants))
	for i, v := range e.Variants {
		quoted[i] = strconv.Quote(v)
	}
	return "enum(" + strings.Join(quoted, " | ") + ")"
}

func (Enum) semantic() {}

// Literal is the type of a constant expression; the type is the value
// itself. Value is an int64, a bool or a string.
type Literal struct {
	Value any
}

func (l Literal) String() string {
	switch v := l.Value.(type) {
	case string:
		return "literal(" + strconv.Quote(v) + ")"
	default:
		return fmt.Sprintf("literal(%v)", v)
	}
}

// Scalar returns the general kind of the literal value.
func (l Literal) Scalar() Scalar {
	switch l.Value.(type) {
	case int64:
		return Integer
	case bool:
		return Boolean
	default:
		return Text
	}
}

func (Literal) semantic() {}

// Unknown is the type of a parameter whose engine type has no mapping.
type Unknown struct{}

func (Unknown) String() string {
	return "unknown"
}

func (Unknown) semantic() {}
