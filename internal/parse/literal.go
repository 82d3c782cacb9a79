// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package parse

import (
	"strconv"
	"strings"

	"github.com/canonical/sqlinfer/typeinfo"
)

// castSuffixes are the casts the planner appends to string constants.
var castSuffixes = []string{
	"::text",
	"::character varying",
	"::bpchar",
	"::name",
	"::unknown",
}

// Literal classifies a deparsed constant expression lexically. A string of
// digits is an integer, true and false are booleans, and anything else is
// text with its cast suffix and quoting removed.
func Literal(expr string) typeinfo.Literal {
	if isDigits(expr) {
		if n, err := strconv.ParseInt(expr, 10, 64); err == nil {
			return typeinfo.Literal{Value: n}
		}
	}
	switch expr {
	case "true":
		return typeinfo.Literal{Value: true}
	case "false":
		return typeinfo.Literal{Value: false}
	}
	return typeinfo.Literal{Value: unquote(stripCasts(expr))}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func stripCasts(s string) string {
	for {
		stripped := false
		for _, suffix := range castSuffixes {
			if strings.HasSuffix(s, suffix) {
				s = strings.TrimSuffix(s, suffix)
				stripped = true
			}
		}
		if !stripped {
			return s
		}
	}
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	return s
}
