// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package infer

import (
	"strconv"
	"sync/atomic"
)

// Names is a source of prepared statement names. Every call to Next must
// return a name it has never returned before.
type Names interface {
	Next() string
}

// Counter generates names of the form <prefix>_<n> with n increasing from
// one. It is safe for concurrent use.
type Counter struct {
	prefix string
	n      atomic.Uint64
}

// NewCounter returns a Counter that generates names with the given prefix.
func NewCounter(prefix string) *Counter {
	return &Counter{prefix: prefix}
}

// Next returns the next name.
func (c *Counter) Next() string {
	return c.prefix + "_" + strconv.FormatUint(c.n.Add(1), 10)
}
