// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlinfer

// batch is the ordered set of queries collected during one cycle. Query
// text is the identity of a query: registering the same text twice in a
// cycle yields one entry, while texts differing only in whitespace are
// distinct.
type batch struct {
	queries []string
	seen    map[string]bool
}

func newBatch() *batch {
	return &batch{seen: map[string]bool{}}
}

// add appends query unless it is already in the batch. It reports whether
// the query was added.
func (b *batch) add(query string) bool {
	if b.seen[query] {
		return false
	}
	b.seen[query] = true
	b.queries = append(b.queries, query)
	return true
}

func (b *batch) len() int {
	return len(b.queries)
}
