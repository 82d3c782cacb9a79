// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package typeinfo holds the engine-agnostic description of a query's shape:
the semantic type of every parameter and result column, and whether each
column can be NULL.

Values in this package are produced by the inference engine and consumed by
renderers. They are plain immutable values; nothing in this package talks to
a database.
*/
package typeinfo
