/*
Sqlinfer infers the parameter and result schema of SQL queries ahead of
execution by asking a live database to prepare and plan them. No query is
ever run for real rows.

The schema of a query is a list of parameter types, by position, and a list
of result fields, each with a name, a type and whether it can be NULL:

	SELECT id, title FROM post WHERE author = $1

may infer as

	(text) -> {id: integer, title?: text}

# Types

Types are the closed set defined in package typeinfo: the scalars boolean,
integer, float, text, datetime, json and bytes, sequences of a type,
enumerations with their variants in declaration order, literal values, and
unknown. Queries that read no relation, such as SELECT 1, infer a single
field with the literal value as its type.

Parameters whose type is not recognised are reported as unknown. Fields
whose type is not recognised are left out of the schema.

# Nullability

A field is nullable unless it comes straight from a column declared NOT
NULL. Outer joins do not change that: a NOT NULL column of the inner side of
a LEFT JOIN is still reported as not nullable.

# Batches

A Coordinator collects queries as they are registered and infers them in
batches. The first registration of an idle coordinator schedules a flush;
every query registered before the flush runs lands in the same batch. A
flush resolves the enumerations of the database once, infers every query in
registration order, and hands the results to a Renderer. Registrations
made while a flush runs start the next batch.

By default the first failing query aborts the flush and the renderer is not
called. With ContinueOnError each query's failure is reported in its Result
instead.

# Backends

A Backend is the database a batch is inferred against. NewPostgres infers
through one or more pgx connections; with several connections the queries
of a batch are spread across them. NewSQLite infers through a database/sql
handle opened with the go-sqlite3 driver.
*/
package sqlinfer
