// Package relaydb is a reactive, in-process, client-side query engine: a
// set of keyed, sorted, subscribable Collections plus a relational query
// planner and incremental dataflow runtime that maintains a SQL-like
// query's result as a first-class Collection of its own.
//
// The package itself is a thin facade over the engine's internal
// packages — internal/collection (the transactional row container),
// internal/querybuilder and internal/queryir (the query IR and its fluent
// builder), internal/compiler and internal/graph (lowering a query to a
// differential dataflow graph), and internal/livequery / internal/effect
// (the two ways of consuming a compiled graph's output). See DESIGN.md for
// how each piece is grounded.
package relaydb
