// Package query holds the filter/sort/page composition engine: a small
// predicate AST with a parser for the textual filter language, sort key
// parsing, an in-memory evaluator and the Source abstraction that stores
// compile plans against.
package query
