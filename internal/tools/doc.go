// Package tools holds the tool catalog shared by every transport binding.
//
// A Registry is filled once at startup and read concurrently afterwards. Each
// tool's input schema is compiled at registration, so Validate only walks an
// already resolved schema. The Executor is the single place handler failures are
// turned into results: callers see ErrToolNotFound, a *SchemaError, or a Result.
package tools
