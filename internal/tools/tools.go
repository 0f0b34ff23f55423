// Package tools brokers the model's function calls to an automation
// backend.
//
// A [Bridge] correlates each inbound function call with an asynchronous
// execution against an [Executor] and produces exactly one response per
// call, keyed by the call's opaque id. The bridge never lets an executor
// failure — error or panic — escape into the session's message loop: a
// failed call becomes a well-formed error-shaped response so the remote
// side is never left waiting.
package tools

import "context"

// Executor runs one named tool with JSON-encoded arguments and returns
// its textual result. Implementations are external automation backends
// (Home Assistant, an MCP server) and must be safe for concurrent use.
type Executor interface {
	CallTool(ctx context.Context, name, argsJSON string) (string, error)
}

// ExecutorFunc adapts a function to the [Executor] interface.
type ExecutorFunc func(ctx context.Context, name, argsJSON string) (string, error)

// CallTool implements [Executor].
func (f ExecutorFunc) CallTool(ctx context.Context, name, argsJSON string) (string, error) {
	return f(ctx, name, argsJSON)
}
