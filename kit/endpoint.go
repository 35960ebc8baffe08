// Package kit holds the transport-agnostic plumbing shared by domdrive's
// query surfaces: the Endpoint abstraction, middleware chaining, request
// context helpers, and the MCP tool adapter.
package kit

import "context"

// Endpoint is a single request/response interaction. Transports adapt their
// wire format to this shape so middleware composes independently of the
// transport.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares left to right: the first middleware is the
// outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
