// Package middleware holds transport-level middleware that wraps the whole
// dispatch of a framed RPC message: logging, rate limiting, timeouts and
// metrics. Procedure-level steps live in package procedure.
package middleware

import (
	"authz-rpc/message"
	"context"
)

type HandlerFunc func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one is the outermost wrapper.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
