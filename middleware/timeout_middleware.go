package middleware

import (
	"authz-rpc/message"
	"authz-rpc/rpcerr"
	"context"
	"time"
)

// TimeoutMiddleware answers with a TIMEOUT error when the rest of the chain
// does not finish within timeout. The abandoned call keeps running until it
// observes ctx cancellation.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return req.Fail(string(rpcerr.Timeout), "request timed out")
			}
		}
	}
}
