package middleware

import (
	"authz-rpc/message"
	"authz-rpc/rpcerr"
	"context"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware applies one token bucket to all calls through the server.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return req.Fail(string(rpcerr.TooManyRequests), "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
