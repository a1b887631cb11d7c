package middleware

import (
	"authz-rpc/message"
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// LoggingMiddleware logs every dispatched message with its duration and, for
// failed calls, the error kind.
func LoggingMiddleware(logger log.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			elapsed := time.Since(start)
			if resp.Failed() {
				logger.Warn("RPC call failed", "method", req.ServiceMethod, "elapsed", elapsed,
					"kind", resp.ErrorKind, "err", resp.Error)
			} else {
				logger.Debug("RPC call served", "method", req.ServiceMethod, "elapsed", elapsed)
			}
			return resp
		}
	}
}
