// Package procedure composes the step chain every RPC procedure runs through.
//
// A chain is an ordered list of steps folded right to left around a handler:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	Execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after
//
// The first registered step is the outermost wrapper, so its after-phase is
// the last thing that runs before the result leaves the chain.
package procedure

import "authz-rpc/rpcctx"

// Handler runs a procedure's business logic with the call context and the
// raw input payload.
type Handler func(rc *rpcctx.Context, input []byte) (any, error)

// Step wraps the remainder of the chain. A step calls next at most once and
// may run code before and after it, replace the context it passes on, or
// abort by returning an error.
type Step func(next Handler) Handler

// Chain folds steps into a single step.
func Chain(steps ...Step) Step {
	return func(next Handler) Handler {
		for i := len(steps) - 1; i >= 0; i-- {
			next = steps[i](next)
		}
		return next
	}
}
