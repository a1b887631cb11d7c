package procedure

import (
	"encoding/json"
	"fmt"

	"authz-rpc/address"
	"authz-rpc/rpcctx"
	"authz-rpc/rpcerr"
	"authz-rpc/session"
)

// LoggingStep runs the rest of the chain, then puts the context's logger back
// on the transport request so the transport logs the call with everything the
// request-scoped logger accumulated. The inner result passes through
// unchanged.
func LoggingStep() Step {
	return func(next Handler) Handler {
		return func(rc *rpcctx.Context, input []byte) (any, error) {
			result, err := next(rc, input)
			if req := rc.Request(); req != nil {
				req.Log = rc.Logger()
			}
			return result, err
		}
	}
}

// AuthorizationStep runs the rest of the chain first and validates the
// session's account address afterwards. When the address is invalid the
// authorization error replaces whatever the handler returned; the handler's
// side effects have already happened.
func AuthorizationStep() Step {
	return func(next Handler) Handler {
		return func(rc *rpcctx.Context, input []byte) (any, error) {
			result, err := next(rc, input)
			if _, authErr := VerifiedAddress(rc.Session()); authErr != nil {
				return nil, authErr
			}
			return result, err
		}
	}
}

// AuthorizationBeforeStep validates the session's account address before the
// rest of the chain runs, so unauthorized calls never reach the handler.
func AuthorizationBeforeStep() Step {
	return func(next Handler) Handler {
		return func(rc *rpcctx.Context, input []byte) (any, error) {
			if _, authErr := VerifiedAddress(rc.Session()); authErr != nil {
				return nil, authErr
			}
			return next(rc, input)
		}
	}
}

// VerifiedAddress returns the session's validated account address. Sessions
// without a usable address fail with a BAD_REQUEST error that wraps
// address.ErrInvalidAddress. The message quotes the candidate, or null when
// the session carried none.
func VerifiedAddress(s *session.Session) (address.Address, error) {
	var candidate *string
	switch kind, addr := session.Classify(s); kind {
	case session.KindNone:
	case session.KindNoAddress:
		if s.User != nil && s.User.AddressSet {
			candidate = &addr
		}
	case session.KindAddress:
		candidate = &addr
	default:
		panic(fmt.Sprintf("procedure: unhandled session kind %v", kind))
	}

	verified, err := address.Validate(candidate)
	if err != nil {
		return "", rpcerr.Wrap(rpcerr.BadRequest, err, "Invalid address: "+quote(candidate))
	}
	return verified, nil
}

// quote renders the candidate as JSON: null when absent.
func quote(candidate *string) string {
	if candidate == nil {
		return "null"
	}
	b, _ := json.Marshal(*candidate)
	return string(b)
}
