package rpcctx

import (
	"context"
	"errors"
	"strings"

	"authz-rpc/session"
	"authz-rpc/store"

	"github.com/ethereum/go-ethereum/log"
)

// ErrMissingRequestLogger means the transport handed over a request that was
// never instrumented with a logger. It is a configuration error.
var ErrMissingRequestLogger = errors.New("rpcctx: request has no request-scoped logger")

// SessionResolver resolves the caller's session from the transport objects.
// A nil session with a nil error means the caller is unauthenticated.
type SessionResolver interface {
	ResolveSession(ctx context.Context, req *Request, resp *Response) (*session.Session, error)
}

// ResolverFunc adapts a function to SessionResolver.
type ResolverFunc func(ctx context.Context, req *Request, resp *Response) (*session.Session, error)

func (f ResolverFunc) ResolveSession(ctx context.Context, req *Request, resp *Response) (*session.Session, error) {
	return f(ctx, req, resp)
}

// Anonymous resolves every request to no session.
var Anonymous = ResolverFunc(func(context.Context, *Request, *Response) (*session.Session, error) {
	return nil, nil
})

// Builder assembles a Context for every inbound call.
type Builder struct {
	store    *store.Store
	resolver SessionResolver
	loggerOf func(*Request) log.Logger
}

// BuilderOption customizes a Builder.
type BuilderOption func(*Builder)

// WithLoggerOf overrides how the request-scoped logger is read from the
// request.
func WithLoggerOf(fn func(*Request) log.Logger) BuilderOption {
	return func(b *Builder) {
		b.loggerOf = fn
	}
}

// NewBuilder creates a Builder. st may be nil for deployments without a
// store; a nil resolver treats every caller as anonymous.
func NewBuilder(st *store.Store, resolver SessionResolver, opts ...BuilderOption) *Builder {
	if resolver == nil {
		resolver = Anonymous
	}
	b := &Builder{
		store:    st,
		resolver: resolver,
		loggerOf: func(r *Request) log.Logger { return r.Log },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build checks the request logger first and only then resolves the session,
// so a misconfigured transport never reaches the resolver. Resolver errors
// are returned unchanged.
func (b *Builder) Build(ctx context.Context, req *Request, resp *Response) (*Context, error) {
	if req == nil {
		return nil, ErrMissingRequestLogger
	}
	logger := b.loggerOf(req)
	if logger == nil {
		return nil, ErrMissingRequestLogger
	}

	sess, err := b.resolver.ResolveSession(ctx, req, resp)
	if err != nil {
		return nil, err
	}

	return NewInnerContext(InnerOptions{
		Context:  ctx,
		Request:  req,
		Response: resp,
		Session:  sess,
		Logger:   logger,
		Store:    b.store,
	}), nil
}

// Metadata keys read by TokenSessionResolver.
const (
	AuthorizationKey = "authorization"
	SessionCookieKey = "session-token"
)

// TokenLookup resolves a session token. session.TokenVerifier and
// store.Store both implement it.
type TokenLookup interface {
	LookupSession(ctx context.Context, token string) (*session.Session, error)
}

// TokenSessionResolver reads a bearer token, falling back to the session
// cookie, and hands it to lookup. Requests without a token and tokens that
// fail verification resolve to no session; any other lookup error is
// returned.
func TokenSessionResolver(lookup TokenLookup) SessionResolver {
	return ResolverFunc(func(ctx context.Context, req *Request, _ *Response) (*session.Session, error) {
		token := SessionToken(req)
		if token == "" {
			return nil, nil
		}
		sess, err := lookup.LookupSession(ctx, token)
		if errors.Is(err, session.ErrInvalidToken) {
			logger := req.Log
			if logger == nil {
				logger = log.Root()
			}
			logger.Debug("Rejected session token", "err", err)
			return nil, nil
		}
		return sess, err
	})
}

// SessionToken extracts the session token from request metadata.
func SessionToken(req *Request) string {
	if auth := req.Header(AuthorizationKey); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return req.Header(SessionCookieKey)
}
