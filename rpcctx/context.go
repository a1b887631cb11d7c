// Package rpcctx builds the per-call context every procedure runs with.
//
// A Context bundles the transport request and response, the resolved
// session, the request-scoped logger and the shared store. It is built once
// per call by a Builder and never mutated afterwards; steps that need to hand
// a different view to inner steps derive a copy with the With* methods.
package rpcctx

import (
	"context"

	"authz-rpc/session"
	"authz-rpc/store"

	"github.com/ethereum/go-ethereum/log"
)

// Request is the transport's in-flight request object. The transport owns it;
// contexts only reference it. Log must be set by the transport before the
// request reaches the Builder.
type Request struct {
	Procedure  string            // "Service.Method"
	Metadata   map[string]string // lower-case header names
	RemoteAddr string
	Log        log.Logger
}

// Header returns the metadata value for key, or "".
func (r *Request) Header(key string) string {
	if r == nil || r.Metadata == nil {
		return ""
	}
	return r.Metadata[key]
}

// Response is the transport's in-flight response object.
type Response struct {
	Metadata map[string]string
}

// Context is the immutable per-call context.
type Context struct {
	ctx      context.Context
	request  *Request
	response *Response
	session  *session.Session
	logger   log.Logger
	store    *store.Store
}

// Context returns the call's context.Context.
func (c *Context) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *Context) Request() *Request         { return c.request }
func (c *Context) Response() *Response       { return c.response }
func (c *Context) Session() *session.Session { return c.session }
func (c *Context) Logger() log.Logger        { return c.logger }
func (c *Context) Store() *store.Store       { return c.store }

// WithSession returns a copy of c carrying s.
func (c *Context) WithSession(s *session.Session) *Context {
	cp := *c
	cp.session = s
	return &cp
}

// WithLogger returns a copy of c carrying l.
func (c *Context) WithLogger(l log.Logger) *Context {
	cp := *c
	cp.logger = l
	return &cp
}

// WithContext returns a copy of c carrying ctx.
func (c *Context) WithContext(ctx context.Context) *Context {
	cp := *c
	cp.ctx = ctx
	return &cp
}

// InnerOptions are the parts of a Context that do not depend on a live
// transport.
type InnerOptions struct {
	Context  context.Context
	Request  *Request
	Response *Response
	Session  *session.Session
	Logger   log.Logger
	Store    *store.Store
}

// NewInnerContext assembles a Context directly. The Builder uses it after
// resolving the session; tests use it to run procedures without a transport.
func NewInnerContext(opts InnerOptions) *Context {
	return &Context{
		ctx:      opts.Context,
		request:  opts.Request,
		response: opts.Response,
		session:  opts.Session,
		logger:   opts.Logger,
		store:    opts.Store,
	}
}
