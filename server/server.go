// Package server implements the RPC server: service registration under a
// procedure definition, per-request context construction, and graceful
// shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest
//	    → Codec.Decode → transport middleware → dispatch
//	      → instrument request logger → rpcctx.Builder.Build
//	      → procedure chain (steps → method via reflect.Call)
//	    → Codec.Encode → write response
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"authz-rpc/codec"
	"authz-rpc/message"
	"authz-rpc/middleware"
	"authz-rpc/procedure"
	"authz-rpc/protocol"
	"authz-rpc/registry"
	"authz-rpc/rpcctx"
	"authz-rpc/rpcerr"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("rpc: server closed")

// RequestLogger derives the request-scoped logger the transport attaches to
// every request before it reaches the context builder.
type RequestLogger func(base log.Logger, req *rpcctx.Request) log.Logger

func defaultRequestLogger(base log.Logger, req *rpcctx.Request) log.Logger {
	return base.New("reqid", uuid.NewString(), "procedure", req.Procedure)
}

// Server registers services and handles incoming requests.
type Server struct {
	mu         sync.RWMutex
	serviceMap map[string]*service

	builder       *rpcctx.Builder
	log           log.Logger
	requestLogger RequestLogger

	listener atomic.Pointer[net.Listener]
	wg       sync.WaitGroup
	shutdown atomic.Bool

	middlewares []middleware.Middleware
	handlerOnce sync.Once
	handler     middleware.HandlerFunc // middleware(middleware(...(dispatch)))

	registry      registry.Registry
	advertiseAddr string
	registryTTL   int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the process logger request loggers derive from.
func WithLogger(l log.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithRequestLogger replaces how request-scoped loggers are derived.
func WithRequestLogger(fn RequestLogger) Option {
	return func(s *Server) { s.requestLogger = fn }
}

// WithRegistryTTL sets the lease TTL in seconds used when registering with a
// registry.
func WithRegistryTTL(ttl int64) Option {
	return func(s *Server) { s.registryTTL = ttl }
}

// NewServer creates a server that builds every call's context with builder.
func NewServer(builder *rpcctx.Builder, opts ...Option) *Server {
	s := &Server{
		serviceMap:    make(map[string]*service),
		builder:       builder,
		log:           log.Root(),
		requestLogger: defaultRequestLogger,
		registryTTL:   10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register registers rcvr under its type name. Every RPC method of rcvr runs
// through proc, so the whole service is either public or protected.
func (svr *Server) Register(rcvr any, proc *procedure.Procedure) error {
	return svr.RegisterName("", rcvr, proc)
}

// RegisterName is like Register but uses name instead of the type name.
func (svr *Server) RegisterName(name string, rcvr any, proc *procedure.Procedure) error {
	svc, err := newService(name, rcvr, proc)
	if err != nil {
		return err
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if _, dup := svr.serviceMap[svc.name]; dup {
		return fmt.Errorf("rpc: service already defined: %s", svc.name)
	}
	svr.serviceMap[svc.name] = svc
	svr.log.Debug("Registered RPC service", "service", svc.name, "procedure", proc.Name(), "methods", len(svc.method))
	return nil
}

// Use registers a transport middleware. Middlewares apply in the order they
// are added and must be added before the first request is served.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address, optionally registers every service with reg, and
// runs the accept loop until Shutdown.
//
// advertiseAddr is the address registered with reg (e.g., "127.0.0.1:8080");
// it differs from the listen address because ":8080" is not routable. Pass a
// nil reg to skip service discovery.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	if reg != nil {
		svr.registry = reg
		svr.advertiseAddr = advertiseAddr
		for _, name := range svr.serviceNames() {
			inst := registry.ServiceInstance{
				Addr:   advertiseAddr,
				Labels: map[string]string{"procedure": svr.procedureOf(name)},
			}
			if err := reg.Register(context.Background(), name, inst, svr.registryTTL); err != nil {
				listener.Close()
				return fmt.Errorf("rpc: register %s: %w", name, err)
			}
		}
	}
	svr.listener.Store(&listener)
	svr.log.Info("RPC server started", "addr", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return ErrServerClosed
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the listener address once Serve is listening and registered.
func (svr *Server) Addr() net.Addr {
	if l := svr.listener.Load(); l != nil {
		return (*l).Addr()
	}
	return nil
}

// handleConn reads frames sequentially from one connection and dispatches
// each request on its own goroutine. writeMu keeps response frames from
// interleaving on the shared connection.
func (svr *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	writeMu := &sync.Mutex{}
	remote := conn.RemoteAddr().String()
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		svr.wg.Add(1)
		go svr.handleRequest(header, body, conn, writeMu, remote)
	}
}

func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex, remote string) {
	defer svr.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	var reply *message.RPCMessage
	msg := &message.RPCMessage{}
	if err := c.Decode(body, msg); err != nil {
		reply = msg.Fail(string(rpcerr.ParseError), "malformed message: "+err.Error())
	} else {
		reply = svr.Dispatch(WithRemoteAddr(context.Background(), remote), msg)
	}

	result, err := c.Encode(reply)
	if err != nil {
		svr.log.Error("Failed to encode RPC reply", "method", msg.ServiceMethod, "err", err)
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq, // same seq as the request, so the client can match it
	}
	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		svr.log.Debug("Failed to write RPC reply", "method", msg.ServiceMethod, "err", err)
	}
}

// Dispatch runs one decoded message through the transport middleware and the
// procedure chain. Other transports, such as the HTTP gateway, call it
// directly.
func (svr *Server) Dispatch(ctx context.Context, msg *message.RPCMessage) *message.RPCMessage {
	svr.handlerOnce.Do(func() {
		svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)
	})
	return svr.handler(ctx, msg)
}

func (svr *Server) dispatch(ctx context.Context, msg *message.RPCMessage) *message.RPCMessage {
	svc, mtype, kerr := svr.lookup(msg.ServiceMethod)
	if kerr != nil {
		return fail(msg, kerr)
	}

	req := &rpcctx.Request{
		Procedure:  msg.ServiceMethod,
		Metadata:   msg.Metadata,
		RemoteAddr: RemoteAddr(ctx),
	}
	req.Log = svr.requestLogger(svr.log, req)
	resp := &rpcctx.Response{Metadata: make(map[string]string)}

	start := time.Now()
	rc, err := svr.builder.Build(ctx, req, resp)
	if err != nil {
		svr.log.Error("Failed to build request context", "method", msg.ServiceMethod, "err", err)
		return fail(msg, err)
	}

	result, err := mtype.handler(rc, msg.Payload)

	// req.Log is whatever the chain left on the request.
	logger := req.Log
	if logger == nil {
		logger = svr.log
	}
	if err != nil {
		logger.Info("Procedure failed", "access", svc.procedure.Name(), "kind", rpcerr.KindOf(err),
			"err", err, "elapsed", time.Since(start))
		return fail(msg, err)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		logger.Error("Failed to marshal procedure result", "err", err)
		return fail(msg, err)
	}
	logger.Debug("Procedure served", "access", svc.procedure.Name(), "elapsed", time.Since(start))

	reply := msg.Reply(payload)
	if len(resp.Metadata) > 0 {
		reply.Metadata = resp.Metadata
	}
	return reply
}

func (svr *Server) lookup(serviceMethod string) (*service, *methodType, error) {
	serviceName, methodName, ok := strings.Cut(serviceMethod, ".")
	if !ok || serviceName == "" || methodName == "" || strings.Contains(methodName, ".") {
		return nil, nil, rpcerr.New(rpcerr.BadRequest, "invalid service method format: "+serviceMethod)
	}
	svr.mu.RLock()
	svc := svr.serviceMap[serviceName]
	svr.mu.RUnlock()
	if svc == nil {
		return nil, nil, rpcerr.New(rpcerr.NotFound, "unknown service: "+serviceName)
	}
	mtype := svc.method[methodName]
	if mtype == nil {
		return nil, nil, rpcerr.New(rpcerr.NotFound, "unknown method: "+serviceMethod)
	}
	return svc, mtype, nil
}

func fail(msg *message.RPCMessage, err error) *message.RPCMessage {
	e := rpcerr.From(err)
	return msg.Fail(string(e.Kind), e.Error())
}

func (svr *Server) serviceNames() []string {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	names := make([]string, 0, len(svr.serviceMap))
	for name := range svr.serviceMap {
		names = append(names, name)
	}
	return names
}

func (svr *Server) procedureOf(name string) string {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	if svc := svr.serviceMap[name]; svc != nil {
		return svc.procedure.Name()
	}
	return ""
}

// Shutdown performs graceful shutdown:
//  1. Deregister all services (clients stop routing to this server)
//  2. Set the shutdown flag so the Accept error is recognized as intentional
//  3. Close the listener
//  4. Wait for in-flight requests to finish, up to timeout
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil {
		for _, name := range svr.serviceNames() {
			if err := svr.registry.Deregister(context.Background(), name, svr.advertiseAddr); err != nil {
				svr.log.Warn("Failed to deregister service", "service", name, "err", err)
			}
		}
	}

	svr.shutdown.Store(true)
	if l := svr.listener.Load(); l != nil {
		(*l).Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

type remoteAddrKey struct{}

// WithRemoteAddr records the caller's network address for the request.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

// RemoteAddr returns the address stored by WithRemoteAddr, or "".
func RemoteAddr(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey{}).(string)
	return addr
}
