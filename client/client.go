// Package client calls services registered with the RPC server. It discovers
// instances through a registry, picks one with a load balancer and keeps a
// small pool of multiplexed transports per instance.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"authz-rpc/codec"
	"authz-rpc/loadbalance"
	"authz-rpc/message"
	"authz-rpc/registry"
	"authz-rpc/rpcctx"
	"authz-rpc/rpcerr"
	"authz-rpc/transport"

	"github.com/ethereum/go-ethereum/log"
)

// ErrClientClosed is returned by Call after Close.
var ErrClientClosed = errors.New("rpc: client closed")

type Client struct {
	registry   registry.Registry
	balancer   loadbalance.Balancer
	transports map[string]chan *transport.ClientTransport // one pool per instance address
	codecType  codec.CodecType
	mu         sync.Mutex
	closed     bool

	poolSize    int
	dialTimeout time.Duration
	heartbeat   time.Duration
	log         log.Logger
}

type Option func(*Client)

func WithCodec(ct codec.CodecType) Option {
	return func(c *Client) { c.codecType = ct }
}

// WithPoolSize sets how many connections are kept per instance.
func WithPoolSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.poolSize = n
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

func WithLogger(l log.Logger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	c := &Client{
		registry:    reg,
		balancer:    bal,
		transports:  make(map[string]chan *transport.ClientTransport),
		codecType:   codec.CodecTypeJSON,
		poolSize:    2,
		dialTimeout: 5 * time.Second,
		heartbeat:   transport.DefaultHeartbeatInterval,
		log:         log.Root(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if bal == nil {
		c.balancer = &loadbalance.RoundRobinBalancer{}
	}
	return c
}

type (
	sessionTokenKey struct{}
	affinityKey     struct{}
)

// WithSessionToken attaches a session token to every call made with ctx. The
// token travels as a bearer credential in the request metadata.
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionTokenKey{}, token)
}

// WithAffinityKey sets the key consistent-hash balancing routes on. Calls
// without one use their session token.
func WithAffinityKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, affinityKey{}, key)
}

func metadataFrom(ctx context.Context) (map[string]string, string) {
	token, _ := ctx.Value(sessionTokenKey{}).(string)
	key, _ := ctx.Value(affinityKey{}).(string)
	if key == "" {
		key = token
	}
	if token == "" {
		return nil, key
	}
	return map[string]string{rpcctx.AuthorizationKey: "Bearer " + token}, key
}

// Call invokes serviceMethod ("Service.Method") and decodes the result into
// reply. Errors reported by the server are returned as *rpcerr.Error.
func (c *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	serviceName, _, ok := strings.Cut(serviceMethod, ".")
	if !ok {
		return fmt.Errorf("invalid serviceMethod format: %v", serviceMethod)
	}

	instances, err := c.registry.Discover(ctx, serviceName)
	if err != nil {
		return err
	}
	md, key := metadataFrom(ctx)
	instance, err := c.balancer.Pick(key, instances)
	if err != nil {
		return fmt.Errorf("%s: %w", serviceName, err)
	}

	t, err := c.getTransport(ctx, instance.Addr)
	if err != nil {
		return err
	}
	defer c.putTransport(instance.Addr, t)

	payload, err := json.Marshal(args)
	if err != nil {
		return err
	}
	seq, ch, err := t.Send(&message.RPCMessage{
		ServiceMethod: serviceMethod,
		Metadata:      md,
		Payload:       payload,
	})
	if err != nil {
		return err
	}

	var resp *message.RPCMessage
	select {
	case resp = <-ch:
	case <-ctx.Done():
		t.Cancel(seq)
		return ctx.Err()
	}

	if resp.Failed() {
		kind := rpcerr.Kind(resp.ErrorKind)
		if kind == "" {
			kind = rpcerr.InternalServerError
		}
		return rpcerr.New(kind, resp.Error)
	}
	if reply == nil || len(resp.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Payload, reply)
}

// getTransport takes a transport from the instance's pool. Pool slots start
// empty and are dialled on first use; broken transports are replaced.
func (c *Client) getTransport(ctx context.Context, addr string) (*transport.ClientTransport, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	pool, ok := c.transports[addr]
	if !ok {
		pool = make(chan *transport.ClientTransport, c.poolSize)
		for i := 0; i < c.poolSize; i++ {
			pool <- nil
		}
		c.transports[addr] = pool
	}
	c.mu.Unlock()

	var t *transport.ClientTransport
	select {
	case t = <-pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if t != nil && !t.Closed() {
		return t, nil
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		pool <- nil
		return nil, err
	}
	c.log.Debug("Dialled RPC instance", "addr", addr, "codec", c.codecType)
	return transport.NewClientTransport(conn, c.codecType, transport.WithHeartbeat(c.heartbeat)), nil
}

func (c *Client) putTransport(addr string, t *transport.ClientTransport) {
	c.mu.Lock()
	pool := c.transports[addr]
	closed := c.closed
	c.mu.Unlock()
	if closed {
		t.Close()
		return
	}
	pool <- t
}

// Close closes all idle transports. Transports in use are closed when they
// are returned.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, pool := range c.transports {
	drain:
		for {
			select {
			case t := <-pool:
				if t != nil {
					t.Close()
				}
			default:
				break drain
			}
		}
	}
	return nil
}
