// Package gateway exposes registered procedures over HTTP.
//
//	POST /rpc/:procedure   body is the JSON input, e.g. /rpc/Account.Profile
//	GET  /healthz
//	GET  /metrics
//
// Credentials are read from the Authorization header and the session cookie
// and handed to the dispatcher as request metadata, the same way the framed
// transport carries them.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"authz-rpc/message"
	"authz-rpc/rpcctx"
	"authz-rpc/rpcerr"
	"authz-rpc/server"

	"github.com/ethereum/go-ethereum/log"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultMaxBodySize bounds request bodies.
const DefaultMaxBodySize = 1 << 20

// SessionCookieName is the cookie the session token is read from.
const SessionCookieName = "session-token"

// Dispatcher runs one RPC message. *server.Server implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *message.RPCMessage) *message.RPCMessage
}

type Gateway struct {
	dispatcher  Dispatcher
	router      *httprouter.Router
	gatherer    prometheus.Gatherer
	health      func(context.Context) error
	maxBodySize int64
	log         log.Logger
}

type Option func(*Gateway)

// WithMetrics serves gatherer on /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(g *Gateway) { g.gatherer = gatherer }
}

// WithHealthCheck makes /healthz report check's result.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(g *Gateway) { g.health = check }
}

func WithMaxBodySize(n int64) Option {
	return func(g *Gateway) { g.maxBodySize = n }
}

func WithLogger(l log.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

func New(d Dispatcher, opts ...Option) *Gateway {
	g := &Gateway{
		dispatcher:  d,
		maxBodySize: DefaultMaxBodySize,
		log:         log.Root(),
	}
	for _, opt := range opts {
		opt(g)
	}

	router := httprouter.New()
	router.POST("/rpc/:procedure", g.handleRPC)
	router.GET("/healthz", g.handleHealth)
	if g.gatherer != nil {
		router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))
	}
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, rpcerr.New(rpcerr.NotFound, "no route for "+r.URL.Path))
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, rpcerr.New(rpcerr.MethodNotSupported, r.Method+" is not supported on "+r.URL.Path))
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		g.log.Error("Gateway handler panicked", "path", r.URL.Path, "panic", v)
		writeError(w, rpcerr.New(rpcerr.InternalServerError, "internal error"))
	}
	g.router = router
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

type errorBody struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type envelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *errorBody      `json:"error,omitempty"`
}

func (g *Gateway) handleRPC(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, rpcerr.Wrap(rpcerr.BadRequest, err, "request body too large"))
			return
		}
		writeError(w, rpcerr.Wrap(rpcerr.ParseError, err, "unreadable request body"))
		return
	}

	msg := &message.RPCMessage{
		ServiceMethod: ps.ByName("procedure"),
		Metadata:      metadata(r),
		Payload:       body,
	}
	resp := g.dispatcher.Dispatch(server.WithRemoteAddr(r.Context(), r.RemoteAddr), msg)
	if resp.Failed() {
		kind := rpcerr.Kind(resp.ErrorKind)
		if kind == "" {
			kind = rpcerr.InternalServerError
		}
		writeError(w, rpcerr.New(kind, resp.Error))
		return
	}

	for key, value := range resp.Metadata {
		w.Header().Set(key, value)
	}
	result := json.RawMessage(resp.Payload)
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, envelope{Result: result})
}

// metadata collects the credentials the session resolver understands.
func metadata(r *http.Request) map[string]string {
	md := make(map[string]string)
	if auth := r.Header.Get("Authorization"); auth != "" {
		md[rpcctx.AuthorizationKey] = auth
	}
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		md[rpcctx.SessionCookieKey] = c.Value
	}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		md["user-agent"] = ua
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		md["x-forwarded-for"] = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return md
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if g.health != nil {
		if err := g.health(r.Context()); err != nil {
			g.log.Warn("Health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, e *rpcerr.Error) {
	writeJSON(w, e.Kind.HTTPStatus(), envelope{Error: &errorBody{
		Code:    e.Code(),
		Kind:    string(e.Kind),
		Message: e.Error(),
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
