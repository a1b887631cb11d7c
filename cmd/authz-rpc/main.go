// authz-rpc serves account procedures over the framed RPC protocol and an
// HTTP gateway, authorizing protected calls by the session's account address.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authz-rpc/account"
	"authz-rpc/config"
	"authz-rpc/gateway"
	"authz-rpc/middleware"
	"authz-rpc/procedure"
	"authz-rpc/registry"
	"authz-rpc/rpcctx"
	"authz-rpc/server"
	"authz-rpc/session"
	"authz-rpc/store"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "YAML configuration file",
		EnvVars: []string{"AUTHZ_RPC_CONFIG"},
	}
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "RPC listen address (overrides server.listen)",
	}
	gatewayFlag = &cli.StringFlag{
		Name:  "gateway",
		Usage: "HTTP gateway listen address, empty disables the gateway (overrides gateway.listen)",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail (overrides log.verbosity)",
	}
)

var app = &cli.App{
	Name:   "authz-rpc",
	Usage:  "address-authorized RPC server",
	Flags:  []cli.Flag{configFlag, listenFlag, gatewayFlag, verbosityFlag},
	Action: serve,
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return cfg, err
	}
	if ctx.IsSet(listenFlag.Name) {
		cfg.Server.Listen = ctx.String(listenFlag.Name)
	}
	if ctx.IsSet(gatewayFlag.Name) {
		cfg.Gateway.Listen = ctx.String(gatewayFlag.Name)
	}
	if ctx.IsSet(verbosityFlag.Name) {
		cfg.Log.Verbosity = ctx.Int(verbosityFlag.Name)
	}
	return cfg, nil
}

// newLogger builds the process logger the same way for every format: a
// format handler behind a verbosity filter.
func newLogger(w io.Writer, cfg config.LogConfig) (log.Logger, error) {
	var glogger *log.GlogHandler
	switch cfg.Format {
	case config.FormatJSON:
		glogger = log.NewGlogHandler(log.JSONHandler(w))
	case config.FormatLogfmt:
		glogger = log.NewGlogHandler(log.LogfmtHandler(w))
	case config.FormatTerminal, "":
		glogger = log.NewGlogHandler(log.NewTerminalHandler(w, false))
	default:
		return nil, fmt.Errorf("unknown log format: %v", cfg.Format)
	}
	glogger.Verbosity(log.FromLegacyLevel(cfg.Verbosity))
	return log.NewLogger(glogger), nil
}

// newResolver picks the session strategy.
func newResolver(cfg config.SessionConfig, st *store.Store) (rpcctx.SessionResolver, error) {
	switch cfg.Strategy {
	case config.StrategyJWT:
		return rpcctx.TokenSessionResolver(session.NewTokenVerifier([]byte(cfg.Secret))), nil
	case config.StrategyDatabase:
		if st == nil {
			return nil, errors.New("database sessions need a configured store")
		}
		return rpcctx.TokenSessionResolver(st), nil
	}
	return nil, fmt.Errorf("unknown session strategy %q", cfg.Strategy)
}

func serve(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := newLogger(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}
	log.SetDefault(logger)

	var st *store.Store
	if cfg.Store.DSN != "" {
		if st, err = store.Open(cfg.Store.Store()); err != nil {
			return err
		}
		defer st.Close()
		pingCtx, cancel := context.WithTimeout(ctx.Context, 5*time.Second)
		err := st.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("store unreachable: %w", err)
		}
		log.Info("Connected to store", "driver", cfg.Store.Driver)
	}

	resolver, err := newResolver(cfg.Session, st)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := middleware.NewMetrics(promReg)
	if err != nil {
		return err
	}

	svr := server.NewServer(rpcctx.NewBuilder(st, resolver),
		server.WithLogger(logger),
		server.WithRegistryTTL(cfg.Registry.TTL))
	svr.Use(middleware.LoggingMiddleware(logger))
	svr.Use(metrics.Middleware())
	if cfg.Limits.Rate > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Limits.Rate, cfg.Limits.Burst))
	}
	if cfg.Limits.Timeout > 0 {
		svr.Use(middleware.TimeoutMiddleware(cfg.Limits.Timeout))
	}

	classifier := procedure.NewClassifier(procedure.WithCheckBeforeExecute(cfg.Auth.CheckBeforeExecute))
	if err := account.Register(svr, classifier); err != nil {
		return err
	}

	var reg registry.Registry
	if len(cfg.Registry.Endpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.Prefix)
		if err != nil {
			return err
		}
		defer etcdReg.Close()
		reg = etcdReg
	}

	errc := make(chan error, 2)
	go func() {
		errc <- svr.Serve(cfg.Server.Network, cfg.Server.Listen, cfg.Server.Advertise, reg)
	}()

	var httpSrv *http.Server
	if cfg.Gateway.Listen != "" {
		opts := []gateway.Option{gateway.WithMetrics(promReg), gateway.WithLogger(logger)}
		if st != nil {
			opts = append(opts, gateway.WithHealthCheck(st.Ping))
		}
		httpSrv = &http.Server{
			Addr:              cfg.Gateway.Listen,
			Handler:           gateway.New(svr, opts...),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("HTTP gateway started", "addr", cfg.Gateway.Listen)
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	var serveErr error
	select {
	case sig := <-sigc:
		log.Info("Got interrupt, shutting down...", "signal", sig)
	case serveErr = <-errc:
		log.Error("Server stopped", "err", serveErr)
	}

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP gateway shutdown failed", "err", err)
		}
		cancel()
	}
	if err := svr.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		log.Warn("RPC server shutdown incomplete", "err", err)
	}
	return serveErr
}
