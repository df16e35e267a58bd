package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jizhuozhi/hermes/gateway/internal/admin"
	"github.com/jizhuozhi/hermes/gateway/internal/config"
	"github.com/jizhuozhi/hermes/gateway/internal/discovery"
	"github.com/jizhuozhi/hermes/gateway/internal/metrics"
	"github.com/jizhuozhi/hermes/gateway/internal/middleware"
	"github.com/jizhuozhi/hermes/gateway/internal/protocol"
	"github.com/jizhuozhi/hermes/gateway/internal/proxy"
	"github.com/jizhuozhi/hermes/gateway/internal/state"
	"github.com/jizhuozhi/hermes/gateway/internal/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

func main() {
	cfgPath := pflag.StringP("config", "c", "gateway.toml", "gateway config file path")
	listen := pflag.StringP("listen", "l", "", "override the data-plane listen address")
	adminListen := pflag.String("admin-listen", "", "override the admin listen address")
	pflag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *adminListen != "" {
		cfg.AdminListen = *adminListen
	}

	poolCfg := upstream.PoolConfig{
		MaxIdle:        cfg.PoolConfig.MaxIdle,
		MaxInUse:       cfg.PoolConfig.MaxInUse,
		IdleTimeout:    time.Duration(cfg.PoolConfig.IdleTimeoutSecs) * time.Second,
		ConnectTimeout: time.Duration(cfg.PoolConfig.ConnectTimeoutSecs) * time.Second,
	}

	source, err := buildSnapshotSource(cfg, poolCfg, sugar)
	if err != nil {
		log.Fatalf("failed to build config source: %v", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// The source's watch lives on runCtx for the whole process; only the
	// initial load is bounded by the 15s startup timeout.
	startErr := make(chan error, 1)
	go func() { startErr <- source.Start(runCtx) }()
	select {
	case err := <-startErr:
		if err != nil {
			log.Fatalf("failed initial config load: %v", err)
		}
	case <-time.After(15 * time.Second):
		log.Fatalf("failed initial config load: timed out after 15s")
	}

	registry := prometheus.NewRegistry()
	gwMetrics := metrics.New(registry)

	// Re-resolve dynamic-discovery clusters whenever a reload rebuilds
	// the snapshot's Cluster objects, and wire circuit-breaker
	// transitions to metrics for the clusters that exist right now.
	var cancelDiscovery context.CancelFunc
	applySnapshot := func(snap *config.Snapshot) {
		if cancelDiscovery != nil {
			cancelDiscovery()
		}
		clusterCfgs := clusterConfigsOf(source)
		cancelDiscovery = discovery.StartAll(runCtx, snap, clusterCfgs, cfg.Consul, poolCfg, sugar)

		hcByName := make(map[string]upstream.HealthCheckConfig, len(clusterCfgs))
		for _, cc := range clusterCfgs {
			if cc.HealthCheck != nil {
				hcByName[cc.Name] = cc.HealthCheck.ToHealthCheckConfig()
			}
		}
		for name, c := range snap.Clusters {
			clusterName := name
			if c.CB != nil {
				c.CB.OnTransition(func(s upstream.CircuitState) {
					gwMetrics.RecordCircuitTransition(clusterName, s.String())
				})
			}
			go c.RunHealthChecks(runCtx, hcByName[name], sugar)
		}
	}
	applySnapshot(source.Snapshot())
	source.OnChange(applySnapshot)

	adm := admin.New(source)

	engine := proxy.NewEngine(sugar).WithMetrics(gwMetrics)
	term := &terminalHandler{
		snapshot: source.Snapshot,
		engine:   engine,
		ws:       protocol.NewWebSocketProxy(protocol.WebSocketConfig{}, sugar),
		sseCfg:   protocol.SSEConfig{},
		metrics:  gwMetrics,
		logger:   sugar,
	}

	chain := buildChain(cfg, source, term, sugar)
	dataServer := &gatewayServer{chain: chain, logger: sugar}

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      dataServer,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses (SSE, WebSocket) must not be cut off
		IdleTimeout:  120 * time.Second,
	}

	adminHandler := admin.NewHandler(adm).WithMetrics(registry)
	adminSrv := &http.Server{
		Addr:    cfg.AdminListen,
		Handler: adminHandler.Mux(),
	}

	instanceID := uuid.NewString()
	lease := config.NewInstanceLease(etcdClientOf(source), cfg.InstanceRegistry, instanceID, sugar)
	go func() {
		if err := lease.Run(runCtx); err != nil {
			sugar.Warnw("instance lease exited", "error", err)
		}
	}()

	go func() {
		sugar.Infof("hermes gateway data plane listening on %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("data plane server error: %v", err)
		}
	}()
	go func() {
		sugar.Infof("hermes gateway admin surface listening on %s", cfg.AdminListen)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("admin server error: %v", err)
		}
	}()

	adm.SetReady(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("shutting down...")
	adm.SetReady(false)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	adminSrv.Shutdown(shutdownCtx)
}

// snapshotSource is the minimal surface main.go needs from either
// config source; both *config.EtcdSource and *config.StaticSource
// satisfy it.
type snapshotSource interface {
	Snapshot() *config.Snapshot
	Start(ctx context.Context) error
	OnChange(fn func(*config.Snapshot))
}

func buildSnapshotSource(cfg *config.Config, poolCfg upstream.PoolConfig, logger *zap.SugaredLogger) (snapshotSource, error) {
	if len(cfg.Etcd.Endpoints) > 0 {
		return config.NewEtcdSource(cfg.Etcd, poolCfg, logger)
	}
	if cfg.Bootstrap == "" {
		log.Fatalf("neither etcd.endpoints nor bootstrap is configured")
	}
	return config.NewStaticSource(cfg.Bootstrap, poolCfg), nil
}

// clusterConfigsOf returns the raw cluster definitions behind source's
// current snapshot, needed by discovery.StartAll for fields (like
// DiscoveryType) the built *upstream.Cluster doesn't carry.
func clusterConfigsOf(source snapshotSource) []upstream.ClusterConfig {
	switch s := source.(type) {
	case *config.EtcdSource:
		return s.ClusterConfigs()
	case *config.StaticSource:
		return s.ClusterConfigs()
	default:
		return nil
	}
}

// etcdClientOf extracts the etcd client backing source for the
// instance-registry lease, or nil when running from a static
// bootstrap file (InstanceLease.Run is a no-op when cfg.Enabled is
// false, which a bootstrap-only deployment should set).
func etcdClientOf(source snapshotSource) *clientv3.Client {
	if s, ok := source.(*config.EtcdSource); ok {
		return s.Client()
	}
	return nil
}

func buildChain(cfg *config.Config, source snapshotSource, term *terminalHandler, logger *zap.SugaredLogger) *middleware.Chain {
	mws := []middleware.Middleware{
		middleware.NewRequestID(middleware.RequestIDConfig{AddToResponse: true}),
		middleware.NewRequestLog(logger),
		middleware.NewRouter(source.Snapshot),
	}

	mw := cfg.Middleware
	if mw.CORS != nil {
		mws = append(mws, middleware.NewCORS(middleware.CORSConfig{AllowedOrigins: mw.CORS.AllowedOrigins}))
	}
	if mw.JWTAuth != nil {
		mws = append(mws, middleware.NewJWTAuth(middleware.JWTAuthConfig{
			Secret:        mw.JWTAuth.Secret,
			RequiredScope: mw.JWTAuth.RequiredScope,
		}))
	}
	// The rate limiter is always in the chain, not just when
	// mw.RateLimit configures a global default: a route's own
	// rate_limit (published alongside it over etcd) must be enforced
	// even when the process config carries no [middleware.rate_limit]
	// section at all.
	rlCfg := middleware.RateLimitConfig{}
	if mw.RateLimit != nil {
		rlCfg = middleware.RateLimitConfig{
			Limit:      mw.RateLimit.Limit,
			Window:     time.Duration(mw.RateLimit.WindowSecs) * time.Second,
			KeySource:  middleware.RateLimitKeySource(mw.RateLimit.KeySource),
			HeaderName: mw.RateLimit.HeaderName,
		}
	}
	mws = append(mws, middleware.NewRateLimit(rlCfg, state.NewMemoryBackend(time.Minute)))
	if mw.TimeoutSecs > 0 {
		mws = append(mws, middleware.NewTimeout(middleware.TimeoutConfig{
			RequestTimeout: time.Duration(mw.TimeoutSecs) * time.Second,
		}, logger))
	}
	if mw.Compression != nil {
		mws = append(mws, middleware.NewCompression(middleware.CompressionConfig{
			Enabled: mw.Compression.Enabled,
			MinSize: mw.Compression.MinSize,
		}))
	}

	return middleware.NewChain(term.Handle, mws...)
}
