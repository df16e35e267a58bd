package config

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jizhuozhi/hermes/gateway/internal/upstream"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// EtcdSource watches the domain and cluster prefixes the control-plane's
// controller publishes to (mirroring controller/internal/controller
// .watchInstances's watch-then-reconcile-all loop) and rebuilds a
// Snapshot on every change, swapping it in atomically.
type EtcdSource struct {
	client   *clientv3.Client
	cfg      EtcdConfig
	poolCfg  upstream.PoolConfig
	logger   *zap.SugaredLogger
	group    singleflight.Group
	snapshot atomic.Pointer[Snapshot]

	mu        sync.Mutex
	listeners []func(*Snapshot)
	clusters  []upstream.ClusterConfig
}

// NewEtcdSource dials etcd per cfg and returns a source with no
// snapshot loaded yet; call Start to perform the initial fetch and
// begin watching.
func NewEtcdSource(cfg EtcdConfig, poolCfg upstream.PoolConfig, logger *zap.SugaredLogger) (*EtcdSource, error) {
	etcdCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: 5 * time.Second,
	}
	if cfg.Username != "" {
		etcdCfg.Username = cfg.Username
		etcdCfg.Password = cfg.Password
	}
	client, err := clientv3.New(etcdCfg)
	if err != nil {
		return nil, err
	}
	return &EtcdSource{client: client, cfg: cfg, poolCfg: poolCfg, logger: logger}, nil
}

// Snapshot returns the most recently built snapshot, or nil before the
// first successful fetch.
func (s *EtcdSource) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// OnChange registers fn to be called, with the new snapshot, whenever
// a reload publishes one. fn is called synchronously from the watch
// goroutine; implementations should not block.
func (s *EtcdSource) OnChange(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// ClusterConfigs returns the raw cluster definitions fetched by the
// most recent reload, for callers (discovery.StartAll) that need
// fields Snapshot's built *upstream.Cluster drops, like DiscoveryType.
func (s *EtcdSource) ClusterConfigs() []upstream.ClusterConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clusters
}

// Client returns the underlying etcd client, for callers (the
// instance-registry lease) that need to share the same connection
// rather than open a second one.
func (s *EtcdSource) Client() *clientv3.Client {
	return s.client
}

// Close releases the etcd client.
func (s *EtcdSource) Close() error {
	return s.client.Close()
}

// Start performs the initial fetch and then watches both prefixes,
// reconciling the full snapshot on every event. It returns once the
// initial fetch succeeds; watching continues in a background
// goroutine until ctx is cancelled.
func (s *EtcdSource) Start(ctx context.Context) error {
	if _, err := s.reload(ctx); err != nil {
		return err
	}
	go s.watch(ctx)
	return nil
}

func (s *EtcdSource) watch(ctx context.Context) {
	domainPrefix := strings.TrimRight(s.cfg.DomainPrefix, "/") + "/"
	clusterPrefix := strings.TrimRight(s.cfg.ClusterPrefix, "/") + "/"

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		domainCh := s.client.Watch(ctx, domainPrefix, clientv3.WithPrefix())
		clusterCh := s.client.Watch(ctx, clusterPrefix, clientv3.WithPrefix())

		watching := true
		for watching {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-domainCh:
				if !ok {
					watching = false
					break
				}
				if resp.Err() != nil {
					if s.logger != nil {
						s.logger.Warnw("domain watch error", "error", resp.Err())
					}
					watching = false
					break
				}
				s.reloadDebounced(ctx)
			case resp, ok := <-clusterCh:
				if !ok {
					watching = false
					break
				}
				if resp.Err() != nil {
					if s.logger != nil {
						s.logger.Warnw("cluster watch error", "error", resp.Err())
					}
					watching = false
					break
				}
				s.reloadDebounced(ctx)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
			if s.logger != nil {
				s.logger.Info("etcd config watch reconnecting...")
			}
		}
	}
}

// reloadDebounced collapses concurrent reload requests triggered by a
// burst of watch events into a single etcd round trip.
func (s *EtcdSource) reloadDebounced(ctx context.Context) {
	_, err, _ := s.group.Do("reload", func() (interface{}, error) {
		return s.reload(ctx)
	})
	if err != nil && s.logger != nil {
		s.logger.Errorw("config reload failed", "error", err)
	}
}

func (s *EtcdSource) reload(ctx context.Context) (*Snapshot, error) {
	domains, err := s.fetchDomains(ctx)
	if err != nil {
		return nil, err
	}
	clusterCfgs, err := s.fetchClusters(ctx)
	if err != nil {
		return nil, err
	}

	clusters, err := upstream.BuildClusters(clusterCfgs, s.poolCfg)
	if err != nil {
		return nil, err
	}

	domainRoutes := buildDomainRoutes(domains, func(domain, uri string, err error) {
		if s.logger != nil {
			s.logger.Warnw("skipping route", "domain", domain, "uri", uri, "error", err)
		}
	})

	rev := s.nextRevision()
	snap := &Snapshot{Domains: domainRoutes, Clusters: clusters, Revision: rev}
	s.snapshot.Store(snap)

	s.mu.Lock()
	s.clusters = clusterCfgs
	listeners := append([]func(*Snapshot){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
	if s.logger != nil {
		s.logger.Infow("config snapshot reloaded", "revision", rev, "domains", len(domains), "clusters", len(clusters))
	}
	return snap, nil
}

func (s *EtcdSource) nextRevision() int64 {
	prev := s.snapshot.Load()
	if prev == nil {
		return 1
	}
	return prev.Revision + 1
}

func (s *EtcdSource) fetchDomains(ctx context.Context) ([]upstream.DomainConfig, error) {
	prefix := strings.TrimRight(s.cfg.DomainPrefix, "/") + "/"
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	domains := make([]upstream.DomainConfig, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var d upstream.DomainConfig
		if err := json.Unmarshal(kv.Value, &d); err != nil {
			if s.logger != nil {
				s.logger.Warnw("skipping malformed domain entry", "key", string(kv.Key), "error", err)
			}
			continue
		}
		domains = append(domains, d)
	}
	return domains, nil
}

func (s *EtcdSource) fetchClusters(ctx context.Context) ([]upstream.ClusterConfig, error) {
	prefix := strings.TrimRight(s.cfg.ClusterPrefix, "/") + "/"
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	clusters := make([]upstream.ClusterConfig, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var c upstream.ClusterConfig
		if err := json.Unmarshal(kv.Value, &c); err != nil {
			if s.logger != nil {
				s.logger.Warnw("skipping malformed cluster entry", "key", string(kv.Key), "error", err)
			}
			continue
		}
		clusters = append(clusters, c)
	}
	return clusters, nil
}
