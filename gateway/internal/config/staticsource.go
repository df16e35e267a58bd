package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/jizhuozhi/hermes/gateway/internal/upstream"
	"gopkg.in/yaml.v3"
)

// StaticSource builds a Snapshot once from a YAML bootstrap file
// instead of watching etcd, for local development or single-node
// deployments that have no control-plane. It satisfies the same
// admin.SnapshotSource interface as EtcdSource so main.go can wire
// whichever one the process config selects without a type switch
// downstream.
type StaticSource struct {
	path     string
	poolCfg  upstream.PoolConfig
	snapshot atomic.Pointer[Snapshot]

	mu        sync.Mutex
	listeners []func(*Snapshot)
	clusters  []upstream.ClusterConfig
}

func NewStaticSource(path string, poolCfg upstream.PoolConfig) *StaticSource {
	return &StaticSource{path: path, poolCfg: poolCfg}
}

func (s *StaticSource) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// OnChange registers fn to be called, with the new snapshot, every
// time Start successfully reloads the bootstrap file. Mirrors
// EtcdSource.OnChange so main.go can drive both sources the same way.
func (s *StaticSource) OnChange(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// ClusterConfigs returns the raw cluster definitions from the most
// recent successful Start, for callers (discovery.StartAll) that need
// fields Snapshot's built *upstream.Cluster drops, like DiscoveryType.
func (s *StaticSource) ClusterConfigs() []upstream.ClusterConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clusters
}

// Start loads (or reloads) the bootstrap file and atomically swaps in
// the resulting Snapshot. Admin's manual "/reload" re-reads the file
// from disk the same way, so editing it and calling reload works
// without a restart even without etcd.
func (s *StaticSource) Start(ctx context.Context) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read bootstrap file %s: %w", s.path, err)
	}

	var gwCfg upstream.GatewayConfig
	if err := yaml.Unmarshal(data, &gwCfg); err != nil {
		return fmt.Errorf("parse bootstrap file %s: %w", s.path, err)
	}

	var firstErr error
	domainRoutes := buildDomainRoutes(gwCfg.Domains, func(domain, uri string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("bootstrap route %s/%s: %w", domain, uri, err)
		}
	})
	if firstErr != nil {
		return firstErr
	}

	clusters, err := upstream.BuildClusters(gwCfg.Clusters, s.poolCfg)
	if err != nil {
		return fmt.Errorf("bootstrap clusters: %w", err)
	}

	prev := s.snapshot.Load()
	revision := int64(1)
	if prev != nil {
		revision = prev.Revision + 1
	}
	snap := &Snapshot{Domains: domainRoutes, Clusters: clusters, Revision: revision}
	s.snapshot.Store(snap)

	s.mu.Lock()
	s.clusters = gwCfg.Clusters
	listeners := append([]func(*Snapshot){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
	return nil
}
