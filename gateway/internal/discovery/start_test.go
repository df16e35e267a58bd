package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/jizhuozhi/hermes/gateway/internal/config"
	"github.com/jizhuozhi/hermes/gateway/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAllSkipsStaticAndUnknownClusters(t *testing.T) {
	cluster := upstream.NewCluster("backend", upstream.RoundRobin, nil, upstream.PoolConfig{})
	snap := &config.Snapshot{Clusters: map[string]*upstream.Cluster{"backend": cluster}}

	cfgs := []upstream.ClusterConfig{
		{Name: "backend", DiscoveryType: "static"},
		{Name: "missing", DiscoveryType: "dns"},
	}

	cancel := StartAll(context.Background(), snap, cfgs, config.ConsulConfig{}, upstream.PoolConfig{}, nil)
	defer cancel()

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, cluster.Instances())
}

func TestStartAllResolvesDNSCluster(t *testing.T) {
	cluster := upstream.NewCluster("backend", upstream.RoundRobin, nil, upstream.PoolConfig{})
	snap := &config.Snapshot{Clusters: map[string]*upstream.Cluster{"backend": cluster}}

	cfgs := []upstream.ClusterConfig{
		{Name: "backend", DiscoveryType: "dns", ServiceName: "localhost", Nodes: []upstream.UpstreamNodeConfig{{Port: 9000}}},
	}

	cancel := StartAll(context.Background(), snap, cfgs, config.ConsulConfig{}, upstream.PoolConfig{}, nil)
	defer cancel()

	require.Eventually(t, func() bool {
		return len(cluster.Instances()) > 0
	}, time.Second, 10*time.Millisecond)
}
