package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/jizhuozhi/hermes/gateway/internal/upstream"
	"go.uber.org/zap"
)

// Poller re-resolves a cluster's Provider on a fixed interval and
// applies the result via upstream.Cluster.SetInstances, the same
// entry point the static-config path uses. original_source's
// DnsDiscovery.watch_services keeps a connection open for
// push-based change notification where the backend supports it; DNS
// and Consul here only support polling, so this is the gateway's one
// reconciliation loop for both (controller/internal/controller
// .Run's ticker-driven pollOnce is the model).
type Poller struct {
	Provider    Provider
	ServiceName string
	Cluster     *upstream.Cluster
	PoolCfg     upstream.PoolConfig
	Interval    time.Duration
	Logger      *zap.SugaredLogger
}

// Run polls until ctx is cancelled. The first resolution happens
// immediately so the cluster has instances before Run returns (the
// caller typically runs this in a goroutine but still wants the
// initial result synchronously).
func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if err := p.pollOnce(ctx); err != nil {
		return fmt.Errorf("initial %s discovery for %s: %w", p.Provider.Name(), p.ServiceName, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil && p.Logger != nil {
				p.Logger.Warnw("discovery poll failed", "provider", p.Provider.Name(),
					"service", p.ServiceName, "error", err)
			}
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	endpoints, err := p.Provider.Discover(ctx, p.ServiceName)
	if err != nil {
		return err
	}

	instances := make([]*upstream.Instance, 0, len(endpoints))
	for i, e := range endpoints {
		id := e.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", p.ServiceName, i)
		}
		weight := e.Weight
		if weight <= 0 {
			weight = 1
		}
		instances = append(instances, upstream.NewInstance(id, e.Host, e.Port, weight))
	}

	p.Cluster.SetInstances(instances, p.PoolCfg)
	if p.Logger != nil {
		p.Logger.Infow("discovery resolved instances", "provider", p.Provider.Name(),
			"service", p.ServiceName, "count", len(instances))
	}
	return nil
}
