package discovery

import (
	"context"

	"github.com/jizhuozhi/hermes/gateway/internal/config"
	"github.com/jizhuozhi/hermes/gateway/internal/upstream"
	"go.uber.org/zap"
)

// StartAll launches one Poller per cluster in clusterCfgs that names a
// non-static DiscoveryType, feeding the matching *upstream.Cluster in
// snap. Returns a CancelFunc that stops every poller it started; the
// caller invokes it (and calls StartAll again) whenever a config
// reload rebuilds the snapshot's Cluster objects, since a poller
// bound to a stale Cluster would otherwise keep mutating an object no
// request path references anymore.
func StartAll(
	ctx context.Context,
	snap *config.Snapshot,
	clusterCfgs []upstream.ClusterConfig,
	consulCfg config.ConsulConfig,
	poolCfg upstream.PoolConfig,
	logger *zap.SugaredLogger,
) context.CancelFunc {
	dctx, cancel := context.WithCancel(ctx)

	for _, cc := range clusterCfgs {
		if cc.DiscoveryType == "" || cc.DiscoveryType == "static" {
			continue
		}
		cluster := snap.Cluster(cc.Name)
		if cluster == nil {
			continue
		}
		provider, err := NewProvider(cc, consulCfg)
		if err != nil {
			if logger != nil {
				logger.Warnw("skipping discovery for cluster", "cluster", cc.Name, "error", err)
			}
			continue
		}

		serviceName := cc.ServiceName
		if serviceName == "" {
			serviceName = cc.Name
		}

		poller := &Poller{
			Provider:    provider,
			ServiceName: serviceName,
			Cluster:     cluster,
			PoolCfg:     poolCfg,
			Logger:      logger,
		}
		go func(name string) {
			if err := poller.Run(dctx); err != nil && logger != nil {
				logger.Warnw("discovery poller exited", "cluster", name, "error", err)
			}
		}(cc.Name)
	}

	return cancel
}
