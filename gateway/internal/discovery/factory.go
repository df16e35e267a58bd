package discovery

import (
	"fmt"

	"github.com/jizhuozhi/hermes/gateway/internal/config"
	"github.com/jizhuozhi/hermes/gateway/internal/upstream"
)

// NewProvider builds the Provider named by cc.DiscoveryType. An empty
// or "static" type needs no provider at all — callers should skip
// discovery entirely and build instances straight from cc.Nodes, as
// upstream.BuildClusters already does.
func NewProvider(cc upstream.ClusterConfig, consulCfg config.ConsulConfig) (Provider, error) {
	switch cc.DiscoveryType {
	case "dns":
		return NewDNSProvider(defaultPortOf(cc)), nil
	case "consul":
		if consulCfg.Address == "" {
			return nil, fmt.Errorf("cluster %q: discovery_type=consul requires consul.address", cc.Name)
		}
		return NewConsulProvider(consulCfg.Address, consulCfg.Datacenter, consulCfg.Token), nil
	default:
		return nil, fmt.Errorf("cluster %q: unknown discovery_type %q", cc.Name, cc.DiscoveryType)
	}
}

func defaultPortOf(cc upstream.ClusterConfig) int {
	if len(cc.Nodes) > 0 && cc.Nodes[0].Port > 0 {
		return cc.Nodes[0].Port
	}
	return 80
}
