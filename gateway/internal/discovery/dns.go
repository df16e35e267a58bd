package discovery

import (
	"context"
	"fmt"
	"net"
)

// DNSProvider resolves a service name to endpoints the same way
// original_source's DnsDiscovery does: try an SRV record first (it
// carries its own port per target), and fall back to a plain A/AAAA
// lookup against DefaultPort when no SRV records exist.
type DNSProvider struct {
	Resolver    *net.Resolver
	DefaultPort int
}

// NewDNSProvider builds a provider using net.DefaultResolver.
// defaultPort is used when a lookup has no SRV records to supply a
// port of its own.
func NewDNSProvider(defaultPort int) *DNSProvider {
	return &DNSProvider{Resolver: net.DefaultResolver, DefaultPort: defaultPort}
}

func (p *DNSProvider) Name() string { return "dns" }

func (p *DNSProvider) Discover(ctx context.Context, serviceName string) ([]Endpoint, error) {
	if endpoints, err := p.resolveSRV(ctx, serviceName); err == nil && len(endpoints) > 0 {
		return endpoints, nil
	}
	return p.resolveA(ctx, serviceName)
}

func (p *DNSProvider) resolveSRV(ctx context.Context, serviceName string) ([]Endpoint, error) {
	_, records, err := p.Resolver.LookupSRV(ctx, "", "", serviceName)
	if err != nil {
		return nil, err
	}

	var endpoints []Endpoint
	for _, rec := range records {
		ips, err := p.Resolver.LookupHost(ctx, rec.Target)
		if err != nil {
			continue
		}
		for _, ip := range ips {
			endpoints = append(endpoints, Endpoint{
				ID:     fmt.Sprintf("%s-%s-%d", serviceName, ip, rec.Port),
				Host:   ip,
				Port:   int(rec.Port),
				Weight: int(rec.Weight),
			})
		}
	}
	return endpoints, nil
}

func (p *DNSProvider) resolveA(ctx context.Context, serviceName string) ([]Endpoint, error) {
	ips, err := p.Resolver.LookupHost(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("dns lookup %q: %w", serviceName, err)
	}

	endpoints := make([]Endpoint, 0, len(ips))
	for _, ip := range ips {
		endpoints = append(endpoints, Endpoint{
			ID:     fmt.Sprintf("%s-%s-%d", serviceName, ip, p.DefaultPort),
			Host:   ip,
			Port:   p.DefaultPort,
			Weight: 1,
		})
	}
	return endpoints, nil
}
