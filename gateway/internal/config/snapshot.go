package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/jizhuozhi/hermes/gateway/internal/routing"
	"github.com/jizhuozhi/hermes/gateway/internal/upstream"
)

// DomainRoutes pairs one domain's host patterns with the route trie
// built from its own route list. Domains partition the route space:
// the same URI pattern may appear in two domains without conflict,
// since each gets its own Trie (§3's "insertion of two routes with
// identical (method, pattern) is rejected" invariant applies within a
// domain, not across domains).
type DomainRoutes struct {
	Name  string
	Hosts []string
	Trie  *routing.Trie
}

// Snapshot bundles the routing tries and cluster registry that
// together answer every request; it is swapped atomically on
// reconfiguration so in-flight requests always see a fully consistent
// pairing of routes to clusters (§9 "graceful config reload without
// dropping in-flight requests").
type Snapshot struct {
	// Trie is a single flat trie used when Domains is empty — the
	// common case for a hand-built Snapshot (tests, single-tenant
	// bootstraps with no host distinction).
	Trie     *routing.Trie
	Domains  []DomainRoutes
	Clusters map[string]*upstream.Cluster
	Revision int64
}

// Cluster looks up a cluster by name, or nil if unknown.
func (s *Snapshot) Cluster(name string) *upstream.Cluster {
	if s == nil {
		return nil
	}
	return s.Clusters[name]
}

// RouteTrieFor resolves which domain's trie a request's Host header
// selects: exact match first, then wildcard suffix (*.example.com),
// then wildcard prefix (api.*), then the default domain (host "_"),
// falling back to the flat Trie when no Domains are configured at
// all. host may carry a ":port" suffix, which is stripped before
// matching.
func (s *Snapshot) RouteTrieFor(host string) *routing.Trie {
	if s == nil {
		return nil
	}
	if len(s.Domains) == 0 {
		return s.Trie
	}

	h := stripHostPort(host)
	var suffixMatch, prefixMatch, defaultMatch *routing.Trie
	for _, d := range s.Domains {
		for _, pattern := range d.Hosts {
			switch {
			case pattern == h:
				return d.Trie
			case pattern == "_":
				if defaultMatch == nil {
					defaultMatch = d.Trie
				}
			case strings.HasPrefix(pattern, "*.") && strings.HasSuffix(h, pattern[1:]):
				if suffixMatch == nil {
					suffixMatch = d.Trie
				}
			case strings.HasSuffix(pattern, ".*") && strings.HasPrefix(h, pattern[:len(pattern)-1]):
				if prefixMatch == nil {
					prefixMatch = d.Trie
				}
			}
		}
	}
	switch {
	case suffixMatch != nil:
		return suffixMatch
	case prefixMatch != nil:
		return prefixMatch
	case defaultMatch != nil:
		return defaultMatch
	default:
		return s.Trie
	}
}

func stripHostPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// allHTTPMethods is the method set a RouteConfig with no explicit
// Methods expands to, so a single uri pattern matches on every verb.
var allHTTPMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}

var routeHasNoClusterErr = fmt.Errorf("route has no cluster or clusters entry")

// buildDomainRoutes builds one route trie per domain from the
// control-plane's (or a bootstrap file's) domain/route config, used
// by both EtcdSource and StaticSource so the two config paths can
// never drift apart on route-expansion semantics.
func buildDomainRoutes(domains []upstream.DomainConfig, onSkip func(domain, uri string, err error)) []DomainRoutes {
	out := make([]DomainRoutes, 0, len(domains))
	for _, d := range domains {
		builder := routing.NewBuilder()
		for _, rc := range d.Routes {
			if rc.Status != nil && *rc.Status == 0 {
				continue
			}
			cluster := rc.EffectiveCluster()
			if cluster == "" {
				if onSkip != nil {
					onSkip(d.Name, rc.URI, routeHasNoClusterErr)
				}
				continue
			}
			methods := rc.Methods
			if len(methods) == 0 {
				methods = allHTTPMethods
			}
			for _, m := range methods {
				route := &routing.Route{
					Method:      m,
					Pattern:     rc.URI,
					Cluster:     cluster,
					Priority:    rc.Priority,
					StripPrefix: rc.StripPrefix,
					AddPrefix:   rc.AddPrefix,
					Metadata:    rc.Metadata,
					RateLimit:   rc.RouteRateLimit(),
				}
				if err := builder.Insert(route); err != nil && onSkip != nil {
					onSkip(d.Name, rc.URI, err)
				}
			}
		}
		hosts := d.Hosts
		if len(hosts) == 0 {
			hosts = []string{"_"}
		}
		out = append(out, DomainRoutes{Name: d.Name, Hosts: hosts, Trie: builder.Build()})
	}
	return out
}
