// Package admin exposes the gateway's in-process operational surface:
// route/cluster introspection and a manual reload trigger, plus a
// thin HTTP renderer over them. It deliberately stops short of CRUD
// endpoints or a dashboard UI — those remain the control-plane's job
// (supplemented from original_source's octopus-admin crate, kept thin
// per its own module doc: "the line is drawn at CRUD and UI, not at a
// read-only health surface").
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/jizhuozhi/hermes/gateway/internal/config"
	"github.com/jizhuozhi/hermes/gateway/internal/routing"
)

// RouteInfo is the read-only shape ListRoutes returns for one route.
type RouteInfo struct {
	Domain      string            `json:"domain,omitempty"`
	Method      string            `json:"method"`
	Pattern     string            `json:"pattern"`
	Cluster     string            `json:"cluster"`
	Priority    int               `json:"priority"`
	StripPrefix string            `json:"strip_prefix,omitempty"`
	AddPrefix   string            `json:"add_prefix,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ClusterInfo is the read-only shape ListClusters returns for one
// cluster: aggregate counts only, detail lives in InstanceSnapshot.
type ClusterInfo struct {
	Name          string `json:"name"`
	Policy        string `json:"policy"`
	InstanceCount int    `json:"instance_count"`
	HealthyCount  int    `json:"healthy_count"`
	CircuitState  string `json:"circuit_state,omitempty"`
}

// InstanceInfo is one instance's current state within a cluster.
type InstanceInfo struct {
	ID                string `json:"id"`
	Address           string `json:"address"`
	Weight            int    `json:"weight"`
	Healthy           bool   `json:"healthy"`
	ActiveConnections int64  `json:"active_connections"`
}

// SnapshotSource is the subset of config.EtcdSource the admin surface
// needs: the current snapshot and a way to force a reload. Declared
// here (rather than depending on *config.EtcdSource directly) so a
// bootstrap-file-only gateway, which never talks to etcd, can satisfy
// it too.
type SnapshotSource interface {
	Snapshot() *config.Snapshot
	Start(ctx context.Context) error
}

// Admin implements the four in-process operations the core exposes;
// reachable both programmatically and through Handler's thin HTTP
// surface.
type Admin struct {
	source SnapshotSource
	ready  atomic.Bool
}

func New(source SnapshotSource) *Admin {
	return &Admin{source: source}
}

// SetReady flips the readiness flag the /ready endpoint reports. The
// gateway calls this once its listener is accepting connections.
func (a *Admin) SetReady(v bool) {
	a.ready.Store(v)
}

func (a *Admin) Ready() bool {
	return a.ready.Load()
}

// ListRoutes returns every route in the active snapshot, across every
// domain (or from the flat fallback Trie when no Domains are
// configured).
func (a *Admin) ListRoutes() []RouteInfo {
	snap := a.source.Snapshot()
	if snap == nil {
		return nil
	}

	appendTrie := func(out []RouteInfo, domain string, trie interface{ Routes() []*routing.Route }) []RouteInfo {
		for _, r := range trie.Routes() {
			out = append(out, RouteInfo{
				Domain:      domain,
				Method:      r.Method,
				Pattern:     r.Pattern,
				Cluster:     r.Cluster,
				Priority:    r.Priority,
				StripPrefix: r.StripPrefix,
				AddPrefix:   r.AddPrefix,
				Metadata:    r.Metadata,
			})
		}
		return out
	}

	var out []RouteInfo
	if len(snap.Domains) > 0 {
		for _, d := range snap.Domains {
			if d.Trie != nil {
				out = appendTrie(out, d.Name, d.Trie)
			}
		}
		return out
	}
	if snap.Trie != nil {
		out = appendTrie(out, "", snap.Trie)
	}
	return out
}

// DomainCount reports how many domains the active snapshot partitions
// its routes into, for /ready's summary ("domains": N).
func (a *Admin) DomainCount() int {
	snap := a.source.Snapshot()
	if snap == nil {
		return 0
	}
	if len(snap.Domains) > 0 {
		return len(snap.Domains)
	}
	if snap.Trie != nil {
		return 1
	}
	return 0
}

// ListClusters summarizes every cluster in the active snapshot.
func (a *Admin) ListClusters() []ClusterInfo {
	snap := a.source.Snapshot()
	if snap == nil {
		return nil
	}
	out := make([]ClusterInfo, 0, len(snap.Clusters))
	for name, c := range snap.Clusters {
		instances := c.Instances()
		healthy := 0
		for _, inst := range instances {
			if inst.Healthy() {
				healthy++
			}
		}
		info := ClusterInfo{
			Name:          name,
			Policy:        string(c.Policy),
			InstanceCount: len(instances),
			HealthyCount:  healthy,
		}
		if c.CB != nil {
			info.CircuitState = c.CB.State().String()
		}
		out = append(out, info)
	}
	return out
}

// InstanceSnapshot returns the current instance state for one cluster,
// or (nil, false) if the cluster is unknown.
func (a *Admin) InstanceSnapshot(clusterName string) ([]InstanceInfo, bool) {
	snap := a.source.Snapshot()
	if snap == nil {
		return nil, false
	}
	c := snap.Cluster(clusterName)
	if c == nil {
		return nil, false
	}
	instances := c.Instances()
	out := make([]InstanceInfo, 0, len(instances))
	for _, inst := range instances {
		out = append(out, InstanceInfo{
			ID:                inst.ID,
			Address:           inst.Address(),
			Weight:            inst.Weight,
			Healthy:           inst.Healthy(),
			ActiveConnections: inst.ActiveConnections(),
		})
	}
	return out, true
}

// Reload forces an immediate re-fetch of the config source, the same
// path a watch event takes, for operators who don't want to wait for
// etcd's next event (or are running from a static bootstrap file with
// no watch at all).
func (a *Admin) Reload(ctx context.Context) error {
	return a.source.Start(ctx)
}

// writeJSON is a tiny helper shared by the HTTP handlers below so
// every response is written the same way.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
