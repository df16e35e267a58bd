// Package upstream implements per-cluster instance sets: load
// balancing, health tracking, circuit breaking, and connection
// pooling (C4).
package upstream

import (
	"strconv"
	"sync/atomic"
)

// Instance is one network endpoint in a cluster. The cluster owns its
// instances; mutation of Healthy/ActiveConnections requires only
// atomic updates, never a cluster-level lock (§3, §5).
type Instance struct {
	ID     string
	Host   string
	Port   int
	Weight int

	healthy     atomic.Bool
	activeConns atomic.Int64
}

// NewInstance creates an instance, healthy by default.
func NewInstance(id, host string, port, weight int) *Instance {
	inst := &Instance{ID: id, Host: host, Port: port, Weight: weight}
	inst.healthy.Store(true)
	return inst
}

func (i *Instance) Healthy() bool           { return i.healthy.Load() }
func (i *Instance) SetHealthy(v bool)       { i.healthy.Store(v) }
func (i *Instance) ActiveConnections() int64 { return i.activeConns.Load() }
func (i *Instance) IncConnections()         { i.activeConns.Add(1) }
func (i *Instance) DecConnections()         { i.activeConns.Add(-1) }

func (i *Instance) Address() string {
	return i.Host + ":" + strconv.Itoa(i.Port)
}
