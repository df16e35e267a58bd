package upstream

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// LBPolicy selects one instance from a healthy set (§4.4).
type LBPolicy string

const (
	RoundRobin         LBPolicy = "roundrobin"
	LeastConnections   LBPolicy = "least_conn"
	WeightedRoundRobin LBPolicy = "weighted_roundrobin"
	Random             LBPolicy = "random"
	ClientIPHash       LBPolicy = "client_ip_hash"
)

// balancer holds the mutable selection state for one cluster. Only
// round-robin and weighted-round-robin carry state across calls;
// that state is protected the same way the spec treats "instance
// health and counters" — atomics, no cluster-level lock, except for
// the smooth-WRR table which needs a short critical section because
// it mutates multiple counters together.
type balancer struct {
	rrCounter atomic.Uint64

	wrrMu    sync.Mutex
	wrrState map[string]int // current weight per instance id, smooth WRR
}

func newBalancer() *balancer {
	return &balancer{wrrState: make(map[string]int)}
}

// Select picks one instance from healthy according to policy. healthy
// must contain only instances with Healthy()==true; callers (Cluster.Pick)
// are responsible for filtering. clientAddr is used only by ClientIPHash.
func (b *balancer) Select(policy LBPolicy, healthy []*Instance, clientAddr string) *Instance {
	if len(healthy) == 0 {
		return nil
	}
	switch policy {
	case LeastConnections:
		return b.selectLeastConn(healthy)
	case WeightedRoundRobin:
		return b.selectWeightedRoundRobin(healthy)
	case Random:
		return healthy[rand.Intn(len(healthy))]
	case ClientIPHash:
		return b.selectClientIPHash(healthy, clientAddr)
	case RoundRobin:
		fallthrough
	default:
		return b.selectRoundRobin(healthy)
	}
}

func (b *balancer) selectRoundRobin(healthy []*Instance) *Instance {
	n := b.rrCounter.Add(1) - 1
	return healthy[int(n%uint64(len(healthy)))]
}

func (b *balancer) selectLeastConn(healthy []*Instance) *Instance {
	best := healthy[0]
	for _, inst := range healthy[1:] {
		bc, ic := best.ActiveConnections(), inst.ActiveConnections()
		if ic < bc || (ic == bc && inst.ID < best.ID) {
			best = inst
		}
	}
	return best
}

func (b *balancer) selectClientIPHash(healthy []*Instance, clientAddr string) *Instance {
	h := xxhash.Sum64String(clientAddr)
	return healthy[h%uint64(len(healthy))]
}

// selectWeightedRoundRobin implements smooth weighted round-robin:
// each instance accrues its weight every round, the instance with the
// highest current weight is chosen and then reduced by the sum of all
// weights. Weight 0 excludes an instance from selection.
func (b *balancer) selectWeightedRoundRobin(healthy []*Instance) *Instance {
	b.wrrMu.Lock()
	defer b.wrrMu.Unlock()

	total := 0
	var best *Instance
	bestWeight := 0
	for _, inst := range healthy {
		if inst.Weight <= 0 {
			continue
		}
		total += inst.Weight
		cur := b.wrrState[inst.ID] + inst.Weight
		b.wrrState[inst.ID] = cur
		if best == nil || cur > bestWeight {
			best = inst
			bestWeight = cur
		}
	}
	if best == nil {
		// All weights are zero; fall back to the first healthy
		// instance rather than returning nothing.
		return healthy[0]
	}
	b.wrrState[best.ID] = bestWeight - total
	return best
}
