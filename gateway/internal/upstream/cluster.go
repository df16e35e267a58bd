package upstream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jizhuozhi/hermes/gateway/internal/gwerrors"
	"go.uber.org/zap"
)

// TimeoutConfig bounds the three phases of an upstream call.
type TimeoutConfig struct {
	Connect time.Duration
	Send    time.Duration
	Read    time.Duration
}

// RetryConfig is the bounded exponential backoff policy (§4.4).
type RetryConfig struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	RetryableStatus map[int]bool
}

// WithDefaults returns a copy of r with zero-valued fields filled in.
// Exported so callers outside the package (the proxy engine) can read
// the effective retryable-status set without duplicating the defaults.
func (r RetryConfig) WithDefaults() RetryConfig {
	return r.withDefaults()
}

func (r RetryConfig) withDefaults() RetryConfig {
	if r.BaseDelay <= 0 {
		r.BaseDelay = 50 * time.Millisecond
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 2 * time.Second
	}
	if r.RetryableStatus == nil {
		r.RetryableStatus = DefaultRetryableStatuses
	}
	return r
}

// BackoffDelay returns the delay before the given attempt (1-based):
// min(base * 2^(attempt-1), max).
func (r RetryConfig) BackoffDelay(attempt int) time.Duration {
	r = r.withDefaults()
	d := r.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if d > r.MaxDelay {
		d = r.MaxDelay
	}
	return d
}

// Cluster is a named set of UpstreamInstances plus load-balancing,
// health, circuit-breaking, and timeout configuration (§3).
type Cluster struct {
	Name    string
	Policy  LBPolicy
	Timeout TimeoutConfig
	Retry   RetryConfig
	CB      *CircuitBreaker

	// instances is swapped atomically on reconfiguration (§5
	// "Instance health and counters: mutated via atomic operations").
	mu        sync.RWMutex
	instances []*Instance

	bal *balancer

	Pools map[string]*http.Transport // keyed by instance id
}

// NewCluster constructs a cluster with the given static instances.
func NewCluster(name string, policy LBPolicy, instances []*Instance, poolCfg PoolConfig) *Cluster {
	c := &Cluster{
		Name:      name,
		Policy:    policy,
		instances: instances,
		bal:       newBalancer(),
		Pools:     make(map[string]*http.Transport, len(instances)),
	}
	for _, inst := range instances {
		c.Pools[inst.ID] = NewPooledTransport(poolCfg)
	}
	return c
}

// SetInstances atomically replaces the instance set (used on
// discovery/reload updates). Readers never observe a partial set.
func (c *Cluster) SetInstances(instances []*Instance, poolCfg PoolConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pools := make(map[string]*http.Transport, len(instances))
	for _, inst := range instances {
		if t, ok := c.Pools[inst.ID]; ok {
			pools[inst.ID] = t
		} else {
			pools[inst.ID] = NewPooledTransport(poolCfg)
		}
	}
	c.instances = instances
	c.Pools = pools
}

func (c *Cluster) Instances() []*Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Instance, len(c.instances))
	copy(out, c.instances)
	return out
}

func (c *Cluster) healthyInstances() []*Instance {
	all := c.Instances()
	healthy := make([]*Instance, 0, len(all))
	for _, inst := range all {
		if inst.Healthy() {
			healthy = append(healthy, inst)
		}
	}
	return healthy
}

// Pick selects one healthy instance per the cluster's load-balancing
// policy, or returns gwerrors.NoHealthyUpstream / CircuitBreakerOpen
// (§8 property 3: the returned instance has Healthy()==true, or the
// result is NoHealthyUpstream).
func (c *Cluster) Pick(clientAddr string) (*Instance, error) {
	if c.CB != nil && !c.CB.Allow() {
		return nil, gwerrors.New(gwerrors.CircuitBreakerOpen,
			fmt.Sprintf("circuit breaker open for cluster %s", c.Name))
	}
	healthy := c.healthyInstances()
	if len(healthy) == 0 {
		return nil, gwerrors.New(gwerrors.NoHealthyUpstream,
			fmt.Sprintf("no healthy upstream in cluster %s", c.Name))
	}
	inst := c.bal.Select(c.Policy, healthy, clientAddr)
	return inst, nil
}

// Transport returns the pooled transport for inst.
func (c *Cluster) Transport(inst *Instance) *http.Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Pools[inst.ID]
}

// RunHealthChecks starts the active prober for this cluster and
// blocks until ctx is cancelled; callers invoke it on its own
// goroutine.
func (c *Cluster) RunHealthChecks(ctx context.Context, cfg HealthCheckConfig, logger *zap.SugaredLogger) {
	hc := NewHealthChecker(cfg, logger)
	hc.Run(ctx, c.Instances)
}
