package upstream

import (
	"fmt"
	"time"

	"github.com/jizhuozhi/hermes/gateway/internal/routing"
)

// GatewayConfig mirrors server/internal/model/gateway.go's shape: the
// domain/cluster definitions the control-plane's controller publishes
// to etcd (as JSON) and that the gateway also accepts from a static
// YAML bootstrap file when no etcd endpoints are configured. The tag
// names match the control-plane's JSON field names so the same shape
// decodes from either encoding.
type GatewayConfig struct {
	Domains  []DomainConfig  `json:"domains" yaml:"domains"`
	Clusters []ClusterConfig `json:"clusters" yaml:"clusters"`
}

type DomainConfig struct {
	Name   string        `json:"name" yaml:"name"`
	Hosts  []string      `json:"hosts" yaml:"hosts"`
	Routes []RouteConfig `json:"routes" yaml:"routes"`
}

type RouteConfig struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	URI         string            `json:"uri" yaml:"uri"`
	Methods     []string          `json:"methods" yaml:"methods"`
	Priority    int               `json:"priority" yaml:"priority"`
	// Status toggles the route on (1) or off (0). nil means "not set"
	// and is treated as enabled, so bootstrap files that omit it
	// entirely still get a working route.
	Status      *int                 `json:"status,omitempty" yaml:"status,omitempty"`
	ClusterName string               `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	Clusters    []RouteClusterConfig `json:"clusters,omitempty" yaml:"clusters,omitempty"`
	StripPrefix string               `json:"strip_prefix,omitempty" yaml:"strip_prefix,omitempty"`
	AddPrefix   string               `json:"add_prefix,omitempty" yaml:"add_prefix,omitempty"`
	Metadata    map[string]string    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	RateLimit   *RateLimitConfigJSON `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// RateLimitConfigJSON is the control-plane's per-route rate-limit wire
// shape: "req" mode carries Rate/Burst (token bucket), "count" mode
// carries Count/TimeWindow (fixed window).
type RateLimitConfigJSON struct {
	Mode         string  `json:"mode" yaml:"mode"`
	Rate         float64 `json:"rate,omitempty" yaml:"rate,omitempty"`
	Burst        int     `json:"burst,omitempty" yaml:"burst,omitempty"`
	Count        int64   `json:"count,omitempty" yaml:"count,omitempty"`
	TimeWindow   int     `json:"time_window,omitempty" yaml:"time_window,omitempty"`
	Key          string  `json:"key,omitempty" yaml:"key,omitempty"`
	HeaderName   string  `json:"header_name,omitempty" yaml:"header_name,omitempty"`
	RejectedCode int     `json:"rejected_code,omitempty" yaml:"rejected_code,omitempty"`
}

func (r RateLimitConfigJSON) toRouteRateLimitConfig() *routing.RateLimitConfig {
	return &routing.RateLimitConfig{
		Mode:         r.Mode,
		Rate:         r.Rate,
		Burst:        r.Burst,
		Count:        r.Count,
		Window:       r.TimeWindow,
		Key:          r.Key,
		HeaderName:   r.HeaderName,
		RejectedCode: r.RejectedCode,
	}
}

// RouteRateLimit converts rc's wire-format rate limit (if any) to the
// routing.Route shape, or nil if the route has none configured.
func (rc RouteConfig) RouteRateLimit() *routing.RateLimitConfig {
	if rc.RateLimit == nil {
		return nil
	}
	return rc.RateLimit.toRouteRateLimitConfig()
}

// RouteClusterConfig is one entry of a route's weighted cluster list,
// the control-plane's traffic-split shape. This core routes each
// request to a single cluster per request (traffic splitting across
// clusters is a policy layer above the request-processing core), so
// EffectiveCluster picks the highest-weight entry rather than
// splitting traffic across the list.
type RouteClusterConfig struct {
	Name   string `json:"name" yaml:"name"`
	Weight int    `json:"weight" yaml:"weight"`
}

// EffectiveCluster resolves the single cluster a route sends to: the
// explicit ClusterName if set, otherwise the highest-weight entry in
// Clusters (ties keep the first entry seen), or "" if neither is
// present.
func (rc RouteConfig) EffectiveCluster() string {
	if rc.ClusterName != "" {
		return rc.ClusterName
	}
	best := ""
	bestWeight := -1
	for _, c := range rc.Clusters {
		if c.Weight > bestWeight {
			best = c.Name
			bestWeight = c.Weight
		}
	}
	return best
}

type ClusterConfig struct {
	Name           string                    `json:"name" yaml:"name"`
	LBType         string                    `json:"type" yaml:"type"`
	Timeout        TimeoutConfigJSON         `json:"timeout" yaml:"timeout"`
	Nodes          []UpstreamNodeConfig      `json:"nodes" yaml:"nodes"`
	DiscoveryType  string                    `json:"discovery_type,omitempty" yaml:"discovery_type,omitempty"`
	ServiceName    string                    `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	HealthCheck    *HealthCheckConfigJSON    `json:"health_check,omitempty" yaml:"health_check,omitempty"`
	Retry          *RetryConfigJSON          `json:"retry,omitempty" yaml:"retry,omitempty"`
	CircuitBreaker *CircuitBreakerConfigJSON `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
}

// HealthCheckConfigJSON is the wire shape for active health checks;
// BuildClusters does not yet start a checker from it (callers invoke
// Cluster.RunHealthChecks explicitly with a HealthCheckConfig built
// from these fields), it is carried through so the shape round-trips.
type HealthCheckConfigJSON struct {
	IntervalSecs       int    `json:"interval" yaml:"interval"`
	Path               string `json:"path" yaml:"path"`
	HealthyThreshold   int    `json:"healthy_threshold" yaml:"healthy_threshold"`
	UnhealthyThreshold int    `json:"unhealthy_threshold" yaml:"unhealthy_threshold"`
	TimeoutSecs        int    `json:"timeout" yaml:"timeout"`
}

func (h HealthCheckConfigJSON) ToHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Interval:           secondsToDuration(float64(h.IntervalSecs)),
		Path:               h.Path,
		HealthyThreshold:   h.HealthyThreshold,
		UnhealthyThreshold: h.UnhealthyThreshold,
		Timeout:            secondsToDuration(float64(h.TimeoutSecs)),
	}
}

// CircuitBreakerConfigJSON is the wire shape for CircuitBreakerConfig
// (duration expressed in whole seconds, matching the control-plane's
// representation).
type CircuitBreakerConfigJSON struct {
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
	OpenDurationSecs int `json:"open_duration_secs" yaml:"open_duration_secs"`
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// TimeoutConfigJSON is the wire shape for TimeoutConfig (seconds as
// floats, matching the control-plane's TimeoutConfig).
type TimeoutConfigJSON struct {
	ConnectSecs float64 `json:"connect" yaml:"connect"`
	SendSecs    float64 `json:"send" yaml:"send"`
	ReadSecs    float64 `json:"read" yaml:"read"`
}

func (t TimeoutConfigJSON) toTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Connect: secondsToDuration(t.ConnectSecs),
		Send:    secondsToDuration(t.SendSecs),
		Read:    secondsToDuration(t.ReadSecs),
	}
}

type RetryConfigJSON struct {
	Count           int   `json:"count" yaml:"count"`
	RetryOnStatuses []int `json:"retry_on_statuses,omitempty" yaml:"retry_on_statuses,omitempty"`
}

func (r RetryConfigJSON) toRetryConfig() RetryConfig {
	statuses := DefaultRetryableStatuses
	if len(r.RetryOnStatuses) > 0 {
		statuses = make(map[int]bool, len(r.RetryOnStatuses))
		for _, s := range r.RetryOnStatuses {
			statuses[s] = true
		}
	}
	return RetryConfig{MaxRetries: r.Count, RetryableStatus: statuses}
}

type UpstreamNodeConfig struct {
	Host   string `json:"host" yaml:"host"`
	Port   int    `json:"port" yaml:"port"`
	Weight int    `json:"weight" yaml:"weight"`
}

var lbTypeToPolicy = map[string]LBPolicy{
	"":                    RoundRobin,
	"roundrobin":          RoundRobin,
	"round_robin":         RoundRobin,
	"least_conn":          LeastConnections,
	"weighted_roundrobin": WeightedRoundRobin,
	"random":              Random,
	"client_ip_hash":      ClientIPHash,
}

// BuildClusters constructs a Cluster for each entry in cfgs, wiring
// static node lists, retry/circuit-breaker/timeout config, and a
// connection pool per instance.
func BuildClusters(cfgs []ClusterConfig, poolCfg PoolConfig) (map[string]*Cluster, error) {
	out := make(map[string]*Cluster, len(cfgs))
	for _, cc := range cfgs {
		policy, ok := lbTypeToPolicy[cc.LBType]
		if !ok {
			return nil, fmt.Errorf("cluster %q: unknown lb type %q", cc.Name, cc.LBType)
		}

		instances := make([]*Instance, 0, len(cc.Nodes))
		for i, n := range cc.Nodes {
			weight := n.Weight
			if weight <= 0 {
				weight = 1
			}
			instances = append(instances, NewInstance(fmt.Sprintf("%s-%d", cc.Name, i), n.Host, n.Port, weight))
		}

		c := NewCluster(cc.Name, policy, instances, poolCfg)
		c.Timeout = cc.Timeout.toTimeoutConfig()
		if cc.Retry != nil {
			c.Retry = cc.Retry.toRetryConfig()
		}
		if cc.CircuitBreaker != nil {
			c.CB = NewCircuitBreaker(CircuitBreakerConfig{
				FailureThreshold: cc.CircuitBreaker.FailureThreshold,
				SuccessThreshold: cc.CircuitBreaker.SuccessThreshold,
				OpenTimeout:      secondsToDuration(float64(cc.CircuitBreaker.OpenDurationSecs)),
			})
		}
		out[cc.Name] = c
	}
	return out, nil
}
