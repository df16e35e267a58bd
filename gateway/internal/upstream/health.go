package upstream

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthCheckConfig configures the active out-of-band prober (§4.4).
type HealthCheckConfig struct {
	Interval           time.Duration
	Timeout            time.Duration
	Path               string
	HealthyStatuses    map[int]bool
	HealthyThreshold   int
	UnhealthyThreshold int
}

func (c HealthCheckConfig) withDefaults() HealthCheckConfig {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.HealthyThreshold <= 0 {
		c.HealthyThreshold = 2
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = 3
	}
	if c.HealthyStatuses == nil {
		c.HealthyStatuses = map[int]bool{200: true}
	}
	return c
}

// HealthChecker runs the active probe for one cluster's instances.
// Probes never block request handling: each probe is a bounded HTTP
// call on its own goroutine-scheduled tick (§5 "CPU-bound work...
// network touching operation is a suspension point").
type HealthChecker struct {
	cfg    HealthCheckConfig
	client *http.Client
	logger *zap.SugaredLogger

	// counts is touched only by Run's single goroutine, so it needs
	// no synchronization of its own.
	counts map[string]*probeCounts
}

type probeCounts struct {
	consecutiveFailures  int
	consecutiveSuccesses int
}

func NewHealthChecker(cfg HealthCheckConfig, logger *zap.SugaredLogger) *HealthChecker {
	cfg = cfg.withDefaults()
	return &HealthChecker{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		counts: make(map[string]*probeCounts),
	}
}

// Run probes every instance in the cluster on cfg.Interval until ctx
// is cancelled. It mutates only each instance's atomic Healthy flag
// and its private consecutive counters — no cluster-level lock.
func (h *HealthChecker) Run(ctx context.Context, instances func() []*Instance) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, inst := range instances() {
				h.probe(ctx, inst)
			}
		}
	}
}

func (h *HealthChecker) probe(ctx context.Context, inst *Instance) {
	probeCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	url := "http://" + inst.Address() + h.cfg.Path
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	ok := false
	if err == nil {
		resp, doErr := h.client.Do(req)
		if doErr == nil {
			ok = h.cfg.HealthyStatuses[resp.StatusCode]
			resp.Body.Close()
		}
	}

	c, exists := h.counts[inst.ID]
	if !exists {
		c = &probeCounts{}
		h.counts[inst.ID] = c
	}

	if ok {
		c.consecutiveSuccesses++
		c.consecutiveFailures = 0
		if !inst.Healthy() && c.consecutiveSuccesses >= h.cfg.HealthyThreshold {
			inst.SetHealthy(true)
			if h.logger != nil {
				h.logger.Infof("upstream instance %s recovered", inst.ID)
			}
		}
	} else {
		c.consecutiveFailures++
		c.consecutiveSuccesses = 0
		if inst.Healthy() && c.consecutiveFailures >= h.cfg.UnhealthyThreshold {
			inst.SetHealthy(false)
			if h.logger != nil {
				h.logger.Warnf("upstream instance %s marked unhealthy", inst.ID)
			}
		}
	}
}
