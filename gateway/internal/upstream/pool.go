package upstream

import (
	"net"
	"net/http"
	"time"
)

// PoolConfig configures the per-instance connection pool.
type PoolConfig struct {
	MaxIdle        int
	MaxInUse       int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxIdle <= 0 {
		c.MaxIdle = 32
	}
	if c.MaxInUse <= 0 {
		c.MaxInUse = 256
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 90 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	return c
}

// NewPooledTransport builds the *http.Transport that acts as the
// gateway's connection pool for one upstream instance (§4.4, §9
// "Upstream connection ownership"). Go's http.Transport already is a
// scoped, wait-free-on-the-common-path connection pool, so the
// gateway configures rather than reimplements one: a borrower that
// observes protocol desynchronization simply doesn't return the
// underlying net.Conn to the pool, which is exactly how
// http.Transport treats a connection whose response body was never
// fully drained on a hijacked/closed stream.
func NewPooledTransport(cfg PoolConfig) *http.Transport {
	cfg = cfg.withDefaults()
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConnsPerHost:   cfg.MaxIdle,
		MaxConnsPerHost:       cfg.MaxInUse,
		IdleConnTimeout:       cfg.IdleTimeout,
		ResponseHeaderTimeout: 0, // timeouts are enforced by the proxy engine via context
		ForceAttemptHTTP2:     true,
	}
}
