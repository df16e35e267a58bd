// Package config loads the gateway's own process configuration and
// builds the routing/cluster snapshot it serves from, watching etcd
// for the domain/cluster definitions the control-plane's controller
// publishes there.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the gateway process's own bootstrap configuration: where
// to listen, where to find etcd, and the instance-registry lease it
// registers itself under. It is distinct from the GatewayConfig the
// control-plane publishes (domains/clusters), which is fetched from
// etcd at runtime, not from this file.
type Config struct {
	Listen      string `toml:"listen"`
	AdminListen string `toml:"admin_listen"`

	Etcd             EtcdConfig             `toml:"etcd"`
	Consul           ConsulConfig           `toml:"consul"`
	InstanceRegistry InstanceRegistryConfig `toml:"instance_registry"`
	Middleware       MiddlewareConfig       `toml:"middleware"`
	PoolConfig       PoolConfig             `toml:"pool"`

	// Bootstrap, if set, names a YAML file of static domains/clusters
	// used when no etcd endpoints are configured (local development).
	Bootstrap string `toml:"bootstrap"`

	LogLevel string `toml:"log_level"`
}

// MiddlewareConfig toggles and tunes the built-in middleware chain
// (§4.5). CORS, JWT auth and compression are added to the chain only
// when their section is present, and the timeout only when
// timeout_secs is positive. The rate limiter is always in the chain;
// its section, when present, sets the default limit for routes that
// carry no rate_limit of their own.
type MiddlewareConfig struct {
	CORS        *CORSToggle        `toml:"cors"`
	Compression *CompressionToggle `toml:"compression"`
	RateLimit   *RateLimitToggle   `toml:"rate_limit"`
	JWTAuth     *JWTAuthToggle     `toml:"jwt_auth"`
	TimeoutSecs int                `toml:"timeout_secs"`
}

type CORSToggle struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

type CompressionToggle struct {
	Enabled bool `toml:"enabled"`
	MinSize int  `toml:"min_size"`
}

type RateLimitToggle struct {
	Limit      int64  `toml:"limit"`
	WindowSecs int    `toml:"window_secs"`
	KeySource  string `toml:"key_source"`
	HeaderName string `toml:"header_name"`
}

type JWTAuthToggle struct {
	Secret        string `toml:"secret"`
	RequiredScope string `toml:"required_scope"`
}

// PoolConfig mirrors upstream.PoolConfig's TOML shape; kept separate
// from upstream.PoolConfig itself so the config package doesn't need
// to import upstream just for struct tags.
type PoolConfig struct {
	MaxIdle            int `toml:"max_idle"`
	MaxInUse           int `toml:"max_in_use"`
	IdleTimeoutSecs    int `toml:"idle_timeout_secs"`
	ConnectTimeoutSecs int `toml:"connect_timeout_secs"`
}

type EtcdConfig struct {
	Endpoints     []string `toml:"endpoints"`
	DomainPrefix  string   `toml:"domain_prefix"`
	ClusterPrefix string   `toml:"cluster_prefix"`
	Username      string   `toml:"username"`
	Password      string   `toml:"password"`
}

type ConsulConfig struct {
	Address          string `toml:"address"`
	Datacenter       string `toml:"datacenter"`
	Token            string `toml:"token"`
	PollIntervalSecs int    `toml:"poll_interval_secs"`
}

type InstanceRegistryConfig struct {
	Enabled      bool   `toml:"enabled"`
	Prefix       string `toml:"prefix"`
	LeaseTTLSecs int    `toml:"lease_ttl_secs"`
}

// Load reads the TOML config at path and applies HERMES_-prefixed
// environment variable overrides, matching the convention
// server/internal/config/config.go establishes for the control-plane.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Listen:      "0.0.0.0:8080",
		AdminListen: "0.0.0.0:8081",
		Etcd: EtcdConfig{
			DomainPrefix:  "/hermes/domains/",
			ClusterPrefix: "/hermes/clusters/",
		},
		InstanceRegistry: InstanceRegistryConfig{
			Prefix:       "/hermes/instances/",
			LeaseTTLSecs: 15,
		},
		LogLevel: "info",
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HERMES_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("HERMES_ADMIN_LISTEN"); v != "" {
		cfg.AdminListen = v
	}
	if v := os.Getenv("HERMES_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
