// Package proxy implements the proxy engine (C7): building the
// upstream request, dispatching it through a pooled client, streaming
// the response back, and applying the cluster's timeout and retry
// policy.
package proxy

import (
	"crypto/tls"
	"net/http"

	"github.com/jizhuozhi/hermes/gateway/internal/upstream"
	"golang.org/x/net/http2"
)

// TransportMode selects the wire protocol the pooled transport speaks
// to an upstream instance.
type TransportMode int

const (
	// ModeAuto negotiates HTTP/1.1 over plaintext or ALPN h2/http1.1
	// over TLS depending on the instance's declared scheme.
	ModeAuto TransportMode = iota
	// ModeH2C registers HTTP/2 support on the transport through
	// ConfigureH2C.
	ModeH2C
)

// ConfigureH2C registers HTTP/2 on t in place via
// http2.ConfigureTransport. That enables h2 negotiated over TLS; it
// does not set up cleartext HTTP/2 (h2c), so plaintext upstream
// connections still speak HTTP/1.1.
func ConfigureH2C(t *http.Transport) error {
	return http2.ConfigureTransport(t)
}

// ConfigureALPN arranges for t to advertise "h2, http/1.1" in the TLS
// ClientHello so a TLS upstream can negotiate HTTP/2 when it supports
// it, falling back to HTTP/1.1 otherwise (§6 wire protocol).
func ConfigureALPN(t *http.Transport) {
	if t.TLSClientConfig == nil {
		t.TLSClientConfig = &tls.Config{}
	}
	t.TLSClientConfig.NextProtos = []string{"h2", "http/1.1"}
}

// NewTransport builds a pooled transport for cluster c's connection
// policy, configured for the requested mode.
func NewTransport(cfg upstream.PoolConfig, mode TransportMode) (*http.Transport, error) {
	t := upstream.NewPooledTransport(cfg)
	switch mode {
	case ModeH2C:
		if err := ConfigureH2C(t); err != nil {
			return nil, err
		}
	default:
		ConfigureALPN(t)
	}
	return t, nil
}
