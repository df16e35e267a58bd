package middleware

import (
	"net/http"

	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
)

// RequestIDConfig configures the request-id middleware.
type RequestIDConfig struct {
	HeaderName    string
	AddToResponse bool
}

func (c RequestIDConfig) withDefaults() RequestIDConfig {
	if c.HeaderName == "" {
		c.HeaderName = reqcontext.RequestIDHeader
	}
	return c
}

// RequestID ensures the request bears a stable id, preserving an
// inbound value and echoing it on the response (§4.5 "Request-id").
// The id itself is already resolved onto ctx by reqcontext.New; this
// middleware's job is purely the response echo and header placement.
type RequestID struct {
	cfg RequestIDConfig
}

func NewRequestID(cfg RequestIDConfig) *RequestID {
	return &RequestID{cfg: cfg.withDefaults()}
}

func (m *RequestID) Call(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error {
	if m.cfg.AddToResponse {
		w.Header().Set(m.cfg.HeaderName, ctx.RequestID)
	}
	return next.Run(ctx, w)
}
