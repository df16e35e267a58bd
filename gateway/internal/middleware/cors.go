package middleware

import (
	"net/http"
	"strings"

	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
)

// CORSConfig configures allowed origins for preflight and simple
// requests (§4.5 "CORS").
type CORSConfig struct {
	AllowedOrigins []string // "*" allows any origin
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         string
}

func (c CORSConfig) withDefaults() CORSConfig {
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = []string{"Origin", "Content-Type", "Authorization"}
	}
	if c.MaxAge == "" {
		c.MaxAge = "43200"
	}
	return c
}

// CORS answers preflight OPTIONS in-chain and adds Access-Control-*
// headers to non-preflight responses for an allowed origin (§4.5).
type CORS struct {
	cfg CORSConfig
}

func NewCORS(cfg CORSConfig) *CORS {
	return &CORS{cfg: cfg.withDefaults()}
}

func (m *CORS) allowOrigin(origin string) string {
	for _, o := range m.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return o
		}
	}
	return ""
}

func (m *CORS) Call(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error {
	origin := ctx.Request.Header.Get("Origin")
	allowed := m.allowOrigin(origin)
	if allowed != "" {
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(m.cfg.AllowedMethods, ", "))
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(m.cfg.AllowedHeaders, ", "))
		w.Header().Set("Access-Control-Max-Age", m.cfg.MaxAge)
	}

	if ctx.Request.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	return next.Run(ctx, w)
}
