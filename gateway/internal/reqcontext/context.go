// Package reqcontext defines the per-request scratchpad threaded
// through the middleware chain and proxy engine (C2).
package reqcontext

import (
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/jizhuozhi/hermes/gateway/internal/routing"
)

// RequestIDHeader is the header checked for an inbound request id
// before one is generated.
const RequestIDHeader = "X-Request-Id"

// AuthPrincipal is the authenticated identity attached to a
// RequestContext (§3). Immutable once established by an
// authenticating middleware; downstream middleware reads it but must
// not mutate it (§9 "Principal propagation").
type AuthPrincipal struct {
	Subject  string
	Provider string
	Scopes   []string
	Claims   map[string]any
}

// HasScope reports whether the principal carries scope.
func (p *AuthPrincipal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Context is created once per accepted request and threaded through
// every middleware invocation. Its lifetime equals the request's; it
// is never shared across requests, so the metadata map needs no
// synchronization of its own (§5 "Metadata map inside RequestContext").
type Context struct {
	RequestID string
	Method    string
	Path      string
	ClientIP  string

	// Route is populated once the trie match succeeds.
	Route *routing.Route
	// Params carries the captured path parameters (or nil pre-match).
	Params map[string]string
	// Wildcard carries the captured remainder, if the matched route
	// ends in a wildcard segment.
	Wildcard string

	// UpstreamInstanceID names the instance id selected for this
	// request, set by the proxy engine (or the terminal's WebSocket and
	// SSE handlers) once an instance is picked.
	UpstreamInstanceID string

	// Principal is nil until an authenticating middleware sets it.
	Principal *AuthPrincipal

	// Metadata is the append-only, middleware-to-middleware scratch
	// space. Write-many/read-many, never concurrent (§3).
	Metadata map[string]any

	Request *http.Request
}

// New allocates a RequestContext for an inbound request, resolving
// the request id from RequestIDHeader if present, else generating a
// UUIDv4 (§4.2).
func New(r *http.Request) *Context {
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	return &Context{
		RequestID: id,
		Method:    r.Method,
		Path:      r.URL.Path,
		ClientIP:  clientIP(r),
		Metadata:  make(map[string]any),
		Request:   r,
	}
}

// SetMatch populates the route-match fields. Called once, by the
// router stage of the chain.
func (c *Context) SetMatch(m *routing.Match) {
	c.Route = m.Route
	c.Params = m.Params
	c.Wildcard = m.Wildcard
}

// Param returns the named path parameter, or "" if absent.
func (c *Context) Param(name string) string {
	if c.Params == nil {
		return ""
	}
	return c.Params[name]
}

// Set stores a value in the metadata map.
func (c *Context) Set(key string, value any) {
	c.Metadata[key] = value
}

// Get reads a value from the metadata map.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.Metadata[key]
	return v, ok
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
