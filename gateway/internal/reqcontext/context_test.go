package reqcontext

import (
	"net/http/httptest"
	"testing"

	"github.com/jizhuozhi/hermes/gateway/internal/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratesRequestIDWhenAbsent(t *testing.T) {
	r := httptest.NewRequest("GET", "/users/42", nil)
	r.RemoteAddr = "10.0.0.5:54321"

	ctx := New(r)
	assert.NotEmpty(t, ctx.RequestID)
	assert.Equal(t, "10.0.0.5", ctx.ClientIP)
}

func TestNewPreservesInboundRequestID(t *testing.T) {
	r := httptest.NewRequest("GET", "/users/42", nil)
	r.Header.Set(RequestIDHeader, "abc-123")

	ctx := New(r)
	assert.Equal(t, "abc-123", ctx.RequestID)
}

func TestSetMatchPopulatesParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/users/42", nil)
	ctx := New(r)

	route := &routing.Route{Method: "GET", Pattern: "/users/:id", Cluster: "user-svc"}
	ctx.SetMatch(&routing.Match{Route: route, Params: map[string]string{"id": "42"}})

	require.Equal(t, "42", ctx.Param("id"))
	assert.Equal(t, route, ctx.Route)
}

func TestMetadataGetSet(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	ctx := New(r)

	_, ok := ctx.Get("missing")
	assert.False(t, ok)

	ctx.Set("k", "v")
	v, ok := ctx.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestPrincipalHasScope(t *testing.T) {
	var nilPrincipal *AuthPrincipal
	assert.False(t, nilPrincipal.HasScope("read"))

	p := &AuthPrincipal{Scopes: []string{"read", "write"}}
	assert.True(t, p.HasScope("read"))
	assert.False(t, p.HasScope("admin"))
}
