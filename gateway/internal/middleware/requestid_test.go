package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDEchoesGeneratedID(t *testing.T) {
	terminal := Handler(func(ctx *reqcontext.Context, w http.ResponseWriter) error {
		w.WriteHeader(http.StatusOK)
		return nil
	})
	chain := NewChain(terminal, NewRequestID(RequestIDConfig{AddToResponse: true}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := reqcontext.New(r)
	w := httptest.NewRecorder()

	require.NoError(t, chain.Run(ctx, w))
	assert.Equal(t, ctx.RequestID, w.Header().Get(reqcontext.RequestIDHeader))
	assert.NotEmpty(t, w.Header().Get(reqcontext.RequestIDHeader))
}

func TestRequestIDPreservesInboundValue(t *testing.T) {
	terminal := Handler(func(ctx *reqcontext.Context, w http.ResponseWriter) error { return nil })
	chain := NewChain(terminal, NewRequestID(RequestIDConfig{AddToResponse: true}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(reqcontext.RequestIDHeader, "existing-id-12345")
	ctx := reqcontext.New(r)
	w := httptest.NewRecorder()

	require.NoError(t, chain.Run(ctx, w))
	assert.Equal(t, "existing-id-12345", w.Header().Get(reqcontext.RequestIDHeader))
}
