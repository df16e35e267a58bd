package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jizhuozhi/hermes/gateway/internal/gwerrors"
	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingMiddleware(name string, calls *[]string) Middleware {
	return MiddlewareFunc(func(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error {
		*calls = append(*calls, name)
		return next.Run(ctx, w)
	})
}

func newTestContext() *reqcontext.Context {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	return reqcontext.New(r)
}

func TestChainInvokesEachMiddlewareExactlyOnce(t *testing.T) {
	var calls []string
	terminal := Handler(func(ctx *reqcontext.Context, w http.ResponseWriter) error {
		calls = append(calls, "terminal")
		w.WriteHeader(http.StatusOK)
		return nil
	})

	chain := NewChain(terminal,
		recordingMiddleware("a", &calls),
		recordingMiddleware("b", &calls),
		recordingMiddleware("c", &calls),
	)

	w := httptest.NewRecorder()
	err := chain.Run(newTestContext(), w)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "terminal"}, calls)
}

func TestChainShortCircuitStopsRemainingMiddleware(t *testing.T) {
	var calls []string
	shortCircuit := MiddlewareFunc(func(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error {
		calls = append(calls, "short")
		w.WriteHeader(http.StatusForbidden)
		return nil
	})
	terminal := Handler(func(ctx *reqcontext.Context, w http.ResponseWriter) error {
		calls = append(calls, "terminal")
		return nil
	})

	chain := NewChain(terminal,
		recordingMiddleware("a", &calls),
		shortCircuit,
		recordingMiddleware("never", &calls),
	)

	w := httptest.NewRecorder()
	err := chain.Run(newTestContext(), w)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "short"}, calls)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestChainWithoutTerminalErrorsAtExhaustion(t *testing.T) {
	chain := NewChain(nil, recordingMiddleware("a", &[]string{}))

	w := httptest.NewRecorder()
	err := chain.Run(newTestContext(), w)
	require.Error(t, err)
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.Internal, ge.Kind)
}

func TestChainPropagatesMiddlewareError(t *testing.T) {
	failing := MiddlewareFunc(func(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error {
		return gwerrors.New(gwerrors.RateLimitExceeded, "too many requests")
	})
	terminal := Handler(func(ctx *reqcontext.Context, w http.ResponseWriter) error { return nil })

	chain := NewChain(terminal, failing)

	err := chain.Run(newTestContext(), httptest.NewRecorder())
	require.Error(t, err)
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.RateLimitExceeded, ge.Kind)
}
