// Package middleware implements the statically ordered middleware
// chain (C5): an index-threaded continuation over a shared-immutable
// handler stack, plus the built-in middlewares named in §4.5.
package middleware

import (
	"net/http"

	"github.com/jizhuozhi/hermes/gateway/internal/gwerrors"
	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
)

// Handler is the terminal of a chain — normally the proxy engine.
type Handler func(ctx *reqcontext.Context, w http.ResponseWriter) error

// Middleware processes a request, optionally invoking next to
// continue the chain (§4.5 contract: mutate-then-call, call-then-
// mutate, short-circuit, or error).
type Middleware interface {
	Call(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error
}

// MiddlewareFunc adapts a plain function to Middleware.
type MiddlewareFunc func(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error

func (f MiddlewareFunc) Call(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error {
	return f(ctx, w, next)
}

// Next holds a reference to the shared, immutable middleware stack and
// an index into it. Running it invokes stack[index], or the terminal
// handler once the index exhausts the stack (§3, §4.5, §9 "Ownership
// of the middleware stack").
type Next struct {
	stack    []Middleware
	index    int
	terminal Handler
}

// Run invokes the next middleware in the chain, or the terminal
// handler, or returns an Internal error if the chain is exhausted
// without one — mirroring the reference implementation's Next::run.
func (n *Next) Run(ctx *reqcontext.Context, w http.ResponseWriter) error {
	if n.index < len(n.stack) {
		m := n.stack[n.index]
		return m.Call(ctx, w, &Next{stack: n.stack, index: n.index + 1, terminal: n.terminal})
	}
	if n.terminal != nil {
		return n.terminal(ctx, w)
	}
	return gwerrors.New(gwerrors.Internal, "middleware chain completed without handler")
}

// Chain is the shared-immutable sequence of middlewares plus terminal
// handler (§3 "Middleware chain"). Build once at configuration time;
// every request gets its own Next (index state) over the same Chain.
type Chain struct {
	stack    []Middleware
	terminal Handler
}

// NewChain builds a Chain. The stack is copied so later mutation of
// the caller's slice cannot affect an in-flight request.
func NewChain(terminal Handler, mws ...Middleware) *Chain {
	stack := make([]Middleware, len(mws))
	copy(stack, mws)
	return &Chain{stack: stack, terminal: terminal}
}

// Start returns a fresh Next at index 0 for one request.
func (c *Chain) Start() *Next {
	return &Next{stack: c.stack, terminal: c.terminal}
}

// Run executes the full chain for one request.
func (c *Chain) Run(ctx *reqcontext.Context, w http.ResponseWriter) error {
	return c.Start().Run(ctx, w)
}
