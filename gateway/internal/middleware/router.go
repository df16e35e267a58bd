package middleware

import (
	"net/http"

	"github.com/jizhuozhi/hermes/gateway/internal/config"
	"github.com/jizhuozhi/hermes/gateway/internal/gwerrors"
	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
)

// SnapshotProvider returns the currently active config snapshot. A
// function rather than a stored pointer so Router always sees the
// latest snapshot after a reload swaps it in.
type SnapshotProvider func() *config.Snapshot

// Router runs right after RequestID and RequestLog: it matches the request
// against the active route trie and populates ctx.Route/Params before
// anything downstream (auth, rate limiting, the terminal proxy) runs,
// since those all need to know which route matched.
type Router struct {
	snapshot SnapshotProvider
}

func NewRouter(snapshot SnapshotProvider) *Router {
	return &Router{snapshot: snapshot}
}

func (m *Router) Call(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error {
	snap := m.snapshot()
	if snap == nil {
		return gwerrors.New(gwerrors.RouteNotFound, "no routes configured")
	}
	host := ""
	if ctx.Request != nil {
		host = ctx.Request.Host
	}
	trie := snap.RouteTrieFor(host)
	if trie == nil {
		return gwerrors.New(gwerrors.RouteNotFound, "no routes configured")
	}
	match, ok := trie.Match(ctx.Method, ctx.Path)
	if !ok {
		return gwerrors.New(gwerrors.RouteNotFound, "no route matches "+ctx.Method+" "+ctx.Path)
	}
	ctx.SetMatch(match)
	return next.Run(ctx, w)
}
