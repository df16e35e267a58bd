package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jizhuozhi/hermes/gateway/internal/gwerrors"
	"github.com/jizhuozhi/hermes/gateway/internal/metrics"
	"github.com/jizhuozhi/hermes/gateway/internal/middleware"
	"github.com/jizhuozhi/hermes/gateway/internal/protocol"
	"github.com/jizhuozhi/hermes/gateway/internal/proxy"
	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
	"github.com/jizhuozhi/hermes/gateway/internal/upstream"
	"go.uber.org/zap"
)

// terminalHandler is the chain's terminal: it dispatches ctx.Request
// to ctx.Route's cluster over the protocol protocol.Classify picks
// (§4.6 "first match wins"). HTTP is proxied through the engine;
// WebSocket, gRPC, and SSE each need their own framing on top of the
// same instance pick, so they're handled here rather than folded into
// Engine.Dispatch.
type terminalHandler struct {
	snapshot middleware.SnapshotProvider
	engine   *proxy.Engine
	ws       *protocol.WebSocketProxy
	sseCfg   protocol.SSEConfig
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
}

func (h *terminalHandler) Handle(ctx *reqcontext.Context, w http.ResponseWriter) error {
	if ctx.Route == nil {
		return gwerrors.New(gwerrors.RouteNotFound, "no route matched")
	}

	snap := h.snapshot()
	cluster := snap.Cluster(ctx.Route.Cluster)
	if cluster == nil {
		return gwerrors.New(gwerrors.NoHealthyUpstream, fmt.Sprintf("unknown cluster %q", ctx.Route.Cluster))
	}
	if cluster.CB != nil && !cluster.CB.Allow() {
		return gwerrors.New(gwerrors.CircuitBreakerOpen, fmt.Sprintf("cluster %q circuit open", cluster.Name))
	}

	proto := protocol.Classify(ctx.Request)
	switch proto {
	case protocol.WebSocket:
		return h.handleWebSocket(ctx, w, cluster)
	case protocol.GRPC:
		return h.handleGRPC(ctx, w, cluster)
	case protocol.SSE:
		return h.handleSSE(ctx, w, cluster)
	default:
		return h.engine.Dispatch(ctx, w, cluster)
	}
}

// handleWebSocket upgrades the client connection and forwards frames
// to the picked instance, recording the outcome on the circuit
// breaker the same way Engine.Dispatch does for HTTP (§4.4 applies
// across every protocol, not just HTTP).
func (h *terminalHandler) handleWebSocket(ctx *reqcontext.Context, w http.ResponseWriter, cluster *upstream.Cluster) error {
	inst, err := cluster.Pick(ctx.ClientIP)
	if err != nil {
		return err
	}
	ctx.UpstreamInstanceID = inst.ID

	path := rewritePath(ctx)
	upstreamURL := fmt.Sprintf("ws://%s%s", inst.Address(), path)

	inst.IncConnections()
	defer inst.DecConnections()

	err = h.ws.Proxy(ctx.Request.Context(), w, ctx.Request, upstreamURL)
	if h.metrics != nil {
		status := 101
		if err != nil {
			status = 0
		}
		h.metrics.RecordRequest(cluster.Name, "websocket", status)
	}
	if cluster.CB != nil {
		if err != nil {
			cluster.CB.RecordFailure()
		} else {
			cluster.CB.RecordSuccess()
		}
	}
	if err != nil {
		return gwerrors.Wrap(gwerrors.UpstreamConnection, err, "websocket proxy failed")
	}
	return nil
}

// handleGRPC validates the request is a well-formed gRPC call, then
// proxies it through the same HTTP engine used for unary calls: gRPC
// over HTTP/2 is framed as a normal request/response body from the
// transport's point of view, the only difference is that failures
// must be reported via the grpc-status trailer instead of the HTTP
// status line (§4.6).
func (h *terminalHandler) handleGRPC(ctx *reqcontext.Context, w http.ResponseWriter, cluster *upstream.Cluster) error {
	if !protocol.ValidGRPCMethod(ctx.Request) {
		protocol.WriteError(w, gwerrors.New(gwerrors.InvalidRequest, "gRPC requires POST"))
		return nil
	}
	if _, _, ok := protocol.ParseGRPCPath(ctx.Request.URL.Path); !ok {
		protocol.WriteError(w, gwerrors.New(gwerrors.InvalidRequest, "malformed gRPC path"))
		return nil
	}

	if err := h.engine.Dispatch(ctx, w, cluster); err != nil {
		protocol.WriteError(w, err)
		return nil
	}
	protocol.WriteOK(w)
	return nil
}

// handleSSE picks an instance, streams its response body to the
// client as it arrives, and interleaves heartbeat comments so
// intermediaries don't treat an idle stream as dead (§4.6).
func (h *terminalHandler) handleSSE(ctx *reqcontext.Context, w http.ResponseWriter, cluster *upstream.Cluster) error {
	flusher, ok := w.(protocol.Flusher)
	if !ok {
		return gwerrors.New(gwerrors.Internal, "response writer does not support streaming")
	}

	inst, err := cluster.Pick(ctx.ClientIP)
	if err != nil {
		return err
	}
	ctx.UpstreamInstanceID = inst.ID

	path := rewritePath(ctx)
	url := fmt.Sprintf("http://%s%s", inst.Address(), path)
	upstreamReq, err := http.NewRequestWithContext(ctx.Request.Context(), ctx.Request.Method, url, nil)
	if err != nil {
		return gwerrors.Wrap(gwerrors.InvalidRequest, err, "build SSE upstream request")
	}
	upstreamReq.Header = ctx.Request.Header.Clone()

	transport := cluster.Transport(inst)
	client := &http.Client{Transport: transport}

	inst.IncConnections()
	defer inst.DecConnections()

	resp, err := client.Do(upstreamReq)
	if err != nil {
		if cluster.CB != nil {
			cluster.CB.RecordFailure()
		}
		return gwerrors.Wrap(gwerrors.UpstreamConnection, err, "SSE upstream request failed")
	}
	defer resp.Body.Close()

	protocol.PrepareHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeatCtx, cancel := context.WithCancel(ctx.Request.Context())
	defer cancel()
	go protocol.RunHeartbeat(heartbeatCtx, flusher, h.sseCfg)

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return gwerrors.Wrap(gwerrors.UpstreamConnection, err, "stream SSE response")
			}
			flusher.Flush()
		}
		if readErr != nil {
			break
		}
	}
	if cluster.CB != nil {
		cluster.CB.RecordSuccess()
	}
	return nil
}

func rewritePath(ctx *reqcontext.Context) string {
	path := ctx.Request.URL.Path
	if ctx.Route == nil {
		return path
	}
	if ctx.Route.StripPrefix != "" {
		if trimmed, ok := strings.CutPrefix(path, ctx.Route.StripPrefix); ok {
			path = trimmed
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
		}
	}
	if ctx.Route.AddPrefix != "" {
		path = ctx.Route.AddPrefix + path
	}
	return path
}
