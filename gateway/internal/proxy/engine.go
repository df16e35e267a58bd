package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jizhuozhi/hermes/gateway/internal/gwerrors"
	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
	"github.com/jizhuozhi/hermes/gateway/internal/upstream"
	"go.uber.org/zap"
)

// metricsRecorder is the subset of *metrics.Metrics the engine needs.
// Declared locally (rather than importing the metrics package
// directly) so the proxy package has no compile-time dependency on
// Prometheus when metrics are disabled; a nil recorder is also valid
// and simply records nothing.
type metricsRecorder interface {
	RecordRequest(cluster, protocol string, statusCode int)
	ObserveUpstreamLatency(cluster string, d time.Duration)
}

// idempotentKey is the reqcontext.Metadata key an upstream-marking
// middleware sets to opt a non-safe-retryable request into retries
// (§4.4 "Idempotence").
const idempotentKey = "proxy.idempotent"

// MarkIdempotent records that ctx's request may be safely retried
// even though its method is not inherently safe-retryable.
func MarkIdempotent(ctx *reqcontext.Context) {
	ctx.Set(idempotentKey, true)
}

func isIdempotent(ctx *reqcontext.Context, method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	if v, ok := ctx.Get(idempotentKey); ok {
		if b, ok := v.(bool); ok && b {
			return true
		}
	}
	return false
}

// Engine dispatches a request to a cluster: picks an instance, builds
// the upstream request, sends it through the pooled transport, and
// retries per the cluster's bounded backoff policy (§4.4, §4.7
// control flow).
type Engine struct {
	logger  *zap.SugaredLogger
	metrics metricsRecorder
}

func NewEngine(logger *zap.SugaredLogger) *Engine {
	return &Engine{logger: logger}
}

// WithMetrics attaches a metrics recorder; returns e for chaining.
func (e *Engine) WithMetrics(m metricsRecorder) *Engine {
	e.metrics = m
	return e
}

// Dispatch proxies ctx.Request to cluster c and writes the upstream
// response to w. It records every attempt's outcome against the
// circuit breaker: a failure after each failed attempt, a success once
// an attempt succeeds.
func (e *Engine) Dispatch(ctx *reqcontext.Context, w http.ResponseWriter, c *upstream.Cluster) error {
	r := ctx.Request

	var bodyBytes []byte
	if r.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(r.Body)
		if err != nil {
			return gwerrors.Wrap(gwerrors.InvalidRequest, err, "read request body")
		}
	}

	maxAttempts := 1
	retry := c.Retry
	if isIdempotent(ctx, r.Method) {
		maxAttempts = retry.MaxRetries + 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(retry.BackoffDelay(attempt - 1))
		}

		inst, err := c.Pick(ctx.ClientIP)
		if err != nil {
			return err
		}
		ctx.UpstreamInstanceID = inst.ID

		status, err := e.attempt(ctx, w, c, inst, bodyBytes)
		if err == nil {
			if c.CB != nil {
				c.CB.RecordSuccess()
			}
			return nil
		}
		lastErr = err

		retryableStatus := status != 0 && retry.WithDefaults().RetryableStatus[status]
		if c.CB != nil {
			c.CB.RecordFailure()
		}
		if !retryableStatus && !gwerrors.Is(err, gwerrors.UpstreamConnection) && !gwerrors.Is(err, gwerrors.UpstreamTimeout) {
			return err
		}
		if e.logger != nil {
			e.logger.Warnw("upstream attempt failed, considering retry",
				"request_id", ctx.RequestID, "attempt", attempt, "instance", inst.ID, "error", err)
		}
	}
	return lastErr
}

// attempt performs a single upstream round trip against inst,
// returning the upstream HTTP status (0 if the call never produced
// one) and an error classified per the gateway's taxonomy.
func (e *Engine) attempt(ctx *reqcontext.Context, w http.ResponseWriter, c *upstream.Cluster, inst *upstream.Instance, body []byte) (int, error) {
	r := ctx.Request

	upstreamReq, err := buildUpstreamRequest(r, ctx, inst, body)
	if err != nil {
		return 0, gwerrors.Wrap(gwerrors.InvalidRequest, err, "build upstream request")
	}

	reqCtx := r.Context()
	var cancel context.CancelFunc
	if c.Timeout.Read > 0 {
		reqCtx, cancel = context.WithTimeout(reqCtx, c.Timeout.Read)
		defer cancel()
	}
	upstreamReq = upstreamReq.WithContext(reqCtx)

	inst.IncConnections()
	defer inst.DecConnections()

	transport := c.Transport(inst)
	client := &http.Client{Transport: transport}

	start := time.Now()
	resp, err := client.Do(upstreamReq)
	if e.metrics != nil {
		e.metrics.ObserveUpstreamLatency(c.Name, time.Since(start))
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordRequest(c.Name, "http", 0)
		}
		if reqCtx.Err() != nil {
			return 0, gwerrors.Wrap(gwerrors.UpstreamTimeout, err, "upstream request timed out")
		}
		return 0, gwerrors.Wrap(gwerrors.UpstreamConnection, err, "upstream request failed")
	}
	defer resp.Body.Close()
	if e.metrics != nil {
		e.metrics.RecordRequest(c.Name, "http", resp.StatusCode)
	}

	if upstream.IsFailureStatus(resp.StatusCode, c.Retry.WithDefaults().RetryableStatus) {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, gwerrors.New(gwerrors.UpstreamConnection,
			fmt.Sprintf("upstream returned retryable status %d", resp.StatusCode))
	}

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		return resp.StatusCode, gwerrors.Wrap(gwerrors.UpstreamConnection, err, "stream upstream response")
	}
	return resp.StatusCode, nil
}

// buildUpstreamRequest applies the route's prefix rewrite and
// forwarding headers to produce the request sent upstream.
func buildUpstreamRequest(r *http.Request, ctx *reqcontext.Context, inst *upstream.Instance, body []byte) (*http.Request, error) {
	path := r.URL.Path
	if ctx.Route != nil {
		if ctx.Route.StripPrefix != "" {
			path = strings.TrimPrefix(path, ctx.Route.StripPrefix)
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
		}
		if ctx.Route.AddPrefix != "" {
			path = ctx.Route.AddPrefix + path
		}
	}

	url := fmt.Sprintf("http://%s%s", inst.Address(), path)
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	upstreamReq, err := http.NewRequest(r.Method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	upstreamReq.Header = r.Header.Clone()
	upstreamReq.Host = inst.Address()

	upstreamReq.Header.Set("X-Forwarded-For", ctx.ClientIP)
	upstreamReq.Header.Set("X-Forwarded-Proto", forwardedProto(r))
	upstreamReq.Header.Set("X-Forwarded-Host", r.Host)
	upstreamReq.Header.Set(reqcontext.RequestIDHeader, ctx.RequestID)

	return upstreamReq, nil
}

func forwardedProto(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

func copyResponseHeaders(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}
