package middleware

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/jizhuozhi/hermes/gateway/internal/gwerrors"
	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
	"github.com/jizhuozhi/hermes/gateway/internal/routing"
	"github.com/jizhuozhi/hermes/gateway/internal/state"
)

// RateLimitKeySource selects what identifies the caller for rate
// limiting purposes (§4.5 "Rate-limit").
type RateLimitKeySource string

const (
	KeyByClientIP RateLimitKeySource = "client_ip"
	KeyByHeader   RateLimitKeySource = "header"
	KeyBySubject  RateLimitKeySource = "subject"
	KeyByRoute    RateLimitKeySource = "route"
)

// RateLimitConfig configures the fixed-window limiter applied when the
// matched route carries no rate_limit of its own — the chain-wide
// default from the process config file.
type RateLimitConfig struct {
	Limit      int64
	Window     time.Duration
	KeySource  RateLimitKeySource
	HeaderName string // used when KeySource == KeyByHeader
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.Limit <= 0 {
		c.Limit = 100
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.KeySource == "" {
		c.KeySource = KeyByClientIP
	}
	return c
}

// RateLimit enforces the chain-wide default limiter, or, when the
// matched route carries its own routing.RateLimitConfig, that route's
// own algorithm instead — so one gateway process can run a global
// default plus arbitrarily many per-route overrides (§4.5, testable
// property #10). Both algorithms are built on state.Backend so they
// work unmodified against any pluggable backend, not just the
// in-process default.
type RateLimit struct {
	cfg     RateLimitConfig
	backend state.Backend
}

func NewRateLimit(cfg RateLimitConfig, backend state.Backend) *RateLimit {
	return &RateLimit{cfg: cfg.withDefaults(), backend: backend}
}

func (m *RateLimit) Call(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error {
	if ctx.Route != nil && ctx.Route.RateLimit != nil {
		allowed, remaining, resetAt, err := m.allowRoute(ctx, ctx.Route.RateLimit)
		if err != nil {
			return gwerrors.Wrap(gwerrors.Internal, err, "rate limit backend error")
		}
		writeRateLimitHeaders(w, int64(ctx.Route.RateLimit.EffectiveLimit()), remaining, resetAt)
		if !allowed {
			return gwerrors.New(gwerrors.RateLimitExceeded, "rate limit exceeded")
		}
		return next.Run(ctx, w)
	}
	return m.callGlobal(ctx, w, next)
}

func (m *RateLimit) keyFor(ctx *reqcontext.Context) string {
	switch m.cfg.KeySource {
	case KeyByHeader:
		return ctx.Request.Header.Get(m.cfg.HeaderName)
	case KeyBySubject:
		if ctx.Principal != nil {
			return ctx.Principal.Subject
		}
		return ctx.ClientIP
	default:
		return ctx.ClientIP
	}
}

func (m *RateLimit) callGlobal(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error {
	windowSeconds := int64(m.cfg.Window / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	window := time.Now().Unix() / windowSeconds
	key := fmt.Sprintf("ratelimit:%s:%d", m.keyFor(ctx), window)

	count, err := m.backend.Increment(ctx.Request.Context(), key, 1, m.cfg.Window)
	if err != nil {
		return gwerrors.Wrap(gwerrors.Internal, err, "rate limit backend error")
	}

	remaining := m.cfg.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	writeRateLimitHeaders(w, m.cfg.Limit, remaining, (window+1)*windowSeconds)

	if count > m.cfg.Limit {
		return gwerrors.New(gwerrors.RateLimitExceeded, "rate limit exceeded")
	}
	return next.Run(ctx, w)
}

// routeKeyFor resolves the bucket/window key a per-route RateLimitConfig
// partitions on. "route" (the default when Key is unset) shares one
// bucket across every caller hitting this route; the others mirror the
// chain-wide limiter's per-caller partitioning.
func routeKeyFor(ctx *reqcontext.Context, rl *routing.RateLimitConfig) string {
	switch RateLimitKeySource(rl.Key) {
	case KeyByHeader:
		return "hdr:" + ctx.Request.Header.Get(rl.HeaderName)
	case KeyBySubject:
		if ctx.Principal != nil {
			return "sub:" + ctx.Principal.Subject
		}
		return "ip:" + ctx.ClientIP
	case KeyByClientIP:
		return "ip:" + ctx.ClientIP
	default: // "route" or unset
		routeID := ctx.Route.Method + ":" + ctx.Route.Pattern
		return "route:" + routeID
	}
}

func (m *RateLimit) allowRoute(ctx *reqcontext.Context, rl *routing.RateLimitConfig) (allowed bool, remaining int64, resetAt int64, err error) {
	key := "ratelimit:" + routeKeyFor(ctx, rl)
	if rl.Mode == "count" {
		return m.allowFixedWindow(ctx, key, rl)
	}
	return m.allowTokenBucket(ctx, key, rl)
}

func (m *RateLimit) allowFixedWindow(ctx *reqcontext.Context, key string, rl *routing.RateLimitConfig) (bool, int64, int64, error) {
	windowSecs := int64(rl.Window)
	if windowSecs <= 0 {
		windowSecs = 60
	}
	limit := rl.Count
	if limit <= 0 {
		limit = 1
	}
	window := time.Now().Unix() / windowSecs
	windowKey := fmt.Sprintf("%s:%d", key, window)

	count, err := m.backend.Increment(ctx.Request.Context(), windowKey, 1, time.Duration(windowSecs)*time.Second)
	if err != nil {
		return false, 0, 0, err
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= limit, remaining, (window + 1) * windowSecs, nil
}

// tokenBucketState is the backend-encoded state of a token bucket: 8
// bytes of float64 tokens remaining, followed by 8 bytes of the last
// refill time as UnixNano.
const tokenBucketStateSize = 16

func (m *RateLimit) allowTokenBucket(ctx *reqcontext.Context, key string, rl *routing.RateLimitConfig) (bool, int64, int64, error) {
	burst := rl.Burst
	if burst <= 0 {
		burst = 1
	}
	rate := rl.Rate
	if rate <= 0 {
		rate = 1
	}

	now := time.Now()
	for attempt := 0; attempt < 8; attempt++ {
		raw, ok, err := m.backend.Get(ctx.Request.Context(), key)
		if err != nil {
			return false, 0, 0, err
		}
		tokens := float64(burst)
		lastRefill := now
		if ok && len(raw) == tokenBucketStateSize {
			tokens = math.Float64frombits(binary.BigEndian.Uint64(raw[:8]))
			lastRefill = time.Unix(0, int64(binary.BigEndian.Uint64(raw[8:])))
		}
		tokens += now.Sub(lastRefill).Seconds() * rate
		if tokens > float64(burst) {
			tokens = float64(burst)
		}

		allowed := tokens >= 1
		if allowed {
			tokens -= 1
		}

		next := make([]byte, tokenBucketStateSize)
		binary.BigEndian.PutUint64(next[:8], math.Float64bits(tokens))
		binary.BigEndian.PutUint64(next[8:], uint64(now.UnixNano()))

		var expected []byte
		if ok {
			expected = raw
		}
		swapped, err := m.backend.CompareAndSwap(ctx.Request.Context(), key, expected, next)
		if err != nil {
			return false, 0, 0, err
		}
		if swapped {
			return allowed, int64(tokens), now.Add(time.Second).Unix(), nil
		}
	}
	return false, 0, 0, fmt.Errorf("rate limit: too much contention on %s", key)
}

func writeRateLimitHeaders(w http.ResponseWriter, limit, remaining, resetAt int64) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
}
