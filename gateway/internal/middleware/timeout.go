package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/jizhuozhi/hermes/gateway/internal/gwerrors"
	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
	"go.uber.org/zap"
)

// TimeoutConfig configures the deadline middleware.
type TimeoutConfig struct {
	RequestTimeout time.Duration
}

func (c TimeoutConfig) withDefaults() TimeoutConfig {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

// Timeout races the downstream chain against a deadline, returning
// UpstreamTimeout (504) on expiry with the chain cancelled (§4.5).
type Timeout struct {
	cfg    TimeoutConfig
	logger *zap.SugaredLogger
}

func NewTimeout(cfg TimeoutConfig, logger *zap.SugaredLogger) *Timeout {
	return &Timeout{cfg: cfg.withDefaults(), logger: logger}
}

func (m *Timeout) Call(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error {
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), m.cfg.RequestTimeout)
	defer cancel()
	ctx.Request = ctx.Request.WithContext(reqCtx)

	done := make(chan error, 1)
	go func() {
		done <- next.Run(ctx, w)
	}()

	select {
	case err := <-done:
		return err
	case <-reqCtx.Done():
		if m.logger != nil {
			m.logger.Warnw("request timeout", "request_id", ctx.RequestID, "timeout", m.cfg.RequestTimeout)
		}
		return gwerrors.New(gwerrors.UpstreamTimeout, "request timed out")
	}
}
