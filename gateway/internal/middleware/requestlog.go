package middleware

import (
	"net/http"
	"time"

	"github.com/jizhuozhi/hermes/gateway/internal/gwerrors"
	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
	"go.uber.org/zap"
)

// statusCapturingWriter wraps a ResponseWriter to observe the status
// code and byte count the handler actually wrote.
type statusCapturingWriter struct {
	http.ResponseWriter
	status      int
	bytesWritten int
	wroteHeader bool
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusCapturingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.status = http.StatusOK
		w.wroteHeader = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

// RequestLog emits a structured entry at response completion with
// method, path, status, duration, bytes, upstream, request-id (§4.5
// "Request logging").
type RequestLog struct {
	logger *zap.SugaredLogger
}

func NewRequestLog(logger *zap.SugaredLogger) *RequestLog {
	return &RequestLog{logger: logger}
}

func (m *RequestLog) Call(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error {
	sw := &statusCapturingWriter{ResponseWriter: w}
	start := time.Now()

	err := next.Run(ctx, sw)

	status := sw.status
	if err != nil {
		status = gwerrors.KindOf(err).Status()
	}

	m.logger.Infow("request completed",
		"request_id", ctx.RequestID,
		"method", ctx.Method,
		"path", ctx.Path,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
		"bytes", sw.bytesWritten,
		"upstream", ctx.UpstreamInstanceID,
	)
	return err
}
