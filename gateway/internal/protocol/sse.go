package protocol

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// SSEConfig controls the keep-alive cadence for a streamed connection.
type SSEConfig struct {
	HeartbeatInterval int // seconds
}

func (c SSEConfig) withDefaults() SSEConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30
	}
	return c
}

// PrepareHeaders sets the fixed SSE response headers (§4.6) before the
// first event is flushed.
func PrepareHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// FormatEvent renders a named SSE event per the WHATWG spec's minimal
// framing: "event: <name>\ndata: <payload>\n\n".
func FormatEvent(event, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

// FormatComment renders an SSE comment line, used as a keep-alive.
func FormatComment(comment string) string {
	return fmt.Sprintf(": %s\n\n", comment)
}

// Flusher is satisfied by any http.ResponseWriter that supports
// incremental flushing, which every real net/http server response
// writer does.
type Flusher interface {
	http.ResponseWriter
	http.Flusher
}

// WriteEvent writes and flushes a single SSE event.
func WriteEvent(w Flusher, event, data string) error {
	if _, err := w.Write([]byte(FormatEvent(event, data))); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// WriteComment writes and flushes a keep-alive comment.
func WriteComment(w Flusher, comment string) error {
	if _, err := w.Write([]byte(FormatComment(comment))); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// RunHeartbeat writes a keep-alive comment to w every
// cfg.HeartbeatInterval seconds until ctx is cancelled or a write
// fails. Intended to run in its own goroutine alongside the upstream
// event forwarder.
func RunHeartbeat(ctx context.Context, w Flusher, cfg SSEConfig) error {
	cfg = cfg.withDefaults()
	ticker := time.NewTicker(time.Duration(cfg.HeartbeatInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := WriteComment(w, "keepalive"); err != nil {
				return err
			}
		}
	}
}
