package protocol

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// websocketMagicGUID is the fixed RFC 6455 §1.3 handshake constant.
const websocketMagicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes Sec-WebSocket-Accept from an inbound
// Sec-WebSocket-Key per RFC 6455 §1.3: base64(SHA1(key || GUID)).
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketMagicGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// WebSocketConfig controls the upgrade and frame-forwarding policy.
type WebSocketConfig struct {
	MaxMessageBytes int64
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 32 * 1024 * 1024
	}
	return c
}

// WebSocketProxy upgrades an inbound client connection and forwards
// frames bidirectionally to an upstream WebSocket server, cancelling
// both directions as soon as either side closes (§4.6).
type WebSocketProxy struct {
	cfg      WebSocketConfig
	upgrader websocket.Upgrader
	dialer   websocket.Dialer
	logger   *zap.SugaredLogger
}

func NewWebSocketProxy(cfg WebSocketConfig, logger *zap.SugaredLogger) *WebSocketProxy {
	cfg = cfg.withDefaults()
	return &WebSocketProxy{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dialer: websocket.Dialer{},
	}
}

// ValidHandshake reports whether r's Sec-WebSocket-Version is the one
// RFC 6455 defines. A request that fails this check must fall back to
// an ordinary HTTP error response, never an upgrade attempt (§6).
func ValidHandshake(r *http.Request) bool {
	return r.Header.Get("Sec-WebSocket-Version") == "13"
}

// Proxy upgrades w/r to a WebSocket connection, dials upstreamURL as a
// WebSocket client, and forwards frames between the two until either
// side closes or ctx is cancelled.
func (p *WebSocketProxy) Proxy(ctx context.Context, w http.ResponseWriter, r *http.Request, upstreamURL string) error {
	if !ValidHandshake(r) {
		return fmt.Errorf("unsupported Sec-WebSocket-Version")
	}

	upstreamConn, _, err := p.dialer.DialContext(ctx, upstreamURL, forwardableHeaders(r.Header))
	if err != nil {
		return fmt.Errorf("dial upstream websocket: %w", err)
	}
	defer upstreamConn.Close()

	clientConn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade client connection: %w", err)
	}
	defer clientConn.Close()

	clientConn.SetReadLimit(p.cfg.MaxMessageBytes)
	upstreamConn.SetReadLimit(p.cfg.MaxMessageBytes)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return forwardFrames(gctx, clientConn, upstreamConn) })
	g.Go(func() error { return forwardFrames(gctx, upstreamConn, clientConn) })
	// Closing both connections once either direction ends unblocks the
	// other direction's pending ReadMessage.
	go func() {
		<-gctx.Done()
		clientConn.Close()
		upstreamConn.Close()
	}()

	if err := g.Wait(); err != nil && p.logger != nil {
		p.logger.Debugw("websocket proxy closed", "error", err)
	}
	return nil
}

// forwardFrames copies frames from src to dst until src closes, ctx is
// cancelled, or a write to dst fails.
func forwardFrames(ctx context.Context, src, dst *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		mt, msg, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(mt, msg); err != nil {
			return err
		}
	}
}

// forwardableHeaders strips the hop-by-hop upgrade headers the dialer
// sets itself, passing the rest through to the upstream handshake.
func forwardableHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		switch http.CanonicalHeaderKey(k) {
		case "Upgrade", "Connection", "Sec-Websocket-Key", "Sec-Websocket-Version",
			"Sec-Websocket-Extensions", "Sec-Websocket-Protocol":
			continue
		default:
			out[k] = v
		}
	}
	return out
}
