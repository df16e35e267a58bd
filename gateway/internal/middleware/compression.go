package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var errUnsupportedEncoding = errors.New("unsupported content encoding")

// CompressionConfig configures response compression negotiation
// (§4.5 "Compression").
type CompressionConfig struct {
	Enabled  bool
	MinSize  int
	Level    int
	// Algorithms lists acceptable encodings in preference order.
	// "br" is accepted from clients but served as gzip: the gateway
	// has no brotli encoder in its dependency set, so it falls back
	// rather than pretending to support it.
	Algorithms []string
}

func (c CompressionConfig) withDefaults() CompressionConfig {
	if c.MinSize <= 0 {
		c.MinSize = 1024
	}
	if c.Level <= 0 {
		c.Level = 6
	}
	if len(c.Algorithms) == 0 {
		c.Algorithms = []string{"zstd", "gzip"}
	}
	return c
}

// Compression negotiates gzip/zstd by Accept-Encoding and compresses
// the response only if the content-type is compressible, the
// uncompressed size is at least MinSize, the status is a success, and
// no Content-Encoding is already present (§4.5). It buffers the
// downstream response to measure and compress it, since compression
// decisions depend on the final body size.
type Compression struct {
	cfg CompressionConfig
}

func NewCompression(cfg CompressionConfig) *Compression {
	return &Compression{cfg: cfg.withDefaults()}
}

func negotiateEncoding(acceptEncoding string, preferred []string) string {
	if acceptEncoding == "" {
		return ""
	}
	accepted := make(map[string]bool)
	for _, part := range strings.Split(acceptEncoding, ",") {
		name := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		accepted[name] = true
	}
	for _, enc := range preferred {
		if accepted[enc] {
			return enc
		}
		if enc == "gzip" && accepted["br"] {
			// No brotli encoder available; serve gzip for a br-only
			// request rather than leaving the response uncompressed.
			return "gzip"
		}
	}
	return ""
}

func isCompressibleContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "text/"):
		return true
	case strings.Contains(ct, "json"):
		return true
	case strings.Contains(ct, "xml"):
		return true
	case strings.Contains(ct, "javascript"):
		return true
	case ct == "image/svg+xml":
		return true
	default:
		return false
	}
}

func (m *Compression) Call(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error {
	if !m.cfg.Enabled {
		return next.Run(ctx, w)
	}

	encoding := negotiateEncoding(ctx.Request.Header.Get("Accept-Encoding"), m.cfg.Algorithms)
	if encoding == "" {
		return next.Run(ctx, w)
	}

	buf := &bufferingWriter{header: make(http.Header)}
	if err := next.Run(ctx, buf); err != nil {
		return err
	}

	if !m.shouldCompress(buf) {
		return writeBuffered(w, buf)
	}

	compressed, err := compressBody(buf.body.Bytes(), encoding, m.cfg.Level)
	if err != nil {
		// Compression failure falls back to the uncompressed response,
		// since nothing has been written to the real ResponseWriter yet.
		return writeBuffered(w, buf)
	}

	if len(compressed) >= buf.body.Len() {
		return writeBuffered(w, buf)
	}

	for k, vs := range buf.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Encoding", encoding)
	w.Header().Del("Transfer-Encoding")
	w.Header().Set("Content-Length", strconv.Itoa(len(compressed)))
	status := buf.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, werr := w.Write(compressed)
	return werr
}

func (m *Compression) shouldCompress(buf *bufferingWriter) bool {
	if buf.header.Get("Content-Encoding") != "" {
		return false
	}
	status := buf.status
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status >= 300 {
		return false
	}
	if !isCompressibleContentType(buf.header.Get("Content-Type")) {
		return false
	}
	return buf.body.Len() >= m.cfg.MinSize
}

func compressBody(data []byte, encoding string, level int) ([]byte, error) {
	var out bytes.Buffer
	switch encoding {
	case "gzip":
		zw, err := gzip.NewWriterLevel(&out, level)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	case "zstd":
		zw, err := zstd.NewWriter(&out, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, errUnsupportedEncoding
	}
	return out.Bytes(), nil
}

// bufferingWriter captures a downstream handler's response so the
// compression middleware can inspect its final size before deciding
// whether to encode it.
type bufferingWriter struct {
	header      http.Header
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func (b *bufferingWriter) Header() http.Header { return b.header }

func (b *bufferingWriter) WriteHeader(status int) {
	if !b.wroteHeader {
		b.status = status
		b.wroteHeader = true
	}
}

func (b *bufferingWriter) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.status = http.StatusOK
		b.wroteHeader = true
	}
	return b.body.Write(p)
}

func writeBuffered(w http.ResponseWriter, buf *bufferingWriter) error {
	for k, vs := range buf.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := buf.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, err := w.Write(buf.body.Bytes())
	return err
}
