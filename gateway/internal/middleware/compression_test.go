package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonBodyOfSize(n int) string {
	var sb strings.Builder
	sb.WriteString(`{"data":"`)
	for sb.Len() < n-12 {
		sb.WriteString("x")
	}
	sb.WriteString(`"}`)
	return sb.String()
}

func TestCompressionAppliesWhenLargeAndCompressible(t *testing.T) {
	body := jsonBodyOfSize(2000)
	terminal := Handler(func(ctx *reqcontext.Context, w http.ResponseWriter) error {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(body))
		return err
	})
	chain := NewChain(terminal, NewCompression(CompressionConfig{Enabled: true, MinSize: 1024}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	ctx := reqcontext.New(r)
	w := httptest.NewRecorder()

	require.NoError(t, chain.Run(ctx, w))
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	gr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	var out bytes.Buffer
	_, err = out.ReadFrom(gr)
	require.NoError(t, err)
	assert.Equal(t, body, out.String())
}

func TestCompressionSkipsSmallBody(t *testing.T) {
	body := `{"data":"short"}`
	terminal := Handler(func(ctx *reqcontext.Context, w http.ResponseWriter) error {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(body))
		return err
	})
	chain := NewChain(terminal, NewCompression(CompressionConfig{Enabled: true, MinSize: 1024}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	ctx := reqcontext.New(r)
	w := httptest.NewRecorder()

	require.NoError(t, chain.Run(ctx, w))
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, body, w.Body.String())
}

func TestCompressionNeverDoubleEncodes(t *testing.T) {
	body := jsonBodyOfSize(2000)
	terminal := Handler(func(ctx *reqcontext.Context, w http.ResponseWriter) error {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(body))
		return err
	})
	inner := NewCompression(CompressionConfig{Enabled: true, MinSize: 1024})
	outer := NewCompression(CompressionConfig{Enabled: true, MinSize: 1024})
	chain := NewChain(terminal, outer, inner)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	ctx := reqcontext.New(r)
	w := httptest.NewRecorder()

	require.NoError(t, chain.Run(ctx, w))
	assert.Equal(t, 1, len(w.Header().Values("Content-Encoding")))
}
