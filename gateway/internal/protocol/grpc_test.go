package protocol

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jizhuozhi/hermes/gateway/internal/gwerrors"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestParseGRPCPathSplitsServiceAndMethod(t *testing.T) {
	service, method, ok := ParseGRPCPath("/pkg.Greeter/SayHello")
	assert.True(t, ok)
	assert.Equal(t, "pkg.Greeter", service)
	assert.Equal(t, "SayHello", method)
}

func TestParseGRPCPathRejectsWrongSegmentCount(t *testing.T) {
	_, _, ok := ParseGRPCPath("/pkg.Greeter")
	assert.False(t, ok)

	_, _, ok = ParseGRPCPath("/a/b/c")
	assert.False(t, ok)
}

func TestValidGRPCMethodRequiresPost(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/svc/Method", nil)
	assert.True(t, ValidGRPCMethod(r))

	r = httptest.NewRequest(http.MethodGet, "/svc/Method", nil)
	assert.False(t, ValidGRPCMethod(r))
}

func TestWriteErrorNeverUsesNonOKHTTPStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, gwerrors.New(gwerrors.UpstreamTimeout, "timed out"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "14", w.Header().Get("grpc-status"))
}

func TestStatusForMapsUpstreamFailuresToUnavailable(t *testing.T) {
	code, _ := StatusFor(gwerrors.New(gwerrors.NoHealthyUpstream, "no instances"))
	assert.Equal(t, codes.Unavailable, code)
}

func TestStatusForDefaultsToInternal(t *testing.T) {
	code, _ := StatusFor(assertPlainError{})
	assert.Equal(t, codes.Internal, code)
}

type assertPlainError struct{}

func (assertPlainError) Error() string { return "boom" }
