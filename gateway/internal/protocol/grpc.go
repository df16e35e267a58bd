package protocol

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jizhuozhi/hermes/gateway/internal/gwerrors"
	"google.golang.org/grpc/codes"
)

// ParseGRPCPath splits a gRPC request path into its service and method
// components. The path must be exactly "/{service}/{method}"; anything
// else is invalid (§4.6).
func ParseGRPCPath(path string) (service, method string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ValidGRPCMethod reports whether r is eligible to be treated as a
// gRPC call: only POST carries a gRPC request body.
func ValidGRPCMethod(r *http.Request) bool {
	return r.Method == http.MethodPost
}

// StatusFor maps a gateway error kind to the gRPC status code the
// spec mandates for HTTP-level gateway failures (§4.6): UNAVAILABLE
// for anything upstream-reachability related, a specific code for the
// request-side kinds (invalid request, auth, not found, rate limit),
// INTERNAL otherwise, delegating to the same Kind.GRPCStatus table the
// HTTP error path uses so both framings stay in lockstep.
func StatusFor(err error) (codes.Code, string) {
	kind := gwerrors.KindOf(err)
	code, message := kind.GRPCStatus()
	return codes.Code(code), message
}

// WriteError writes a gRPC-framed error response. gRPC errors are
// always carried as HTTP 200 with a non-zero grpc-status trailer
// (§4.6) — the gateway must never translate a proxy failure into a
// non-200 HTTP status on this path, since gRPC clients only inspect
// the trailer.
func WriteError(w http.ResponseWriter, err error) {
	code, message := StatusFor(err)
	w.Header().Set("Content-Type", "application/grpc+proto")
	w.Header().Set("Trailer", "grpc-status, grpc-message")
	w.WriteHeader(http.StatusOK)
	w.Header().Set("grpc-status", strconv.Itoa(int(code)))
	w.Header().Set("grpc-message", message)
}

// WriteOK sets the success trailer on a gRPC response that otherwise
// proxied through cleanly.
func WriteOK(w http.ResponseWriter) {
	w.Header().Set(http.TrailerPrefix+"grpc-status", strconv.Itoa(int(codes.OK)))
	w.Header().Set(http.TrailerPrefix+"grpc-message", "")
}
