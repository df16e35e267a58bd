// Package gwerrors defines the gateway's error taxonomy: a small set of
// kinds with a deterministic mapping to HTTP status codes, gRPC status
// codes, and JSON problem-details bodies.
package gwerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the failure taxonomy the core distinguishes. Every error that
// can reach a client carries one of these.
type Kind int

const (
	Internal Kind = iota
	InvalidRequest
	Authentication
	Authorization
	RouteNotFound
	RateLimitExceeded
	UpstreamConnection
	UpstreamTimeout
	NoHealthyUpstream
	CircuitBreakerOpen
)

func (k Kind) String() string {
	switch k {
	case InvalidRequest:
		return "invalid_request"
	case Authentication:
		return "authentication"
	case Authorization:
		return "authorization"
	case RouteNotFound:
		return "route_not_found"
	case RateLimitExceeded:
		return "rate_limit_exceeded"
	case UpstreamConnection:
		return "upstream_connection"
	case UpstreamTimeout:
		return "upstream_timeout"
	case NoHealthyUpstream:
		return "no_healthy_upstream"
	case CircuitBreakerOpen:
		return "circuit_breaker_open"
	default:
		return "internal"
	}
}

// Status returns the default external HTTP status mapping for the kind.
func (k Kind) Status() int {
	switch k {
	case InvalidRequest:
		return http.StatusBadRequest
	case Authentication:
		return http.StatusUnauthorized
	case Authorization:
		return http.StatusForbidden
	case RouteNotFound:
		return http.StatusNotFound
	case RateLimitExceeded:
		return http.StatusTooManyRequests
	case UpstreamConnection:
		return http.StatusBadGateway
	case UpstreamTimeout:
		return http.StatusGatewayTimeout
	case NoHealthyUpstream, CircuitBreakerOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GRPCStatus returns the gRPC status code the spec mandates for
// HTTP-level gateway failures translated onto a gRPC-framed response
// (§4.6): UNAVAILABLE for anything upstream-reachability related;
// INVALID_ARGUMENT, UNAUTHENTICATED, PERMISSION_DENIED, NOT_FOUND and
// RESOURCE_EXHAUSTED for the matching request-side kinds; INTERNAL
// otherwise.
func (k Kind) GRPCStatus() (code int, message string) {
	switch k {
	case UpstreamConnection, UpstreamTimeout, NoHealthyUpstream, CircuitBreakerOpen:
		return 14, k.String() // UNAVAILABLE
	case InvalidRequest:
		return 3, k.String() // INVALID_ARGUMENT
	case Authentication:
		return 16, k.String() // UNAUTHENTICATED
	case Authorization:
		return 7, k.String() // PERMISSION_DENIED
	case RouteNotFound:
		return 5, k.String() // NOT_FOUND
	case RateLimitExceeded:
		return 8, k.String() // RESOURCE_EXHAUSTED
	default:
		return 13, k.String() // INTERNAL
	}
}

// Error is a gateway error value. Errors are values: middleware may
// wrap or reclassify one but must never swallow it silently — any
// error reaching the chain boundary is translated to a response via
// Status/GRPCStatus, never dropped in favor of a bare 200.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// As extracts a *Error from err, following the same wrapping
// conventions as the rest of the chain (errors.As).
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// KindOf classifies err, defaulting to Internal for anything that
// isn't already a gateway *Error — this is the boundary that ensures
// "no path is permitted to send a bare 200 OK after a logical failure"
// (§7): any unrecognized error still maps to a defined status.
func KindOf(err error) Kind {
	if ge, ok := As(err); ok {
		return ge.Kind
	}
	return Internal
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ProblemDetails is the JSON body shape for non-opaque errors (§7).
type ProblemDetails struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// ProblemFor builds the problem-details body for err tagged with the
// given request id.
func ProblemFor(err error, requestID string) (status int, body ProblemDetails) {
	kind := KindOf(err)
	msg := err.Error()
	if ge, ok := As(err); ok {
		msg = ge.Message
	}
	return kind.Status(), ProblemDetails{
		Error:     kind.String(),
		Message:   msg,
		RequestID: requestID,
	}
}
