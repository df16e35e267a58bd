package main

import (
	"encoding/json"
	"net/http"

	"github.com/jizhuozhi/hermes/gateway/internal/gwerrors"
	"github.com/jizhuozhi/hermes/gateway/internal/middleware"
	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
	"go.uber.org/zap"
)

// gatewayServer is the http.Handler the data-plane listener serves:
// build a fresh reqcontext.Context per request, run it through the
// middleware chain, and translate any error that escapes the chain
// into a problem-details response (§7 "no path sends a bare 200 after
// a logical failure").
type gatewayServer struct {
	chain  *middleware.Chain
	logger *zap.SugaredLogger
}

func (s *gatewayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := reqcontext.New(r)
	w.Header().Set(reqcontext.RequestIDHeader, ctx.RequestID)

	if err := s.chain.Run(ctx, w); err != nil {
		writeProblem(w, ctx, err, s.logger)
	}
}

func writeProblem(w http.ResponseWriter, ctx *reqcontext.Context, err error, logger *zap.SugaredLogger) {
	status, body := gwerrors.ProblemFor(err, ctx.RequestID)
	if logger != nil {
		logger.Warnw("request failed", "request_id", ctx.RequestID, "status", status, "error", err)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
