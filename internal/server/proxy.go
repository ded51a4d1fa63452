// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sigil-dev/rpcrouter/internal/dispatch"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// maxRequestBytes caps an inbound JSON-RPC body.
const maxRequestBytes = 4 << 20

type requestIDKey struct{}

// requestID assigns every request a UUID, reusing a well-formed incoming
// X-Request-ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestIDFrom returns the request ID stored by the middleware, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.gateway.Proxy(ctx, body)
	s.writeResult(ctx, w, body, res, err, start)
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	strategy, err := dispatch.ParseStrategy(chi.URLParam(r, "strategy"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.gateway.Dispatch(ctx, strategy, body)
	s.writeResult(ctx, w, body, res, err, start)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err == nil {
		return body, true
	}

	status := http.StatusRequestEntityTooLarge
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		err = sigilerr.Wrap(err, sigilerr.CodeServerRequestInvalid, "reading request body")
		status = sigilerr.HTTPStatus(err)
	}
	slog.Warn("request rejected",
		"request_id", RequestIDFrom(r.Context()),
		"status", status,
		"error", err)
	http.Error(w, err.Error(), status)
	return nil, false
}

// writeResult sends the provider's bytes verbatim with attribution, or a
// plain-text error. Unavailable outcomes map to 503 and an expired request
// deadline to 504.
func (s *Server) writeResult(ctx context.Context, w http.ResponseWriter, body []byte, res dispatch.Result, err error, start time.Time) {
	method := dispatch.Method(body)
	reqID := RequestIDFrom(ctx)

	if err != nil {
		status := sigilerr.HTTPStatus(err)
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		case status == http.StatusInternalServerError || status == http.StatusBadGateway:
			status = http.StatusServiceUnavailable
		}
		slog.Warn("request failed",
			"request_id", reqID,
			"method", method,
			"status", status,
			"code", sigilerr.CodeOf(err),
			"fields", sigilerr.FieldsOf(err),
			"duration", time.Since(start),
			"error", err)
		http.Error(w, err.Error(), status)
		return
	}

	slog.Info("request routed",
		"request_id", reqID,
		"method", method,
		"provider", res.Provider,
		"strategy", res.Strategy,
		"duration", time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(RoutedViaHeader, res.Provider)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}
