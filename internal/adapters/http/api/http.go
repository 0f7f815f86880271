// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/tripproxy/internal/adapters/upstream"
	"github.com/okian/tripproxy/internal/domain/pipeline"
	"github.com/okian/tripproxy/internal/domain/trip"
	"github.com/okian/tripproxy/pkg/logger"
)

// statusClientClosedRequest is logged when the caller hangs up before the
// response is ready.
const statusClientClosedRequest = 499

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	FetchAll(ctx context.Context) ([]trip.Record, error)
	FetchPaginated(ctx context.Context, page, limit int) ([]trip.Record, error)
	FetchSorted(ctx context.Context, order pipeline.Order, key string) ([]trip.Record, error)
	FetchSortedPaginated(ctx context.Context, order pipeline.Order, key string, page, limit int) ([]trip.Record, error)
	SortKeys() []string
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	tripsHandler   *TripsHandler
	metricsHandler http.Handler
	logger         logger.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger used by handlers and the access log.
func WithServerLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	s := &Server{logger: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(statsProvider)
	s.tripsHandler = NewTripsHandler(deps, s.logger)
	s.metricsHandler = NewMetricsHandler()
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}

	mux.HandleFunc("/fetch-all", s.wrap(s.tripsHandler.HandleFetchAll, "fetch_all"))
	mux.HandleFunc("/fetch-paginated", s.wrap(s.tripsHandler.HandleFetchPaginated, "fetch_paginated"))
	mux.HandleFunc("/fetch-sorted", s.wrap(s.tripsHandler.HandleFetchSorted, "fetch_sorted"))
	mux.HandleFunc("/fetch-sorted-paginated", s.wrap(s.tripsHandler.HandleFetchSortedPaginated, "fetch_sorted_paginated"))
	mux.HandleFunc("/sort-keys", s.wrap(s.tripsHandler.HandleSortKeys, "sort_keys"))

	mux.HandleFunc("/healthz", s.wrap(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", s.wrap(s.statsHandler.HandleStats, "stats"))
	mux.Handle("/metrics", s.metricsHandler)
}

// wrap applies request id, access log and metrics middleware, outermost first.
func (s *Server) wrap(h http.HandlerFunc, endpoint string) http.HandlerFunc {
	return RequestIDMiddleware(AccessLogMiddleware(MetricsMiddleware(h, endpoint), s.logger))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// classify maps an error to its HTTP status and response code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidQueryParam),
		errors.Is(err, pipeline.ErrInvalidPage),
		errors.Is(err, pipeline.ErrInvalidSortOrder):
		return http.StatusBadRequest, "invalid_query_param"
	case errors.Is(err, pipeline.ErrInvalidSortKey):
		return http.StatusBadRequest, "invalid_sort_key"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "client_closed_request"
	case errors.Is(err, upstream.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, upstream.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
