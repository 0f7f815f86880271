package api

import (
	"errors"
	"net/http"

	"github.com/okian/tripproxy/internal/domain/trip"
	"github.com/okian/tripproxy/pkg/logger"
)

// TripsHandler serves the proxied trip list.
type TripsHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewTripsHandler creates a new trips handler.
func NewTripsHandler(deps Dependencies, l logger.Logger) *TripsHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &TripsHandler{deps: deps, logger: l}
}

// HandleFetchAll handles GET /fetch-all.
func (h *TripsHandler) HandleFetchAll(w http.ResponseWriter, r *http.Request) {
	const op = "api.fetch_all"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	records, err := h.deps.FetchAll(r.Context())
	h.respond(w, r, op, records, err)
}

// HandleFetchPaginated handles GET /fetch-paginated?page=P&limit=L.
func (h *TripsHandler) HandleFetchPaginated(w http.ResponseWriter, r *http.Request) {
	const op = "api.fetch_paginated"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	page, limit, err := parsePage(op, r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	records, err := h.deps.FetchPaginated(r.Context(), page, limit)
	h.respond(w, r, op, records, err)
}

// HandleFetchSorted handles GET /fetch-sorted?sortOrder=asc|desc&sortKey=K.
func (h *TripsHandler) HandleFetchSorted(w http.ResponseWriter, r *http.Request) {
	const op = "api.fetch_sorted"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	order, key, err := parseSort(op, r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	records, err := h.deps.FetchSorted(r.Context(), order, key)
	h.respond(w, r, op, records, err)
}

// HandleFetchSortedPaginated handles GET /fetch-sorted-paginated with all
// four parameters. Sorting always happens before pagination.
func (h *TripsHandler) HandleFetchSortedPaginated(w http.ResponseWriter, r *http.Request) {
	const op = "api.fetch_sorted_paginated"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	order, key, err := parseSort(op, q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, limit, err := parsePage(op, q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	records, err := h.deps.FetchSortedPaginated(r.Context(), order, key, page, limit)
	h.respond(w, r, op, records, err)
}

// HandleSortKeys handles GET /sort-keys.
func (h *TripsHandler) HandleSortKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.SortKeys())
}

func (h *TripsHandler) respond(w http.ResponseWriter, r *http.Request, op string, records []trip.Record, err error) {
	if err != nil {
		var opErr *OpError
		if !errors.As(err, &opErr) {
			err = Wrap(op, err)
		}
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []trip.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *TripsHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	switch {
	case status == statusClientClosedRequest:
		// Nobody is listening; record the status for logs and metrics only.
		h.logger.Info(r.Context(), "client closed request", logger.Error(err))
		w.WriteHeader(status)
		return
	case status >= http.StatusInternalServerError:
		h.logger.Error(r.Context(), "request failed", logger.String("code", code), logger.Error(err))
		if status == http.StatusInternalServerError {
			// Unclassified causes stay in the log.
			err = ErrInternal
		}
	default:
		h.logger.Debug(r.Context(), "request rejected", logger.String("code", code), logger.Error(err))
	}
	writeError(w, status, code, err)
}
