package api

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/okian/tripproxy/internal/domain/pipeline"
)

// Query parameter names.
const (
	paramPage      = "page"
	paramLimit     = "limit"
	paramSortOrder = "sortOrder"
	paramSortKey   = "sortKey"
)

// parsePage reads the required page and limit parameters.
func parsePage(op string, q url.Values) (page, limit int, err error) {
	if page, err = positiveInt(op, q, paramPage); err != nil {
		return 0, 0, err
	}
	if limit, err = positiveInt(op, q, paramLimit); err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

func positiveInt(op string, q url.Values, name string) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, WrapKind(op, ErrInvalidQueryParam, missingParam(name))
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, WrapKind(op, ErrInvalidQueryParam, badParam(name, raw, "not an integer"))
	}
	if n < 1 {
		return 0, WrapKind(op, ErrInvalidQueryParam, badParam(name, raw, "must be >= 1"))
	}
	return n, nil
}

// parseSort reads sortKey (required) and sortOrder (asc when absent).
func parseSort(op string, q url.Values) (pipeline.Order, string, error) {
	order := pipeline.Ascending
	if raw := strings.TrimSpace(q.Get(paramSortOrder)); raw != "" {
		o, err := pipeline.ParseOrder(raw)
		if err != nil {
			return order, "", WrapKind(op, ErrInvalidQueryParam, err)
		}
		order = o
	}
	key := strings.TrimSpace(q.Get(paramSortKey))
	if key == "" {
		return order, "", WrapKind(op, ErrInvalidQueryParam, missingParam(paramSortKey))
	}
	return order, key, nil
}

type paramError struct {
	name, value, reason string
}

func (e *paramError) Error() string {
	if e.value == "" {
		return e.name + " " + e.reason
	}
	return e.name + "=" + strconv.Quote(e.value) + " " + e.reason
}

func missingParam(name string) error { return &paramError{name: name, reason: "is required"} }

func badParam(name, value, reason string) error {
	return &paramError{name: name, value: value, reason: reason}
}
