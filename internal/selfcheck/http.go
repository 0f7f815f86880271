package selfcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// maxResponseBytes bounds what the checker buffers per response.
const maxResponseBytes = 64 << 20

type response struct {
	status int
	body   []byte
}

// get performs one GET against path with the given query.
func (r *runner) get(ctx context.Context, path string, q url.Values) (response, error) {
	target := r.cfg.BaseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return response{}, fmt.Errorf("read %s: %w", path, err)
	}
	return response{status: resp.StatusCode, body: body}, nil
}

// getJSON performs a GET and decodes a 200 body into v.
func (r *runner) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	resp, err := r.get(ctx, path, q)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return fmt.Errorf("GET %s: status %d: %s", path, resp.status, snippet(resp.body))
	}
	if err := json.Unmarshal(resp.body, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func pageQuery(page, limit int) url.Values {
	return url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(limit)}}
}

func sortQuery(key string) url.Values {
	return url.Values{"sortOrder": {"asc"}, "sortKey": {key}}
}

func snippet(b []byte) string {
	const n = 200
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
