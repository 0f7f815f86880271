package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/okian/tripproxy/internal/adapters/http/api"
	"github.com/okian/tripproxy/internal/adapters/upstream"
	service "github.com/okian/tripproxy/internal/app"
	"github.com/okian/tripproxy/internal/domain/pipeline"
	"github.com/okian/tripproxy/internal/domain/trip"
	"github.com/okian/tripproxy/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const upstreamList = `[
	{"id": "b", "name": "Bravo", "price": 30, "host": {"id": "h1", "name": "Zoe"}, "vendorRef": "x-1"},
	{"id": "a", "name": "Alpha", "price": 10, "host": {"id": "h2", "name": "Max"}},
	{"id": "c", "name": "Charlie", "price": 20, "host": {"id": "h3", "name": "Ann"}}
]`

// stubFetcher backs the real service so handler tests exercise the pipeline.
type stubFetcher struct {
	records []trip.Record
	err     error
	calls   atomic.Int64
}

func (f *stubFetcher) FetchAll(ctx context.Context) ([]trip.Record, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func (f *stubFetcher) Stats() upstream.Stats { return upstream.Stats{BreakerState: "closed"} }
func (f *stubFetcher) URL() string           { return "https://upstream.test/trips" }

// failingDeps returns err from every fetch.
type failingDeps struct{ err error }

func (d failingDeps) FetchAll(context.Context) ([]trip.Record, error) { return nil, d.err }
func (d failingDeps) FetchPaginated(context.Context, int, int) ([]trip.Record, error) {
	return nil, d.err
}
func (d failingDeps) FetchSorted(context.Context, pipeline.Order, string) ([]trip.Record, error) {
	return nil, d.err
}
func (d failingDeps) FetchSortedPaginated(context.Context, pipeline.Order, string, int, int) ([]trip.Record, error) {
	return nil, d.err
}
func (d failingDeps) SortKeys() []string { return nil }

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newMux(deps api.Dependencies, opts ...api.ServerOption) *http.ServeMux {
	server := api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}, opts...)
	mux := http.NewServeMux()
	server.Register(mux)
	return mux
}

func newServiceMux() (*http.ServeMux, *stubFetcher) {
	var records []trip.Record
	if err := json.Unmarshal([]byte(upstreamList), &records); err != nil {
		panic(err)
	}
	f := &stubFetcher{records: records}
	return newMux(service.New(service.WithFetcher(f))), f
}

func get(mux http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeIDs(body []byte) []string {
	var got []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		panic(err)
	}
	out := make([]string, len(got))
	for i, g := range got {
		out[i] = g.ID
	}
	return out
}

func decodeError(body []byte) (code, message string) {
	var e struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		panic(err)
	}
	return e.Code, e.Message
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		mux, _ := newServiceMux()

		Convey("Then health should report ok as JSON", func() {
			w := get(mux, "/healthz")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldEqual, "application/json; charset=utf-8")
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, `{"status":"ok"}`)
		})

		Convey("And stats should be served", func() {
			w := get(mux, "/stats")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("And metrics should be exposed after a request", func() {
			_ = get(mux, "/fetch-all")
			w := get(mux, "/metrics")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "tripproxy_proxy_http_requests_total")
		})

		Convey("And sort keys should list nested keys", func() {
			w := get(mux, "/sort-keys")
			So(w.Code, ShouldEqual, http.StatusOK)
			var keys []string
			So(json.Unmarshal(w.Body.Bytes(), &keys), ShouldBeNil)
			So(keys, ShouldContain, "price")
			So(keys, ShouldContain, "host.name")
		})

		Convey("And non-GET requests on business routes should 404", func() {
			for _, path := range []string{"/fetch-all", "/fetch-paginated", "/fetch-sorted", "/fetch-sorted-paginated", "/stats"} {
				req := httptest.NewRequest(http.MethodPost, path, http.NoBody)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)
				So(w.Code, ShouldEqual, http.StatusNotFound)
			}
		})
	})

	Convey("Given a nil mux", t, func() {
		server := api.NewServer(failingDeps{}, &mockStatsProvider{})
		So(func() { server.Register(nil) }, ShouldPanic)
	})
}

func TestFetchRoutes(t *testing.T) {
	Convey("Given the service behind the API", t, func() {
		mux, f := newServiceMux()

		Convey("/fetch-all should return every record unchanged", func() {
			w := get(mux, "/fetch-all")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeIDs(w.Body.Bytes()), ShouldResemble, []string{"b", "a", "c"})
			So(w.Body.String(), ShouldContainSubstring, `"vendorRef":"x-1"`)
		})

		Convey("/fetch-paginated should return the requested window", func() {
			w := get(mux, "/fetch-paginated?page=2&limit=2")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeIDs(w.Body.Bytes()), ShouldResemble, []string{"c"})
		})

		Convey("/fetch-paginated past the end should return an empty array", func() {
			w := get(mux, "/fetch-paginated?page=9&limit=2")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
		})

		Convey("/fetch-sorted should order by a numeric key", func() {
			w := get(mux, "/fetch-sorted?sortOrder=desc&sortKey=price")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeIDs(w.Body.Bytes()), ShouldResemble, []string{"b", "c", "a"})
		})

		Convey("/fetch-sorted should default to ascending", func() {
			w := get(mux, "/fetch-sorted?sortKey=host.name")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeIDs(w.Body.Bytes()), ShouldResemble, []string{"c", "a", "b"})
		})

		Convey("/fetch-sorted-paginated should sort before paginating", func() {
			w := get(mux, "/fetch-sorted-paginated?sortOrder=asc&sortKey=id&page=1&limit=2")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeIDs(w.Body.Bytes()), ShouldResemble, []string{"a", "b"})
		})

		Convey("Bad query parameters should be rejected before fetching", func() {
			cases := []struct {
				target string
				code   string
			}{
				{"/fetch-paginated?limit=2", "invalid_query_param"},
				{"/fetch-paginated?page=1", "invalid_query_param"},
				{"/fetch-paginated?page=abc&limit=2", "invalid_query_param"},
				{"/fetch-paginated?page=0&limit=2", "invalid_query_param"},
				{"/fetch-paginated?page=1&limit=-3", "invalid_query_param"},
				{"/fetch-sorted?sortOrder=asc", "invalid_query_param"},
				{"/fetch-sorted?sortOrder=sideways&sortKey=id", "invalid_query_param"},
				{"/fetch-sorted?sortKey=nope", "invalid_sort_key"},
				{"/fetch-sorted?sortKey=tags", "invalid_sort_key"},
				{"/fetch-sorted-paginated?sortKey=id&page=1", "invalid_query_param"},
				{"/fetch-sorted-paginated?sortKey=nope&page=1&limit=2", "invalid_sort_key"},
			}
			for _, tc := range cases {
				w := get(mux, tc.target)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				code, msg := decodeError(w.Body.Bytes())
				So(code, ShouldEqual, tc.code)
				So(msg, ShouldNotBeEmpty)
			}
			So(f.calls.Load(), ShouldEqual, 0)
		})
	})
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"an upstream failure", fmt.Errorf("%w: unexpected status 500", upstream.ErrUpstream), http.StatusBadGateway, "upstream_error"},
		{"an open circuit", upstream.ErrCircuitOpen, http.StatusServiceUnavailable, "upstream_unavailable"},
		{"an unexpected failure", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		Convey("Given a dependency failing with "+tc.name, t, func() {
			mux := newMux(failingDeps{err: tc.err})

			Convey("Then every fetch route should map it", func() {
				for _, target := range []string{
					"/fetch-all",
					"/fetch-paginated?page=1&limit=1",
					"/fetch-sorted?sortKey=id",
					"/fetch-sorted-paginated?sortKey=id&page=1&limit=1",
				} {
					w := get(mux, target)
					So(w.Code, ShouldEqual, tc.status)
					code, _ := decodeError(w.Body.Bytes())
					So(code, ShouldEqual, tc.code)
				}
			})
		})
	}

	Convey("Given a dependency failing with an unclassified error", t, func() {
		mux := newMux(failingDeps{err: errors.New("dial tcp 10.0.0.3:5432: secret detail")})

		Convey("Then the body should carry the generic internal message", func() {
			w := get(mux, "/fetch-sorted?sortKey=id")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			code, msg := decodeError(w.Body.Bytes())
			So(code, ShouldEqual, "internal_error")
			So(msg, ShouldEqual, api.ErrInternal.Error())
			So(msg, ShouldNotContainSubstring, "secret")
		})
	})

	Convey("Given a caller that went away", t, func() {
		mux := newMux(failingDeps{err: fmt.Errorf("%w: %w", upstream.ErrUpstream, context.Canceled)})

		Convey("Then the status should be 499 with no body", func() {
			w := get(mux, "/fetch-all")
			So(w.Code, ShouldEqual, 499)
			So(w.Body.Len(), ShouldEqual, 0)
		})
	})
}

func TestMiddleware(t *testing.T) {
	Convey("Given the middleware chain with an observed logger", t, func() {
		core, logs := observer.New(zapcore.DebugLevel)
		So(logger.InitWithCore(core), ShouldBeNil)
		mux, _ := newServiceMuxWithLogger(logger.Get())

		Convey("When a request carries no request id", func() {
			w := get(mux, "/healthz")

			Convey("Then one should be generated and echoed", func() {
				So(w.Header().Get(api.HeaderRequestID), ShouldHaveLength, 36)
			})
		})

		Convey("When a request carries a request id", func() {
			req := httptest.NewRequest(http.MethodGet, "/fetch-paginated?page=1&limit=1", http.NoBody)
			req.Header.Set(api.HeaderRequestID, "req-42")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Convey("Then it should be echoed and logged", func() {
				So(w.Header().Get(api.HeaderRequestID), ShouldEqual, "req-42")
				entries := logs.FilterMessage("http request").All()
				So(entries, ShouldHaveLength, 1)
				fields := entries[0].ContextMap()
				So(fields["request_id"], ShouldEqual, "req-42")
				So(fields["path"], ShouldEqual, "/fetch-paginated")
				So(fields["status"], ShouldEqual, int64(200))
			})
		})

		Convey("When a request is rejected", func() {
			_ = get(mux, "/fetch-sorted?sortKey=nope")

			Convey("Then the access log should carry the 400", func() {
				entries := logs.FilterMessage("http request").All()
				So(entries, ShouldHaveLength, 1)
				So(entries[0].ContextMap()["status"], ShouldEqual, int64(400))
			})
		})
	})
}

func newServiceMuxWithLogger(l logger.Logger) (*http.ServeMux, *stubFetcher) {
	var records []trip.Record
	if err := json.Unmarshal([]byte(upstreamList), &records); err != nil {
		panic(err)
	}
	f := &stubFetcher{records: records}
	return newMux(service.New(service.WithFetcher(f)), api.WithServerLogger(l)), f
}

func TestOpError(t *testing.T) {
	Convey("Given errors built by the op helpers", t, func() {
		cause := errors.New("page=\"x\" not an integer")

		Convey("NewKind should match its kind", func() {
			err := api.NewKind("api.op", api.ErrInvalidQueryParam)
			So(errors.Is(err, api.ErrInvalidQueryParam), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: invalid query parameter")
		})

		Convey("WrapKind should match both kind and cause", func() {
			err := api.WrapKind("api.op", api.ErrInvalidQueryParam, cause)
			So(errors.Is(err, api.ErrInvalidQueryParam), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, `api.op: invalid query parameter: page="x" not an integer`)
		})

		Convey("Wrap should keep nil as nil", func() {
			So(api.Wrap("api.op", nil), ShouldBeNil)
			So(errors.Is(api.Wrap("api.op", cause), cause), ShouldBeTrue)
		})
	})
}
