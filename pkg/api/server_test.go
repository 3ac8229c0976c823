package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/buildresult"
	"github.com/platinummonkey/webcompile/pkg/compilation/cache"
	"github.com/platinummonkey/webcompile/pkg/compilation/guard"
	"github.com/platinummonkey/webcompile/pkg/compilation/orchestrator"
	"github.com/platinummonkey/webcompile/pkg/history"
	"github.com/platinummonkey/webcompile/pkg/httputil"
	"github.com/platinummonkey/webcompile/pkg/middleware"
	"github.com/platinummonkey/webcompile/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuilder struct {
	mu          sync.Mutex
	results     map[string]*buildresult.Result
	errs        map[string]error
	cached      map[string]*buildresult.Result
	batches     []string
	invalidated []string
	assemblies  []string
	recycle     *guard.Recycler
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{
		results: make(map[string]*buildresult.Result),
		errs:    make(map[string]error),
		cached:  make(map[string]*buildresult.Result),
		recycle: guard.NewRecycler(3),
	}
}

func (f *fakeBuilder) GetOrBuild(_ context.Context, _ *guard.Session, vpath string) (*buildresult.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[vpath]; ok {
		return nil, err
	}
	if r, ok := f.results[vpath]; ok {
		return r, nil
	}
	return nil, compilation.ErrNotFound
}

func (f *fakeBuilder) Peek(_ context.Context, vpath string) (*buildresult.Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.cached[vpath]
	return r, ok
}

func (f *fakeBuilder) BatchCompileDirectory(_ context.Context, _ *guard.Session, dir string, _ bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, dir)
	if err, ok := f.errs[dir]; ok {
		return false, err
	}
	return true, nil
}

func (f *fakeBuilder) InvalidateDependency(_ context.Context, vpath string) []string {
	f.invalidated = append(f.invalidated, vpath)
	return []string{"a.aspx"}
}

func (f *fakeBuilder) InvalidateAssembly(_ context.Context, name string) []string {
	f.assemblies = append(f.assemblies, name)
	return nil
}

func (f *fakeBuilder) RequestRecycle(reason string) { f.recycle.Request(reason) }
func (f *fakeBuilder) Recycle() <-chan struct{}     { return f.recycle.Requested() }
func (f *fakeBuilder) RecycleReason() string        { return f.recycle.Reason() }
func (f *fakeBuilder) Recompilations() int64        { return f.recycle.Count() }
func (f *fakeBuilder) IsPrecompiled() bool          { return false }

type fakeHistory struct {
	filter history.Filter
}

func (h *fakeHistory) Search(_ context.Context, filter history.Filter) ([]*orchestrator.BuildRecord, error) {
	h.filter = filter
	return []*orchestrator.BuildRecord{{ID: "b1", Assembly: "App_Web_root", Language: "csharp", Success: true}}, nil
}

func (h *fakeHistory) Stats(context.Context, *time.Time) (*history.Stats, error) {
	return &history.Stats{Total: 4, Failures: 1, ByLanguage: map[string]int64{"csharp": 4}}, nil
}

func newTestServer(t *testing.T, b *fakeBuilder, opts Options) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	opts.Builder = b
	opts.Logger = logger
	s, err := NewServer(opts)
	require.NoError(t, err)
	return s
}

func do(s http.Handler, method, url string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(method, url, &buf))
	return w
}

func TestNewServer_RequiresBuilder(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestGetResult(t *testing.T) {
	b := newFakeBuilder()
	b.results["~/admin/list.aspx"] = buildresult.NewCompiledType("~/admin/list.aspx",
		compilation.Assembly{Name: "App_Web_admin", Path: "/codegen/App_Web_admin.dll"},
		"ASP.admin_list_aspx", []string{"~/admin/list.aspx"},
		buildresult.WithFlags(buildresult.FlagWatched))
	s := newTestServer(t, b, Options{})

	w := do(s, http.MethodGet, "/api/v1/results/admin/list.aspx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(httputil.RequestIDHeader))

	var view ResultView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "compiled-type", view.Kind)
	assert.Equal(t, "App_Web_admin", view.Assembly)
	assert.Equal(t, "ASP.admin_list_aspx", view.TypeName)
	assert.Equal(t, []string{"~/admin/list.aspx"}, view.Dependencies)
	assert.True(t, view.Watched)
}

func TestGetResult_Errors(t *testing.T) {
	b := newFakeBuilder()
	b.errs["~/bad.aspx"] = compilation.NewCompileError("~/bad.aspx", []compilation.Diagnostic{{
		Line: 2, Severity: compilation.SeverityError, Code: "CS1002", Message: "; expected",
	}})
	b.errs["~/loop.aspx"] = &compilation.CircularReferenceError{VirtualPath: "~/loop.aspx"}
	s := newTestServer(t, b, Options{})

	w := do(s, http.MethodGet, "/api/v1/results/bad.aspx", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Diagnostics, 1)
	assert.Equal(t, "CS1002", resp.Diagnostics[0].Code)

	assert.Equal(t, http.StatusConflict, do(s, http.MethodGet, "/api/v1/results/loop.aspx", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/v1/results/missing.aspx", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/v1/results/a.aspx?compile=maybe", nil).Code)
}

func TestGetResult_PeekOnly(t *testing.T) {
	b := newFakeBuilder()
	b.cached["~/a.aspx"] = buildresult.NewNoCompile("~/a.aspx", []string{"~/a.aspx"})
	b.results["~/b.aspx"] = buildresult.NewNoCompile("~/b.aspx", nil)
	s := newTestServer(t, b, Options{})

	w := do(s, http.MethodGet, "/api/v1/results/a.aspx?compile=false", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "no-compile")

	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/v1/results/b.aspx?compile=false", nil).Code)
}

func TestBatchDirectory(t *testing.T) {
	b := newFakeBuilder()
	var errs compilation.ErrorList
	errs.Add(&compilation.ParseError{VirtualPath: "~/broken/a.aspx", Message: "bad directive"})
	errs.Add(compilation.NewCompileError("~/broken/b.aspx", nil))
	b.errs["~/broken"] = errs.Err()
	s := newTestServer(t, b, Options{})

	w := do(s, http.MethodPost, "/api/v1/batches", BatchRequest{Directory: "~/admin/"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Compiled)
	assert.Equal(t, "~/admin", resp.Directory)

	w = do(s, http.MethodPost, "/api/v1/batches", BatchRequest{Directory: "~/broken"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var errResp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Len(t, errResp.Errors, 2)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/v1/batches", BatchRequest{}).Code)
}

func TestRateLimitedCompileEndpoints(t *testing.T) {
	b := newFakeBuilder()
	s := newTestServer(t, b, Options{
		RateLimiter: middleware.NewRateLimiter(&middleware.RateLimitConfig{
			RequestsPerWindow: 1,
			WindowDuration:    time.Minute,
		}),
	})

	w := do(s, http.MethodPost, "/api/v1/batches", BatchRequest{Directory: "~/admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = do(s, http.MethodPost, "/api/v1/batches", BatchRequest{Directory: "~/admin"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Len(t, b.batches, 1)

	// Endpoints that never compile are not limited
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/v1/stats", nil).Code)
}

func TestInvalidate(t *testing.T) {
	b := newFakeBuilder()
	s := newTestServer(t, b, Options{})

	w := do(s, http.MethodPost, "/api/v1/invalidations", InvalidateRequest{Path: "~/a.aspx"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":["a.aspx"]}`, w.Body.String())
	assert.Equal(t, []string{"~/a.aspx"}, b.invalidated)

	w = do(s, http.MethodPost, "/api/v1/invalidations", InvalidateRequest{Assembly: "App_Web_root"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":[]}`, w.Body.String())
	assert.Equal(t, []string{"App_Web_root"}, b.assemblies)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/v1/invalidations", InvalidateRequest{}).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/v1/invalidations",
		InvalidateRequest{Path: "~/a.aspx", Assembly: "App_Web_root"}).Code)
}

func TestListBuilds(t *testing.T) {
	b := newFakeBuilder()
	assert.Equal(t, http.StatusNotFound, do(newTestServer(t, b, Options{}), http.MethodGet, "/api/v1/builds", nil).Code)

	h := &fakeHistory{}
	s := newTestServer(t, b, Options{History: h})

	w := do(s, http.MethodGet, "/api/v1/builds?assembly=App_Web_root&failed=true&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "App_Web_root", h.filter.Assembly)
	assert.Equal(t, 5, h.filter.Limit)
	require.NotNil(t, h.filter.Success)
	assert.False(t, *h.filter.Success)

	var records []orchestrator.BuildRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "b1", records[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/v1/builds?limit=x", nil).Code)
}

func TestStatsAndRecycle(t *testing.T) {
	b := newFakeBuilder()
	s := newTestServer(t, b, Options{
		History:    &fakeHistory{},
		CacheStats: func() cache.Stats { return cache.Stats{Hits: 3, Misses: 1, HitRate: 0.75} },
	})

	w := do(s, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.NotNil(t, stats.Cache)
	assert.Equal(t, int64(3), stats.Cache.Hits)
	require.NotNil(t, stats.History)
	assert.Equal(t, int64(4), stats.History.Total)
	assert.False(t, stats.Recycle.Requested)

	w = do(s, http.MethodPost, "/api/v1/recycle", RecycleRequest{Reason: "deploy"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(s, http.MethodGet, "/api/v1/recycle", nil)
	var status RecycleStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Requested)
	assert.Equal(t, "deploy", status.Reason)
}

func TestHealthAndMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	s := newTestServer(t, newFakeBuilder(), Options{
		Health:   observability.NewHealthChecker(nil, nil, t.TempDir(), "test"),
		Metrics:  metrics,
		Gatherer: registry,
	})

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health/live", nil).Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health/ready", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/v1/results/x.aspx", nil).Code)

	w := do(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `webcompile_http_requests_total{method="GET",path="/api/v1/results/{path:.*}",status="404"} 1`)
}

func TestRecoversFromPanics(t *testing.T) {
	b := newFakeBuilder()
	s := newTestServer(t, b, Options{})
	s.Router().HandleFunc("/boom", func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	})

	assert.Equal(t, http.StatusInternalServerError, do(s, http.MethodGet, "/boom", nil).Code)
}
