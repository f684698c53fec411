package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/GoPolymarket/reqlog/internal/config"
	"github.com/GoPolymarket/reqlog/internal/middleware"
	"github.com/GoPolymarket/reqlog/internal/model"
	"github.com/GoPolymarket/reqlog/internal/pkg/logger"
	"github.com/GoPolymarket/reqlog/internal/reqctx"
	"github.com/GoPolymarket/reqlog/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *gin.Engine
	logs   *service.RequestLogService
	out    *bytes.Buffer
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		RequestLog: config.RequestLogConfig{
			Category:        "request",
			ExcludePrefixes: []string{"/webjars", "/static"},
		},
		RequestID: config.RequestIDConfig{Header: "X-Request-ID", TrustInbound: true, Echo: true},
		Metrics:   config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Admin:     config.AdminConfig{Key: "admin-key", RatePerSecond: 100, Burst: 100},
	}
	if mutate != nil {
		mutate(cfg)
	}

	out := &bytes.Buffer{}
	logs := service.NewRequestLogService(service.RequestLogOptions{Logger: logger.New(out, "info")})
	t.Cleanup(logs.Close)

	store := reqctx.NewStore(reqctx.Options{
		Header:       cfg.RequestID.Header,
		TrustInbound: cfg.RequestID.TrustInbound,
		Echo:         cfg.RequestID.Echo,
	})
	return &testServer{
		router: NewRouter(Deps{Config: cfg, Store: store, Logs: logs}),
		logs:   logs,
		out:    out,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) records(t *testing.T) []model.RequestLogRecord {
	t.Helper()
	stored, err := s.logs.Recent(context.Background(), "", 100)
	require.NoError(t, err)
	out := make([]model.RequestLogRecord, 0, len(stored))
	for _, entry := range stored {
		var rec model.RequestLogRecord
		require.NoError(t, json.Unmarshal(entry.Record, &rec))
		out = append(out, rec)
	}
	return out
}

func TestEchoIsLoggedWithEchoedRequestID(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/v1/echo?id=42&id=43", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	rid := rec.Header().Get("X-Request-ID")
	require.NotEmpty(t, rid)

	records := s.records(t)
	require.Len(t, records, 1)
	got := records[0]
	assert.Equal(t, rid, got.RequestID)
	assert.Equal(t, "/v1/echo", got.API)
	assert.Equal(t, map[string][]string{"id": {"42", "43"}}, got.Parameters)
	assert.Equal(t, http.StatusOK, got.ResponseStatus)
	assert.JSONEq(t, rec.Body.String(), got.Response)
	assert.Contains(t, s.out.String(), `"category":"request"`)
}

func TestInboundRequestIDIsReused(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/echo", nil)
	req.Header.Set("X-Request-ID", "upstream-1")

	rec := s.do(req)
	assert.Equal(t, "upstream-1", rec.Header().Get("X-Request-ID"))
	records := s.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "upstream-1", records[0].RequestID)
}

func TestStaticAndAdminTrafficIsNotLogged(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	s := newTestServer(t, func(cfg *config.Config) { cfg.Server.StaticDir = dir })

	rec := s.do(httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/admin/request-logs", nil)
	req.Header.Set(middleware.HeaderAdminKey, "admin-key")
	rec = s.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Empty(t, s.records(t))
}

func TestAdminListReturnsRecords(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(httptest.NewRequest(http.MethodGet, "/v1/echo?x=1", nil))
	s.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	req := httptest.NewRequest(http.MethodGet, "/admin/request-logs?category=request&limit=1", nil)
	req.Header.Set(middleware.HeaderAdminKey, "admin-key")
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []model.StoredRequestLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	var newest model.RequestLogRecord
	require.NoError(t, json.Unmarshal(entries[0].Record, &newest))
	assert.Equal(t, "/health", newest.API)
}

func TestAdminRequiresKey(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/admin/request-logs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/request-logs?limit=0", nil)
	req.Header.Set(middleware.HeaderAdminKey, "admin-key")
	rec = s.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Admin.Key = "" })
	req := httptest.NewRequest(http.MethodGet, "/admin/request-logs", nil)
	req.Header.Set(middleware.HeaderAdminKey, "anything")
	rec := s.do(req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminRateLimited(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Admin.RatePerSecond = 0.001
		cfg.Admin.Burst = 1
	})
	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/admin/request-logs", nil)
		req.Header.Set(middleware.HeaderAdminKey, "admin-key")
		return s.do(req).Code
	}
	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}

func TestStreamDisabled(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/admin/request-logs/stream", nil)
	req.Header.Set(middleware.HeaderAdminKey, "admin-key")
	rec := s.do(req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func echoFrom(peer, forwarded string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/echo", nil)
	req.RemoteAddr = peer
	req.Header.Set("X-Forwarded-For", forwarded)
	return req
}

func TestForwardedForIgnoredFromUntrustedPeer(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(echoFrom("203.0.113.9:5555", "6.6.6.6"))

	records := s.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "203.0.113.9", records[0].IP)
}

func TestForwardedForHonouredFromTrustedProxy(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.TrustedProxies = []string{"203.0.113.0/24"}
	})
	s.do(echoFrom("203.0.113.9:5555", "6.6.6.6"))

	records := s.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "6.6.6.6", records[0].IP)
}

func TestAdminRateLimitIgnoresForwardedFor(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Admin.RatePerSecond = 0.001
		cfg.Admin.Burst = 1
	})
	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin/request-logs", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		req.Header.Set("X-Forwarded-For", forwarded)
		req.Header.Set(middleware.HeaderAdminKey, "admin-key")
		return s.do(req).Code
	}
	assert.Equal(t, http.StatusOK, send("1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("2.2.2.2"))
}

func TestDefaultExcludesUsePlainPrefixes(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(httptest.NewRequest(http.MethodGet, "/webjars/jquery.js", nil))
	s.do(httptest.NewRequest(http.MethodGet, "/static", nil))
	assert.Empty(t, s.records(t))

	s.do(httptest.NewRequest(http.MethodGet, "/v1/echo", nil))
	assert.Len(t, s.records(t), 1)
}
