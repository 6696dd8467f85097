package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nextgen/internal/common/ratelimit"
	"nextgen/internal/execution/model"
	"nextgen/internal/execution/service"
	"nextgen/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, req model.RunRequest) (int, response.Body) {
	return http.StatusOK, response.SuccessBody("ok", "", false)
}

func (stubRunner) Languages(ctx context.Context) []service.LanguageInfo {
	return []service.LanguageInfo{{ID: "c", Name: "C", Version: "c11"}}
}

func (stubRunner) Stats() (int64, int64) { return 0, 0 }

func testConfig() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

func TestRouterServesRunAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "runner_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	router := buildRouter(testConfig(), stubRunner{}, nil, registry)

	for _, path := range []string{"/run", "/api/v1/run"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"code":"x","language":"c"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", path, rec.Code)
		}
		if rec.Header().Get("X-Trace-Id") == "" {
			t.Fatalf("%s: expected trace header", path)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "runner_test_total 1") {
		t.Fatalf("unexpected metrics response: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected health status: %d", rec.Code)
	}
}

func TestRouterThrottlesRun(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := ratelimit.NewLocalLimiter(ratelimit.Policy{Max: 1, Window: time.Hour})
	router := buildRouter(testConfig(), stubRunner{}, limiter, prometheus.NewRegistry())

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"code":"x","language":"c"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes: %v", codes)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health must not be throttled: %d", rec.Code)
	}
}

func TestBuildLimiterDisabledByDefault(t *testing.T) {
	limiter, closeFn := buildLimiter(testConfig())
	defer closeFn()
	if limiter != nil {
		t.Fatalf("expected no limiter when rate limiting is off")
	}
}
