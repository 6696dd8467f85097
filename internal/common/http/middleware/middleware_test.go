package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nextgen/internal/common/ratelimit"
	"nextgen/pkg/errors"
	"nextgen/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.Any("/run", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"trace":   c.Request.Context().Value(contextkey.TraceID),
			"request": c.Request.Context().Value(contextkey.RequestID),
		})
	})
	return r
}

func TestTraceContextGeneratesIDs(t *testing.T) {
	r := newRouter(TraceContextMiddleware())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/run", nil))

	traceID := rec.Header().Get("X-Trace-Id")
	if traceID == "" || rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing id headers: %v", rec.Header())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["trace"] != traceID {
		t.Fatalf("context trace id %q does not match header %q", body["trace"], traceID)
	}
}

func TestTraceContextReusesIncomingID(t *testing.T) {
	r := newRouter(TraceContextMiddleware())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/run", nil)
	req.Header.Set("X-Trace-Id", "trace-from-frontend")
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Trace-Id"); got != "trace-from-frontend" {
		t.Fatalf("unexpected trace id: %s", got)
	}
}

func TestCORSWildcard(t *testing.T) {
	r := newRouter(CORSMiddleware(CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/run", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected allow origin: %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get("Access-Control-Allow-Methods") != "GET,POST" {
		t.Fatalf("unexpected allow methods: %q", rec.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestCORSRejectsUnknownOriginPreflight(t *testing.T) {
	r := newRouter(CORSMiddleware(CORSConfig{Enabled: true, AllowedOrigins: []string{"https://nextgen.example"}}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/run", nil)
	req.Header.Set("Origin", "https://evil.example")
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set("Origin", "https://nextgen.example")
	r.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://nextgen.example" {
		t.Fatalf("expected echoed origin, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

type limiterFunc func(ctx context.Context, key string) error

func (f limiterFunc) Allow(ctx context.Context, key string) error { return f(ctx, key) }

func TestRateLimitMiddleware(t *testing.T) {
	limiter := ratelimit.NewLocalLimiter(ratelimit.Policy{Max: 1, Window: time.Minute})
	r := newRouter(RateLimitMiddleware(limiter))

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/run", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request: %d", first.Code)
	}
	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/run", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
}

func TestRateLimitFailsOpenOnCacheError(t *testing.T) {
	r := newRouter(RateLimitMiddleware(limiterFunc(func(ctx context.Context, key string) error {
		return errors.New(errors.CacheError)
	})))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected request to pass, got %d", rec.Code)
	}
}
