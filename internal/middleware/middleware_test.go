package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"adc-service/internal/config"
	"adc-service/internal/utils"
)

func newEngine(t *testing.T, origins []string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	engine := gin.New()
	engine.Use(RecoveryMiddleware(logger))
	engine.Use(RequestIDMiddleware())
	engine.Use(LoggingMiddleware(utils.NewServiceLogger(logger, "http-server")))
	engine.Use(CORSMiddleware(&config.ServerConfig{AllowedOrigins: origins}))

	engine.GET("/ok", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})
	engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	return engine
}

func TestRequestID(t *testing.T) {
	engine := newEngine(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Body.String() != "req-42" || rec.Header().Get(RequestIDHeader) != "req-42" {
		t.Fatalf("body %q header %q", rec.Body.String(), rec.Header().Get(RequestIDHeader))
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	generated := rec.Header().Get(RequestIDHeader)
	if generated == "" || generated != rec.Body.String() {
		t.Fatalf("generated id %q, body %q", generated, rec.Body.String())
	}
}

func TestRecoveryCarriesRequestID(t *testing.T) {
	engine := newEngine(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body utils.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.RequestID != "req-7" || body.Error == nil || body.Error.Code != "INTERNAL_ERROR" {
		t.Fatalf("response = %+v", body)
	}
}

func TestCORS(t *testing.T) {
	engine := newEngine(t, []string{"http://lab.local"})

	req := httptest.NewRequest(http.MethodOptions, "/ok", nil)
	req.Header.Set("Origin", "http://lab.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://lab.local" {
		t.Fatalf("allowed origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("Origin", "http://elsewhere")
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign origin status = %d", rec.Code)
	}
}
