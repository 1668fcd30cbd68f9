package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func TestObservabilityAssignsRequestIDAndRecordsRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	obs := NewObservability(ObservabilityConfig{LogRequests: true, Metrics: true}, logger)

	r := chi.NewRouter()
	r.Use(obs.Middleware)
	r.Get("/v1/accounts/{address}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/accounts/0xabc", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", res.Code)
	}
	if _, err := uuid.Parse(res.Header().Get(RequestIDHeader)); err != nil {
		t.Fatalf("expected generated request id, got %q", res.Header().Get(RequestIDHeader))
	}
	if !strings.Contains(buf.String(), `"route":"/v1/accounts/{address}"`) {
		t.Fatalf("expected route pattern in log, got %s", buf.String())
	}
}

func TestObservabilityKeepsValidRequestID(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{}, nil)
	handler := obs.Middleware(okHandler())
	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, id)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Header().Get(RequestIDHeader) != id {
		t.Fatalf("expected request id to be echoed")
	}

	req.Header.Set(RequestIDHeader, "not-a-uuid")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if got := res.Header().Get(RequestIDHeader); got == "not-a-uuid" || got == "" {
		t.Fatalf("expected malformed request id to be replaced, got %q", got)
	}
}

func TestCORS(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example"}})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/debt/mint", nil)
	req.Header.Set("Origin", "https://app.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent || res.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("unexpected preflight response %d %v", res.Code, res.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/collateral", nil)
	req.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected foreign origin to be refused")
	}

	open := CORS(CORSConfig{})(okHandler())
	res = httptest.NewRecorder()
	open.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	if res.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin")
	}
}
