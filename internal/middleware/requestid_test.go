package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mwaldron/foreman/internal/logger"
)

func TestRequestIDGenerated(t *testing.T) {
	var captured string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = logger.RequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if captured == "" {
		t.Fatal("expected a generated request ID in context")
	}
	if len(captured) != 32 {
		t.Errorf("expected 32-char hex ID, got %q", captured)
	}
	if rec.Header().Get("X-Request-ID") != captured {
		t.Error("expected response header to carry the request ID")
	}
}

func TestRequestIDPropagated(t *testing.T) {
	var captured string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = logger.RequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if captured != "upstream-id" {
		t.Fatalf("expected upstream-id, got %q", captured)
	}
}
