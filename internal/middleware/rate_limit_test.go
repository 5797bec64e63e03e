package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "203.0.113.7:4321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_BlocksAfterWindowBudget(t *testing.T) {
	handler := RateLimit(2, time.Minute)(okHandler())

	for i := 0; i < 2; i++ {
		if rec := doRequest(handler, "/media/upload"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := doRequest(handler, "/media/upload")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after budget exhausted, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 response is missing Retry-After")
	}
}

func TestRateLimit_ExemptPathsBypassBudget(t *testing.T) {
	handler := RateLimit(1, time.Minute, "/healthz", "/metrics")(okHandler())

	// 用满同一来源的预算
	if rec := doRequest(handler, "/media/upload"); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}
	if rec := doRequest(handler, "/media/upload"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	// 豁免路径既不受限也不占预算
	for i := 0; i < 5; i++ {
		if rec := doRequest(handler, "/healthz"); rec.Code != http.StatusOK {
			t.Fatalf("healthz probe %d: expected 200, got %d", i, rec.Code)
		}
		if rec := doRequest(handler, "/metrics"); rec.Code != http.StatusOK {
			t.Fatalf("metrics scrape %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestRateLimit_DisabledPassesThrough(t *testing.T) {
	handler := RateLimit(0, time.Minute)(okHandler())

	for i := 0; i < 10; i++ {
		if rec := doRequest(handler, "/media/upload"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}
