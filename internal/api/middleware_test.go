package api

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

func TestCronAuthRejectsWithoutSecret(t *testing.T) {
	h := CronAuthMiddleware("")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/cron/dispatch", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	// No configured secret means nobody gets in, not everybody.
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 when secret unset", rr.Code)
	}
}

func TestCronAuthRejectsBadCredential(t *testing.T) {
	h := CronAuthMiddleware("s3cret")(okHandler())

	for _, header := range []string{"", "Bearer wrong", "Basic s3cret", "s3cret"} {
		req := httptest.NewRequest(http.MethodPost, "/cron/dispatch", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want 401", header, rr.Code)
		}
	}
}

func TestCronAuthAcceptsSecret(t *testing.T) {
	h := CronAuthMiddleware("s3cret")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/cron/dispatch", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestTimingMiddlewareSetsHeader(t *testing.T) {
	h := TimingMiddleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("X-Process-Time") == "" {
		t.Fatalf("missing X-Process-Time header")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	// Tiny budget: 2 requests per minute, burst 1.
	h := RateLimitMiddleware(2, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:1234"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("burst exceeded: status = %d, want 429", rr.Code)
	}

	// A different client has its own bucket.
	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "198.51.100.9:4321"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, other)
	if rr.Code != http.StatusOK {
		t.Fatalf("separate client: status = %d, want 200", rr.Code)
	}
}
