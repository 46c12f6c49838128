package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"traffic-gateway/internal/logger"
)

func TestAuthPreset_LimitsBySourceIP(t *testing.T) {
	store, clk := newTestStore(t)
	calls := 0
	h := Auth(store, AuthPolicy, PresetOptions{Logger: logger.Discard(), Clock: clk})(okHandler(&calls))

	for i := 0; i < AuthPolicy.MaxRequests; i++ {
		if w := doRequest(h, "10.0.0.1:1"); w.Code != http.StatusOK {
			t.Fatalf("expected attempt %d to pass, got %d", i+1, w.Code)
		}
	}
	if w := doRequest(h, "10.0.0.1:1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d attempts, got %d", AuthPolicy.MaxRequests, w.Code)
	}
	// outro IP tem a própria janela
	if w := doRequest(h, "10.0.0.2:1"); w.Code != http.StatusOK {
		t.Fatalf("expected a different ip to pass, got %d", w.Code)
	}
}

func TestPerActorPreset_SeparatesRoutes(t *testing.T) {
	store, clk := newTestStore(t)
	policy := ActorPolicy
	policy.MaxRequests = 1

	calls := 0
	h := PerActor(store, policy, PresetOptions{KeyHeader: "X-User-ID", Logger: logger.Discard(), Clock: clk})(okHandler(&calls))

	do := func(path string) int {
		r := httptest.NewRequest(http.MethodGet, "http://example"+path, nil)
		r.Header.Set("X-User-ID", "u-1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	if code := do("/a"); code != http.StatusOK {
		t.Fatalf("expected 200 on /a, got %d", code)
	}
	if code := do("/b"); code != http.StatusOK {
		t.Fatalf("expected 200 on /b, got %d", code)
	}
	if code := do("/a"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on second /a, got %d", code)
	}
}

func TestGlobalPreset_SharesOneWindow(t *testing.T) {
	store, clk := newTestStore(t)
	policy := GlobalPolicy
	policy.MaxRequests = 2

	calls := 0
	h := Global(store, policy, PresetOptions{Logger: logger.Discard(), Clock: clk})(okHandler(&calls))

	doRequest(h, "10.0.0.1:1")
	doRequest(h, "10.0.0.2:1")
	if w := doRequest(h, "10.0.0.3:1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the shared window to be full, got %d", w.Code)
	}
}
