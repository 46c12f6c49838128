package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"traffic-gateway/internal/logger"
	"traffic-gateway/middleware/storage"

	"github.com/prometheus/client_golang/prometheus"
)

func testConfig(t *testing.T) config {
	t.Helper()
	return config{
		rateEnabled:      true,
		globalWindow:     time.Minute,
		globalMax:        1000,
		userWindow:       time.Minute,
		userMax:          1000,
		authWindow:       time.Minute,
		authMax:          2,
		concurrencyMax:   10,
		cacheTTL:         time.Minute,
		alertLogPath:     filepath.Join(t.TempDir(), "alerts.log"),
		alertDedupWindow: 5 * time.Minute,
	}
}

func newTestGateway(t *testing.T, cfg config, routes []routeRule) (http.Handler, *int) {
	t.Helper()
	calls := 0
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = io.WriteString(w, "upstream "+r.URL.Path)
	})
	store := storage.New(storage.Options{Logger: logger.Discard()})
	return newGateway(cfg, gatewayDeps{Store: store, Upstream: upstream, Routes: routes}), &calls
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	r.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestGateway_ProxiesWithRateLimitHeaders(t *testing.T) {
	h, calls := newTestGateway(t, testConfig(t), nil)

	w := do(h, http.MethodGet, "/api/periods")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "upstream /api/periods" {
		t.Fatalf("unexpected body %q", got)
	}
	if w.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatalf("expected X-RateLimit-Limit header")
	}
	if *calls != 1 {
		t.Fatalf("expected upstream to be called once, got %d", *calls)
	}
}

func TestGateway_AuthRouteIsLimitedBySourceIP(t *testing.T) {
	h, _ := newTestGateway(t, testConfig(t), []routeRule{{Prefix: "/api/admin/login", Auth: true}})

	for i := 0; i < 2; i++ {
		if w := do(h, http.MethodPost, "/api/admin/login"); w.Code != http.StatusOK {
			t.Fatalf("expected attempt %d to pass, got %d", i+1, w.Code)
		}
	}
	if w := do(h, http.MethodPost, "/api/admin/login"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	// outras rotas não usam a janela de auth
	if w := do(h, http.MethodGet, "/api/periods"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 outside auth prefix, got %d", w.Code)
	}
}

func TestGateway_CachedRoute(t *testing.T) {
	h, calls := newTestGateway(t, testConfig(t), []routeRule{{Prefix: "/api/periods", Cache: time.Minute}})

	if w := do(h, http.MethodGet, "/api/periods"); w.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("expected MISS, got %q", w.Header().Get("X-Cache"))
	}

	deadline := time.Now().Add(time.Second)
	for {
		w := do(h, http.MethodGet, "/api/periods")
		if w.Header().Get("X-Cache") == "HIT" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected a HIT once the entry is persisted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if *calls < 1 {
		t.Fatalf("expected upstream to be called at least once")
	}
}

func TestGateway_OpsHealthReportsDegraded(t *testing.T) {
	h, calls := newTestGateway(t, testConfig(t), nil)

	w := do(h, http.MethodGet, "/ops/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without redis, got %d", w.Code)
	}
	if *calls != 0 {
		t.Fatalf("ops routes must not reach the upstream")
	}
}

func TestGateway_RateDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.rateEnabled = false
	h, _ := newTestGateway(t, cfg, []routeRule{{Prefix: "/login", Auth: true}})

	for i := 0; i < 5; i++ {
		if w := do(h, http.MethodPost, "/login"); w.Code != http.StatusOK {
			t.Fatalf("expected 200 with rate limit disabled, got %d", w.Code)
		}
	}
}

func TestGateway_RuleRoutesShareOneMetricsLabel(t *testing.T) {
	h, _ := newTestGateway(t, testConfig(t), []routeRule{{Prefix: "/api/periods"}})

	for _, p := range []string{"/api/periods/1", "/api/periods/2", "/api/periods/3"} {
		if w := do(h, http.MethodGet, p); w.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", p, w.Code)
		}
	}

	routes := requestRouteLabels(t)
	if !routes["/api/periods"] {
		t.Fatalf("expected the rule prefix as route label, got %v", routes)
	}
	for r := range routes {
		if strings.HasPrefix(r, "/api/periods/") {
			t.Fatalf("raw path leaked into the route label: %q", r)
		}
	}
}

// requestRouteLabels lista os valores de "route" já vistos em gateway_http_requests_total.
func requestRouteLabels(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	out := map[string]bool{}
	for _, mf := range families {
		if mf.GetName() != "gateway_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "route" {
					out[lp.GetValue()] = true
				}
			}
		}
	}
	return out
}
