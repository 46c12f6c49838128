package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"traffic-gateway/internal/logger"
	"traffic-gateway/middleware/alert"
	"traffic-gateway/middleware/metrics"
	"traffic-gateway/middleware/storage"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
)

// Handler expõe o estado da camada para dashboards de operação.
type Handler struct {
	Storage   storage.StatusReporter
	Collector *metrics.Collector
	Alerts    *alert.Engine
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Routes registra /health, /metrics, /metrics/slow e /alerts.
func (h *Handler) Routes(r chi.Router) {
	if h.Clock == nil {
		h.Clock = clock.New()
	}
	if h.Logger == nil {
		h.Logger = logger.Logger("ops")
	}
	r.Get("/health", h.handleHealth)
	r.Get("/metrics", h.handleMetrics)
	r.Get("/metrics/slow", h.handleSlow)
	r.Get("/alerts", h.handleAlerts)
	r.Delete("/alerts", h.handleClearAlerts)
}

type healthResponse struct {
	Status    string         `json:"status"`
	Redis     storage.Status `json:"redis"`
	Timestamp time.Time      `json:"timestamp"`
}

func (h *Handler) storageStatus() storage.Status {
	if h.Storage == nil {
		return storage.Status{}
	}
	return h.Storage.Status()
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := h.storageStatus()
	resp := healthResponse{Status: "healthy", Redis: st, Timestamp: h.Clock.Now().UTC()}
	status := http.StatusOK
	if !st.IsConnected {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type metricsResponse struct {
	Metrics struct {
		Minute metrics.MinuteBucket `json:"minute"`
		Hour   metrics.HourBucket   `json:"hour"`
	} `json:"metrics"`
	Redis     storage.Status `json:"redis"`
	Alerts    alert.Stats    `json:"alerts"`
	Timestamp time.Time      `json:"timestamp"`
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var resp metricsResponse
	resp.Alerts = alert.Stats{ByType: map[string]int{}}

	if h.Collector != nil {
		snap := h.Collector.Aggregated(r.Context())
		resp.Metrics.Minute = snap.Minute
		resp.Metrics.Hour = snap.Hour

		// o pull também avalia o minuto corrente (só taxa de erro)
		if h.Alerts != nil {
			h.Alerts.Evaluate(r.Context(), alert.Observation{
				TotalRequests: snap.Minute.TotalRequests,
				ErrorRate:     snap.Minute.ErrorRate,
			})
		}
	}
	if h.Alerts != nil {
		st, err := h.Alerts.Statistics()
		if err != nil {
			h.Logger.Warn("alert statistics unavailable", "err", err)
		} else {
			resp.Alerts = st
		}
	}
	resp.Redis = h.storageStatus()
	resp.Timestamp = h.Clock.Now().UTC()
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSlow(w http.ResponseWriter, r *http.Request) {
	slow := []metrics.SlowRequest{}
	if h.Collector != nil {
		slow = h.Collector.SlowRequests(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]any{"slowRequests": slow, "count": len(slow)})
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	recent := []alert.Record{}
	if h.Alerts != nil {
		out, err := h.Alerts.RecentAlerts(limit)
		if err != nil {
			h.Logger.Error("reading alert log failed", "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to read alerts"})
			return
		}
		if out != nil {
			recent = out
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": recent, "count": len(recent)})
}

func (h *Handler) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	if h.Alerts != nil {
		if err := h.Alerts.ClearLog(); err != nil {
			h.Logger.Error("clearing alert log failed", "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to clear alerts"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// AlertHook liga o coletor ao engine: depois de cada requisição avalia o minuto corrente
// junto com a duração da própria requisição. Serve como metrics.Options.OnRecorded.
func AlertHook(c *metrics.Collector, e *alert.Engine) func(*http.Request, metrics.Sample) {
	return func(r *http.Request, s metrics.Sample) {
		if c == nil || e == nil {
			return
		}
		ctx := context.WithoutCancel(r.Context())
		snap := c.Aggregated(ctx)
		e.Evaluate(ctx, alert.Observation{
			Endpoint:      s.Method + " " + s.Route,
			TotalRequests: snap.Minute.TotalRequests,
			ErrorRate:     snap.Minute.ErrorRate,
			Duration:      s.Duration,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
