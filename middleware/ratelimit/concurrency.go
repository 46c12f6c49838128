package ratelimit

import (
	"log/slog"
	"net/http"
	"time"

	"traffic-gateway/internal/logger"
	"traffic-gateway/middleware/ratelimit/application"
	"traffic-gateway/middleware/ratelimit/infra"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_inflight_requests",
		Help: "Requests currently holding a concurrency slot",
	})
	concurrencyRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_concurrency_rejected_total",
		Help: "Requests rejected because no concurrency slot was available in time",
	})
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	Logger         *slog.Logger
}

func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.Logger == nil {
		opts.Logger = logger.Logger("ratelimit")
	}

	svc := application.ConcurrencyService{
		Pool:           infra.NewChanPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
	}
	clk := clock.New()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				concurrencyRejected.Inc()
				opts.Logger.Warn("no concurrency slot available",
					"path", r.URL.Path, "saturation", svc.Saturation())
				writeJSONError(w, opts.RejectStatus, "Server is at capacity, please try again later.", clk.Now())
				return
			}
			inFlightGauge.Inc()
			defer func() {
				inFlightGauge.Dec()
				release()
			}()

			next.ServeHTTP(w, r)
		})
	}
}
