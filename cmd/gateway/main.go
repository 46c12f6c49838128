package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"traffic-gateway/internal/logger"
	"traffic-gateway/middleware/alert"
	"traffic-gateway/middleware/cache"
	"traffic-gateway/middleware/metrics"
	"traffic-gateway/middleware/ops"
	"traffic-gateway/middleware/ratelimit"
	"traffic-gateway/middleware/ratelimit/domain"
	"traffic-gateway/middleware/ratelimit/infra"
	"traffic-gateway/middleware/storage"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	log := logger.Logger("gateway")

	cfg, err := readConfig()
	if err != nil {
		log.Error("config error", "err", err)
		os.Exit(1)
	}
	routes, err := loadRoutes(cfg.routesFile)
	if err != nil {
		log.Error("routes error", "err", err)
		os.Exit(1)
	}

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Error("invalid UPSTREAM_URL", "err", err)
		os.Exit(1)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("proxy error", "path", r.URL.Path, "err", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := storage.New(storage.Options{
		Addr:            cfg.redisAddr(),
		Password:        cfg.redisPassword,
		DB:              cfg.redisDB,
		ConnectTimeout:  cfg.redisConnectTimeout,
		ConnectAttempts: cfg.redisConnectTries,
		MemoryCapacity:  cfg.memoryCapacity,
	})
	if err := store.Connect(ctx); err != nil {
		// segue degradado: o adapter atende da memória
		log.Warn("starting without redis", "err", err)
	}
	defer func() { _ = store.Disconnect() }()

	var notifier alert.Notifier
	if cfg.alertNATSURL != "" {
		n, err := alert.NewNATSNotifier(cfg.alertNATSURL, cfg.alertNATSSubject)
		if err != nil {
			log.Warn("nats unavailable, alerts will not be published", "url", cfg.alertNATSURL, "err", err)
		} else {
			defer n.Close()
			notifier = n
		}
	}

	h := newGateway(cfg, gatewayDeps{
		Store:    store,
		Upstream: proxy,
		Routes:   routes,
		Notifier: notifier,
	})

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	logStartup(log, cfg, target, routes, store.Status())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error("server error", "err", err)
		os.Exit(1)
	}
}

type gatewayDeps struct {
	Store    *storage.Adapter
	Upstream http.Handler
	Routes   []routeRule
	Notifier alert.Notifier
}

// newGateway monta a cadeia:
//
//	metrics -> concorrência -> limite global -> limite por ator -> [auth | cache] -> upstream
//
// /ops/* e /metrics/prometheus ficam fora dos limites.
func newGateway(cfg config, d gatewayDeps) http.Handler {
	collector := metrics.New(metrics.Config{Store: d.Store})
	engine := alert.New(alert.Config{
		Store:       d.Store,
		LogPath:     cfg.alertLogPath,
		DedupWindow: cfg.alertDedupWindow,
		Notifier:    d.Notifier,
	})

	stats := infra.MultiStats{infra.PromStatsStore{}}
	if cfg.rateStatsEnabled {
		stats = append(stats, infra.NewStorageStatsStore(d.Store))
	}
	presetOpts := ratelimit.PresetOptions{
		Stats:              stats,
		KeyHeader:          cfg.rateKeyHeader,
		TrustXForwardedFor: cfg.trustXFF,
	}

	// cada regra do ROUTES_FILE vira uma cadeia própria na frente do upstream
	policy := &policyRouter{fallback: d.Upstream}
	for _, rule := range d.Routes {
		rh := d.Upstream
		if rule.Cache > 0 || len(rule.Invalidate) > 0 {
			ttl := rule.Cache
			if ttl == 0 {
				ttl = cfg.cacheTTL
			}
			rh = cache.New(cache.Options{
				Store:          d.Store,
				TTL:            ttl,
				Invalidate:     rule.Invalidate,
				InvalidateOnly: rule.Cache == 0,
			}).Middleware(rh)
		}
		if rule.Auth && cfg.rateEnabled {
			authPolicy := domain.Policy{Scope: ratelimit.AuthPolicy.Scope, Window: cfg.authWindow, MaxRequests: cfg.authMax}
			rh = ratelimit.Auth(d.Store, authPolicy, presetOpts)(rh)
		}
		policy.routes = append(policy.routes, routeHandler{prefix: rule.Prefix, handler: rh})
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer)
	r.Handle("/metrics/prometheus", promhttp.Handler())
	r.Route("/ops", (&ops.Handler{Storage: d.Store, Collector: collector, Alerts: engine}).Routes)

	r.Group(func(g chi.Router) {
		g.Use(metrics.Middleware(metrics.Options{
			Collector:  collector,
			OnRecorded: ops.AlertHook(collector, engine),
		}))
		g.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
			Max:            cfg.concurrencyMax,
			AcquireTimeout: cfg.concurrencyTimeout,
		}))
		if cfg.rateEnabled {
			globalPolicy := domain.Policy{Scope: ratelimit.GlobalPolicy.Scope, Window: cfg.globalWindow, MaxRequests: cfg.globalMax}
			userPolicy := domain.Policy{Scope: ratelimit.ActorPolicy.Scope, Window: cfg.userWindow, MaxRequests: cfg.userMax}
			g.Use(ratelimit.Global(d.Store, globalPolicy, presetOpts))
			g.Use(ratelimit.PerActor(d.Store, userPolicy, presetOpts))
		}
		g.Handle("/*", policy)
	})
	return r
}

func logStartup(log *slog.Logger, cfg config, target *url.URL, routes []routeRule, st storage.Status) {
	log.Info("gateway listening", "addr", cfg.listenAddr, "upstream", target.String())
	log.Info("storage", "redis", cfg.redisAddr(), "connected", st.IsConnected, "memoryCapacity", cfg.memoryCapacity)
	log.Info("rate", "enabled", cfg.rateEnabled,
		"global", ratelimitSummary(cfg.globalMax, cfg.globalWindow),
		"user", ratelimitSummary(cfg.userMax, cfg.userWindow),
		"auth", ratelimitSummary(cfg.authMax, cfg.authWindow),
		"keyHeader", cfg.rateKeyHeader, "trustXFF", cfg.trustXFF, "stats", cfg.rateStatsEnabled)
	log.Info("concurrency", "max", cfg.concurrencyMax, "acquireTimeout", cfg.concurrencyTimeout)
	log.Info("alerts", "log", cfg.alertLogPath, "dedupWindow", cfg.alertDedupWindow, "nats", cfg.alertNATSURL != "")
	log.Info("routes", "file", cfg.routesFile, "rules", len(routes), "cacheTTL", cfg.cacheTTL)
}

func ratelimitSummary(max int, window time.Duration) string {
	return strconv.Itoa(max) + "/" + window.String()
}
