package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"traffic-gateway/internal/logger"
	"traffic-gateway/middleware/alert"
	"traffic-gateway/middleware/cache"
	"traffic-gateway/middleware/metrics"
	"traffic-gateway/middleware/ops"
	"traffic-gateway/middleware/ratelimit"
	"traffic-gateway/middleware/ratelimit/infra"
	"traffic-gateway/middleware/storage"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Exemplo: a camada injetada diretamente numa aplicação chi (sem proxy)
	log := logger.Logger("example")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := storage.New(storage.Options{Addr: os.Getenv("REDIS_ADDR")}) // vazio => só memória
	if err := store.Connect(ctx); err != nil {
		log.Warn("starting without redis", "err", err)
	}
	defer func() { _ = store.Disconnect() }()

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(store, "logs/alerts.log"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("example server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error("server error", "err", err)
		os.Exit(1)
	}
}

func newRouter(store *storage.Adapter, alertLog string) http.Handler {
	collector := metrics.New(metrics.Config{Store: store})
	engine := alert.New(alert.Config{Store: store, LogPath: alertLog})
	presets := ratelimit.PresetOptions{
		Stats:     infra.MultiStats{infra.PromStatsStore{}, infra.NewStorageStatsStore(store)},
		KeyHeader: "X-User-ID", // ou vazio para usar IP
	}

	periodsCache := cache.New(cache.Options{
		Store:      store,
		Invalidate: []string{"cache:/api/periods*"},
	})

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer)
	r.Use(metrics.Middleware(metrics.Options{
		Collector:  collector,
		OnRecorded: ops.AlertHook(collector, engine),
	}))

	r.Handle("/metrics/prometheus", promhttp.Handler())
	r.Route("/ops", (&ops.Handler{Storage: store, Collector: collector, Alerts: engine}).Routes)

	r.Route("/api", func(api chi.Router) {
		api.Use(ratelimit.Global(store, ratelimit.GlobalPolicy, presets))

		api.With(ratelimit.Auth(store, ratelimit.AuthPolicy, presets)).
			Post("/admin/login", placeholder(http.StatusOK, `{"token":"placeholder"}`))

		api.Group(func(u chi.Router) {
			u.Use(ratelimit.PerActor(store, ratelimit.ActorPolicy, presets))
			u.Use(periodsCache.Middleware)
			u.Get("/periods", placeholder(http.StatusOK, `{"periods":[]}`))
			u.Post("/periods", placeholder(http.StatusCreated, `{"ok":true}`))
			u.Put("/periods/{id}", placeholder(http.StatusOK, `{"ok":true}`))
			u.Delete("/periods/{id}", placeholder(http.StatusNoContent, ""))
		})

		api.With(ratelimit.PerActor(store, ratelimit.ActorPolicy, presets)).
			Post("/checkins", placeholder(http.StatusCreated, `{"ok":true}`))
	})
	return r
}

// placeholder faz o papel dos handlers de negócio que ficam atrás da camada.
func placeholder(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if body != "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}
