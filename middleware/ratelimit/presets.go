package ratelimit

import (
	"log/slog"
	"net/http"
	"time"

	"traffic-gateway/middleware/ratelimit/domain"
	"traffic-gateway/middleware/ratelimit/infra"

	"github.com/benbjohnson/clock"
)

// Três instâncias do mesmo algoritmo, com escopos separados no storage.
var (
	GlobalPolicy = domain.Policy{Scope: "global", Window: time.Minute, MaxRequests: 1000}
	ActorPolicy  = domain.Policy{Scope: "user", Window: time.Minute, MaxRequests: 100}
	AuthPolicy   = domain.Policy{Scope: "auth", Window: time.Minute, MaxRequests: 5}
)

// PresetOptions é o que os presets repassam para Middleware além do limiter e da chave.
type PresetOptions struct {
	Stats              domain.StatsStore
	KeyHeader          string
	TrustXForwardedFor bool
	Logger             *slog.Logger
	Clock              clock.Clock
}

func (p PresetOptions) build(store domain.WindowStore, policy domain.Policy, keyFn KeyFunc, msg string) func(http.Handler) http.Handler {
	return Middleware(Options{
		Limiter: infra.NewSlidingWindow(store, policy, infra.WithClock(p.Clock)),
		Stats:   p.Stats,
		KeyFn:   keyFn,
		Message: msg,
		Logger:  p.Logger,
		Clock:   p.Clock,
	})
}

// Global limita todo o tráfego sob uma única chave compartilhada.
func Global(store domain.WindowStore, policy domain.Policy, p PresetOptions) func(http.Handler) http.Handler {
	return p.build(store, policy, GlobalKeyFunc, "Server is busy, please try again later.")
}

// PerActor limita por (ator-ou-ip):(rota).
func PerActor(store domain.WindowStore, policy domain.Policy, p PresetOptions) func(http.Handler) http.Handler {
	return p.build(store, policy, ActorRouteKeyFunc(p.KeyHeader, p.TrustXForwardedFor), "")
}

// Auth limita tentativas de autenticação pelo IP de origem.
func Auth(store domain.WindowStore, policy domain.Policy, p PresetOptions) func(http.Handler) http.Handler {
	keyFn := func(r *http.Request) string { return ClientIP(r, p.TrustXForwardedFor) }
	return p.build(store, policy, keyFn, "Too many login attempts, please try again later.")
}
