package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"traffic-gateway/internal/logger"
	"traffic-gateway/middleware/ratelimit/application"
	"traffic-gateway/middleware/ratelimit/domain"

	"github.com/benbjohnson/clock"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Limiter            domain.Limiter
	Stats              domain.StatsStore
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	// Message vai no corpo do 429.
	Message string
	Logger  *slog.Logger
	Clock   clock.Clock
}

// DefaultKeyFunc identifica o cliente: header configurado, depois X-Forwarded-For (se confiável),
// depois o host de RemoteAddr.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}
		return ClientIP(r, trustXFF)
	}
}

// ActorRouteKeyFunc gera (ator-ou-ip):(rota), usado pelo preset por usuário.
func ActorRouteKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	actor := DefaultKeyFunc(keyHeader, trustXFF)
	return func(r *http.Request) string {
		return actor(r) + ":" + r.URL.Path
	}
}

// GlobalKeyFunc devolve sempre a mesma chave: um único balde para todo o tráfego.
func GlobalKeyFunc(*http.Request) string { return "all" }

// ClientIP extrai o IP de origem (primeiro do X-Forwarded-For quando trustXFF).
func ClientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	// fallback: RemoteAddr
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

type rejection struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Message == "" {
		opts.Message = "Too many requests, please try again later."
	}
	if opts.Logger == nil {
		opts.Logger = logger.Logger("ratelimit")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	svc := application.Service{
		Limiter: opts.Limiter,
		Logger:  opts.Logger,
		Clock:   opts.Clock,
	}
	scope := opts.Limiter.Policy().Scope

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			dec := svc.Decide(r.Context(), domain.Key(key))
			if opts.Stats != nil {
				err := opts.Stats.Record(r.Context(), domain.StatsEvent{
					Scope:   scope,
					Key:     domain.Key(key),
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      opts.Clock.Now(),
				})
				if err != nil {
					opts.Logger.Debug("rate limit stats not recorded", "scope", scope, "err", err)
				}
			}

			h := w.Header()
			if dec.Limit > 0 {
				h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
				h.Set("X-RateLimit-Remaining", formatInt(max(dec.Remaining, 0)))
				h.Set("X-RateLimit-Reset", formatInt64(dec.ResetAt.Unix()))
			}

			if !dec.Allowed {
				h.Set("Retry-After", formatInt(retryAfterSeconds(dec.RetryAfter)))
				opts.Logger.Info("rate limit exceeded", "scope", scope, "key", key, "path", r.URL.Path)
				writeJSONError(w, http.StatusTooManyRequests, opts.Message, opts.Clock.Now())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds arredonda para cima: Retry-After nunca deve sugerir 0 enquanto bloqueado.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

func writeJSONError(w http.ResponseWriter, status int, msg string, now time.Time) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rejection{
		Code:      status,
		Message:   msg,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
}
