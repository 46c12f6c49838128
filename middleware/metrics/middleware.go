package metrics

import (
	"context"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Options struct {
	Collector *Collector
	// OnRecorded roda depois de cada Record (ex.: avaliação de alertas).
	OnRecorded func(r *http.Request, s Sample)
	Clock      clock.Clock
}

// Middleware mede cada requisição e grava exatamente uma amostra, inclusive quando o handler
// entra em pânico (gravada como 500 e o pânico segue adiante).
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Collector == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.Clock == nil {
		opts.Clock = opts.Collector.clock
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := opts.Clock.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			tag := &routeTag{}
			r = r.WithContext(context.WithValue(r.Context(), routeKey{}, tag))

			defer func() {
				rec := recover()

				status := ww.Status()
				if rec != nil {
					status = http.StatusInternalServerError
				} else if status == 0 {
					status = http.StatusOK
				}

				s := Sample{
					Method:   r.Method,
					Route:    routeOf(r, tag),
					Status:   status,
					Duration: opts.Clock.Since(start),
					At:       opts.Clock.Now(),
				}
				// o cliente pode já ter desconectado; a gravação não deve herdar o cancelamento
				opts.Collector.Record(context.WithoutCancel(r.Context()), s)
				if opts.OnRecorded != nil {
					opts.OnRecorded(r, s)
				}

				if rec != nil {
					panic(rec)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

const unmatchedRoute = "unmatched"

type routeKey struct{}

type routeTag struct {
	route string
}

// SetRoute fixa o rótulo de rota da requisição corrente. Serve para handlers atrás de um
// catch-all (ex.: o roteador de políticas do gateway) informarem a regra que casou.
// Fora do Middleware não faz nada.
func SetRoute(r *http.Request, route string) {
	if t, ok := r.Context().Value(routeKey{}).(*routeTag); ok {
		t.route = route
	}
}

// routeOf escolhe um rótulo de cardinalidade limitada: o fixado por SetRoute, senão o padrão
// do chi (/items/{id}, ou o próprio "/*" de um catch-all). Dentro do chi sem rota casada
// (404) vira "unmatched". Fora do chi cai no path.
func routeOf(r *http.Request, tag *routeTag) string {
	if tag.route != "" {
		return tag.route
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
		return unmatchedRoute
	}
	return r.URL.Path
}
