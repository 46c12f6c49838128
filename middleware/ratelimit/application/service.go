package application

import (
	"context"
	"log/slog"

	"traffic-gateway/internal/logger"
	"traffic-gateway/middleware/ratelimit/domain"

	"github.com/benbjohnson/clock"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// Falha do limiter (Redis fora, erro de tipo, etc.) nunca bloqueia: a decisão é fail-open.
type Service struct {
	Limiter domain.Limiter
	Logger  *slog.Logger
	Clock   clock.Clock
}

func (s Service) Decide(ctx context.Context, key domain.Key) domain.Decision {
	if s.Limiter == nil {
		return domain.Decision{Allowed: true}
	}
	if s.Clock == nil {
		s.Clock = clock.New()
	}

	dec, err := s.Limiter.Check(ctx, key)
	if err == nil {
		return dec
	}

	if s.Logger == nil {
		s.Logger = logger.Logger("ratelimit")
	}
	p := s.Limiter.Policy()
	s.Logger.Warn("rate limiter failed, allowing request", "scope", p.Scope, "key", string(key), "err", err)
	return domain.Decision{
		Allowed:    true,
		Limit:      p.MaxRequests,
		Remaining:  p.MaxRequests,
		Window:     p.Window,
		ResetAt:    s.Clock.Now().Add(p.Window),
		FailedOpen: true,
	}
}
