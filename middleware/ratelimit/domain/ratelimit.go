package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

type Key string

// Policy descreve uma janela deslizante: no máximo MaxRequests admissões em Window,
// por chave, dentro de um escopo (global, user, auth, ...).
type Policy struct {
	Scope       string
	Window      time.Duration
	MaxRequests int
}

// StorageKey é a chave do sorted set da janela: ratelimit:{scope}:{key}.
func (p Policy) StorageKey(k Key) string {
	return "ratelimit:" + p.Scope + ":" + string(k)
}

// Limiter decide se uma requisição da chave pode passar agora.
//
// Um erro significa falha de infraestrutura; a política (fail-open) é da camada application.
type Limiter interface {
	Check(ctx context.Context, key Key) (Decision, error)
	Policy() Policy
}

// WindowStore são as primitivas de sorted set usadas pela janela deslizante.
// O storage.Adapter satisfaz este contrato.
type WindowStore interface {
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Decision struct {
	Allowed bool

	Limit     int
	Remaining int
	// ResetAt é quando a janela atual termina (header X-RateLimit-Reset).
	ResetAt time.Time
	Window  time.Duration

	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration

	// FailedOpen indica que a decisão foi "permitir" por falha do limiter.
	FailedOpen bool
}
