package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrWrongType indica operação sobre uma chave que guarda outro tipo (string x sorted set).
	ErrWrongType = errors.New("storage: operation against a key holding the wrong kind of value")
	// ErrNotInteger indica INCR sobre um valor que não é inteiro.
	ErrNotInteger = errors.New("storage: value is not an integer")
)

// DefaultIncrTTL é o TTL aplicado na primeira chamada de Incr de uma chave.
const DefaultIncrTTL = time.Hour

// Store é o contrato comum do Redis e do fallback em memória.
//
// Implementações devem ser seguras para uso concorrente. TTL <= 0 em SetEx significa
// "sem expiração".
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key string, ttl time.Duration, value string) error
	Del(ctx context.Context, key string) (int64, error)
	MDel(ctx context.Context, keys []string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)

	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Status é o estado exposto para health checks.
type Status struct {
	IsConnected     bool `json:"isConnected"`
	MemoryCacheSize int  `json:"memoryCacheSize"`
}

// StatusReporter é implementado por quem sabe informar o próprio Status.
type StatusReporter interface {
	Status() Status
}
