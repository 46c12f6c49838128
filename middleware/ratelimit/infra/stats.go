package infra

import (
	"context"
	"errors"
	"strings"
	"time"

	"traffic-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter são as primitivas usadas pelas estatísticas (storage.Adapter satisfaz).
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// StorageStatsStore grava contadores allowed/denied por escopo, por minuto e por rota
// através do StorageAdapter (Redis ou memória, transparente).
type StorageStatsStore struct {
	store Counter

	prefix string
	// ttl aplica em todas as chaves; o primeiro Incr já garante 1h, aqui estendemos.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type StatsOption func(*StorageStatsStore)

func WithStatsPrefix(prefix string) StatsOption {
	return func(s *StorageStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) StatsOption {
	return func(s *StorageStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) StatsOption {
	return func(s *StorageStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) StatsOption {
	return func(s *StorageStatsStore) { s.trackKeys = track }
}

func NewStorageStatsStore(store Counter, opts ...StatsOption) *StorageStatsStore {
	s := &StorageStatsStore{
		store:  store,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StorageStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.store == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}
	scope := ev.Scope
	if scope == "" {
		scope = "default"
	}
	base := s.prefix + ":" + scope

	var keys []string
	if s.bucket == "minute" {
		keys = append(keys, base+":minute:"+at.UTC().Format("200601021504")+":"+field)
	}
	route := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
	if route != "" {
		keys = append(keys, base+":route:"+route+":"+field)
	}
	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			keys = append(keys, base+":key:"+k+":"+field)
		}
	}

	var errs []error
	for _, k := range keys {
		n, err := s.store.Incr(ctx, k)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n == 1 && s.ttl > 0 {
			if _, err := s.store.Expire(ctx, k, s.ttl); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

var decisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ratelimit_decisions_total",
		Help: "Rate limit decisions by scope and outcome",
	},
	[]string{"scope", "decision"},
)

// PromStatsStore exporta as decisões como counter do Prometheus.
// Não usa Key/Path como label para não explodir cardinalidade.
type PromStatsStore struct{}

func (PromStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	decision := "denied"
	if ev.Allowed {
		decision = "allowed"
	}
	decisionsTotal.WithLabelValues(ev.Scope, decision).Inc()
	return nil
}

// MultiStats repassa o evento para vários StatsStore.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
