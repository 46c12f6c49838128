package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"traffic-gateway/internal/logger"
	"traffic-gateway/middleware/storage"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultSlowThreshold = 2 * time.Second

	minuteTTL = time.Hour
	hourTTL   = 24 * time.Hour
)

// Store são as primitivas que o coletor usa (storage.Adapter e storage.Memory satisfazem).
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
}

// Sample é uma requisição concluída.
type Sample struct {
	Method   string
	Route    string
	Status   int
	Duration time.Duration
	At       time.Time
}

type MinuteBucket struct {
	TotalRequests  int64   `json:"totalRequests"`
	TotalErrors    int64   `json:"totalErrors"`
	ErrorRate      float64 `json:"errorRate"`
	LatencySamples int64   `json:"latencySamples"`
}

type HourBucket struct {
	TotalRequests int64   `json:"totalRequests"`
	TotalErrors   int64   `json:"totalErrors"`
	ErrorRate     float64 `json:"errorRate"`
}

// Snapshot é o estado dos baldes ainda abertos (minuto e hora correntes).
type Snapshot struct {
	Minute    MinuteBucket `json:"minute"`
	Hour      HourBucket   `json:"hour"`
	Timestamp time.Time    `json:"timestamp"`
}

// SlowRequest é o membro JSON do sorted set metrics:slow_queries:{mk}.
type SlowRequest struct {
	ID        string    `json:"id"`
	Route     string    `json:"route"`
	Method    string    `json:"method"`
	Status    int       `json:"status"`
	Duration  int64     `json:"duration"` // ms
	Timestamp time.Time `json:"timestamp"`
}

type Config struct {
	Store Store
	// SlowThreshold: acima disso a requisição entra em slow_queries (padrão 2s).
	SlowThreshold time.Duration
	// FallbackCapacity limita o mapa local usado quando o Store devolve erro.
	FallbackCapacity int
	Clock            clock.Clock
	Logger           *slog.Logger
}

// Collector agrega amostras em baldes de minuto e de hora no Store.
//
// Se uma gravação falhar, aquela parte da amostra vai para um balde local com as mesmas
// chaves e TTLs, e as leituras somam os dois lados.
type Collector struct {
	store    Store
	fallback *storage.Memory
	slow     time.Duration
	clock    clock.Clock
	log      *slog.Logger

	fallbackLog rate.Sometimes
}

func New(cfg Config) *Collector {
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = DefaultSlowThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Logger("metrics")
	}
	return &Collector{
		store:       cfg.Store,
		fallback:    storage.NewMemory(cfg.FallbackCapacity, cfg.Clock),
		slow:        cfg.SlowThreshold,
		clock:       cfg.Clock,
		log:         cfg.Logger,
		fallbackLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

func minuteKey(t time.Time) string { return strconv.FormatInt(t.Unix()/60, 10) }
func hourKey(t time.Time) string   { return strconv.FormatInt(t.Unix()/3600, 10) }

// Record registra a amostra. Nunca falha: erros do Store viram fallback local + log.
func (c *Collector) Record(ctx context.Context, s Sample) {
	at := s.At
	if at.IsZero() {
		at = c.clock.Now()
	}
	mk, hk := minuteKey(at), hourKey(at)
	isErr := s.Status >= 400

	c.incr(ctx, "metrics:count:"+mk, minuteTTL)
	if isErr {
		c.incr(ctx, "metrics:errors:"+mk, minuteTTL)
	}

	durMs := float64(s.Duration) / float64(time.Millisecond)
	c.zadd(ctx, "metrics:latency:"+mk, durMs, uuid.NewString(), minuteTTL)

	if s.Duration > c.slow {
		payload, err := json.Marshal(SlowRequest{
			ID:        uuid.NewString(),
			Route:     s.Route,
			Method:    s.Method,
			Status:    s.Status,
			Duration:  s.Duration.Milliseconds(),
			Timestamp: at.UTC(),
		})
		if err == nil {
			c.zadd(ctx, "metrics:slow_queries:"+mk, float64(at.UnixMilli()), string(payload), minuteTTL)
		}
		slowRequests.WithLabelValues(s.Route).Inc()
		c.log.Warn("slow request", "method", s.Method, "route", s.Route, "status", s.Status, "duration", s.Duration)
	}

	c.incr(ctx, "metrics:hour_count:"+hk, hourTTL)
	if isErr {
		c.incr(ctx, "metrics:hour_errors:"+hk, hourTTL)
	}

	observe(s)
}

func (c *Collector) incr(ctx context.Context, key string, ttl time.Duration) {
	if c.store != nil {
		n, err := c.store.Incr(ctx, key)
		if err == nil {
			if n == 1 {
				if _, err := c.store.Expire(ctx, key, ttl); err != nil {
					c.log.Debug("metrics expire failed", "key", key, "err", err)
				}
			}
			return
		}
		c.fell("incr", key, err)
	}
	if n, _ := c.fallback.Incr(ctx, key); n == 1 {
		_, _ = c.fallback.Expire(ctx, key, ttl)
	}
}

func (c *Collector) zadd(ctx context.Context, key string, score float64, member string, ttl time.Duration) {
	if c.store != nil {
		err := c.store.ZAdd(ctx, key, score, member)
		if err == nil {
			if _, err := c.store.Expire(ctx, key, ttl); err != nil {
				c.log.Debug("metrics expire failed", "key", key, "err", err)
			}
			return
		}
		c.fell("zadd", key, err)
	}
	_ = c.fallback.ZAdd(ctx, key, score, member)
	_, _ = c.fallback.Expire(ctx, key, ttl)
}

func (c *Collector) fell(op, key string, err error) {
	fallbackTotal.WithLabelValues(op).Inc()
	c.fallbackLog.Do(func() {
		c.log.Warn("metrics write failed, keeping sample locally", "op", op, "key", key, "err", err)
	})
}

// Aggregated devolve o balde do minuto e da hora correntes. Balde ausente vale zero.
func (c *Collector) Aggregated(ctx context.Context) Snapshot {
	now := c.clock.Now()
	mk, hk := minuteKey(now), hourKey(now)

	minute := MinuteBucket{
		TotalRequests:  c.counter(ctx, "metrics:count:"+mk),
		TotalErrors:    c.counter(ctx, "metrics:errors:"+mk),
		LatencySamples: c.card(ctx, "metrics:latency:"+mk),
	}
	minute.ErrorRate = errorRate(minute.TotalErrors, minute.TotalRequests)

	hour := HourBucket{
		TotalRequests: c.counter(ctx, "metrics:hour_count:"+hk),
		TotalErrors:   c.counter(ctx, "metrics:hour_errors:"+hk),
	}
	hour.ErrorRate = errorRate(hour.TotalErrors, hour.TotalRequests)

	return Snapshot{Minute: minute, Hour: hour, Timestamp: now.UTC()}
}

func errorRate(errs, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(errs) / float64(total)
}

func (c *Collector) counter(ctx context.Context, key string) int64 {
	var total int64
	if c.store != nil {
		v, ok, err := c.store.Get(ctx, key)
		switch {
		case err != nil:
			c.log.Debug("metrics read failed", "key", key, "err", err)
		case ok:
			total += parseCount(v)
		}
	}
	if v, ok, _ := c.fallback.Get(ctx, key); ok {
		total += parseCount(v)
	}
	return total
}

func parseCount(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (c *Collector) card(ctx context.Context, key string) int64 {
	var total int64
	if c.store != nil {
		n, err := c.store.ZCard(ctx, key)
		if err != nil {
			c.log.Debug("metrics read failed", "key", key, "err", err)
		}
		total += n
	}
	n, _ := c.fallback.ZCard(ctx, key)
	return total + n
}

// SlowRequests devolve as requisições lentas do minuto corrente, em ordem de chegada.
func (c *Collector) SlowRequests(ctx context.Context) []SlowRequest {
	key := "metrics:slow_queries:" + minuteKey(c.clock.Now())

	var members []string
	if c.store != nil {
		out, err := c.store.ZRangeByScore(ctx, key, math.Inf(-1), math.Inf(1))
		if err != nil {
			c.log.Debug("metrics read failed", "key", key, "err", err)
		}
		members = append(members, out...)
	}
	local, _ := c.fallback.ZRangeByScore(ctx, key, math.Inf(-1), math.Inf(1))
	members = append(members, local...)

	out := make([]SlowRequest, 0, len(members))
	for _, m := range members {
		var sr SlowRequest
		if err := json.Unmarshal([]byte(m), &sr); err != nil {
			c.log.Debug("skipping malformed slow request", "err", err)
			continue
		}
		out = append(out, sr)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
