package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"traffic-gateway/internal/logger"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Options configura o Adapter. Addr vazio => modo somente memória.
type Options struct {
	Addr     string
	Password string
	DB       int

	// ConnectTimeout limita cada tentativa de conexão (padrão 5s).
	ConnectTimeout time.Duration
	// ConnectAttempts limita as tentativas no Connect (padrão 3).
	ConnectAttempts int
	// MaxRetryTime limita o tempo total gasto com backoff no Connect (padrão 10s).
	MaxRetryTime time.Duration
	// ReconnectInterval é o intervalo mínimo entre tentativas de reconexão em background
	// enquanto degradado (padrão 30s; negativo desliga).
	ReconnectInterval time.Duration
	// CommandTimeout é o timeout de leitura/escrita de cada comando (padrão 1s).
	CommandTimeout time.Duration

	MemoryCapacity int

	Clock  clock.Clock
	Logger *slog.Logger
}

func (o *Options) withDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = 3
	}
	if o.MaxRetryTime <= 0 {
		o.MaxRetryTime = 10 * time.Second
	}
	if o.ReconnectInterval == 0 {
		o.ReconnectInterval = 30 * time.Second
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = time.Second
	}
	if o.MemoryCapacity <= 0 {
		o.MemoryCapacity = DefaultMemoryCapacity
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = logger.Logger("storage")
	}
}

// Adapter implementa Store sobre o Redis com fallback transparente para Memory.
type Adapter struct {
	opts Options
	log  *slog.Logger

	rdb *redis.Client
	mem *Memory

	connected    atomic.Bool
	closed       atomic.Bool
	reconnecting atomic.Bool

	reconnect   *rate.Limiter
	fallbackLog rate.Sometimes
}

var _ Store = (*Adapter)(nil)

// New cria o Adapter já utilizável (em memória) até Connect ter sucesso.
func New(opts Options) *Adapter {
	opts.withDefaults()

	a := &Adapter{
		opts:        opts,
		log:         opts.Logger,
		mem:         NewMemory(opts.MemoryCapacity, opts.Clock),
		fallbackLog: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	if opts.ReconnectInterval > 0 {
		a.reconnect = rate.NewLimiter(rate.Every(opts.ReconnectInterval), 1)
	}
	if strings.TrimSpace(opts.Addr) != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:         opts.Addr,
			Password:     opts.Password,
			DB:           opts.DB,
			DialTimeout:  opts.ConnectTimeout,
			ReadTimeout:  opts.CommandTimeout,
			WriteTimeout: opts.CommandTimeout,
			PoolTimeout:  opts.CommandTimeout,
			MaxRetries:   1,
		})
	}
	return a
}

// Connect tenta o Redis com tentativas e tempo total limitados. Em caso de falha o Adapter
// fica degradado (memória) e o último erro é devolvido apenas para log do chamador.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.rdb == nil {
		a.log.Info("no redis address configured, running on memory only", "capacity", a.opts.MemoryCapacity)
		return nil
	}

	clk := a.opts.Clock
	deadline := clk.Now().Add(a.opts.MaxRetryTime)
	var lastErr error
	for attempt := 1; attempt <= a.opts.ConnectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, a.opts.ConnectTimeout)
		lastErr = a.rdb.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			a.connected.Store(true)
			a.log.Info("redis connected", "addr", a.opts.Addr, "db", a.opts.DB, "attempt", attempt)
			return nil
		}
		a.log.Warn("redis connect attempt failed", "addr", a.opts.Addr, "attempt", attempt, "err", lastErr)

		if attempt == a.opts.ConnectAttempts {
			break
		}
		delay := connectBackoff(attempt)
		if clk.Now().Add(delay).After(deadline) {
			break
		}
		t := clk.Timer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			attempt = a.opts.ConnectAttempts
		case <-t.C:
		}
	}

	a.connected.Store(false)
	if a.reconnect != nil {
		// consome o token inicial: a próxima tentativa só depois de ReconnectInterval
		a.reconnect.Allow()
	}
	a.log.Error("redis unavailable, degraded to memory", "addr", a.opts.Addr, "err", lastErr)
	return fmt.Errorf("storage: connect %s: %w", a.opts.Addr, lastErr)
}

func connectBackoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 50 * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

// Disconnect fecha o cliente Redis; as próximas operações usam a memória.
func (a *Adapter) Disconnect() error {
	a.closed.Store(true)
	a.connected.Store(false)
	if a.rdb == nil {
		return nil
	}
	if err := a.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("storage: disconnect: %w", err)
	}
	return nil
}

func (a *Adapter) Status() Status {
	return Status{
		IsConnected:     a.connected.Load(),
		MemoryCacheSize: a.mem.Len(),
	}
}

// remote devolve o cliente quando conectado; degradado, agenda reconexão e devolve nil.
func (a *Adapter) remote() *redis.Client {
	if a.rdb == nil || a.closed.Load() {
		return nil
	}
	if a.connected.Load() {
		return a.rdb
	}
	a.maybeReconnect()
	return nil
}

func (a *Adapter) maybeReconnect() {
	if a.reconnect == nil || !a.reconnect.Allow() {
		return
	}
	if !a.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer a.reconnecting.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), a.opts.ConnectTimeout)
		defer cancel()
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.log.Debug("redis reconnect failed", "addr", a.opts.Addr, "err", err)
			return
		}
		if a.closed.Load() {
			return
		}
		a.connected.Store(true)
		a.log.Info("redis reconnected", "addr", a.opts.Addr)
	}()
}

// fallback decide o destino de um erro do Redis: true => indisponibilidade, a chamada deve
// ser refeita na memória; false => erro de resposta do servidor, devolver ao chamador.
func (a *Adapter) fallback(op, key string, err error) bool {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return false
	}
	if isConnectionError(err) {
		a.connected.Store(false)
	}
	a.fallbackLog.Do(func() {
		a.log.Warn("redis call failed, serving from memory", "op", op, "key", key, "err", err)
	})
	return true
}

func isConnectionError(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, redis.ErrClosed)
}

// replyError traduz erros de resposta do Redis para os sentinels do pacote.
func replyError(err error) error {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "WRONGTYPE"):
		return fmt.Errorf("%w: %s", ErrWrongType, msg)
	case strings.Contains(msg, "not an integer"):
		return fmt.Errorf("%w: %s", ErrNotInteger, msg)
	}
	return fmt.Errorf("storage: %w", err)
}

func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	if c := a.remote(); c != nil {
		v, err := c.Get(ctx, key).Result()
		switch {
		case err == nil:
			return v, true, nil
		case errors.Is(err, redis.Nil):
			return "", false, nil
		case !a.fallback("get", key, err):
			return "", false, replyError(err)
		}
	}
	return a.mem.Get(ctx, key)
}

func (a *Adapter) Set(ctx context.Context, key, value string) error {
	return a.SetEx(ctx, key, 0, value)
}

func (a *Adapter) SetEx(ctx context.Context, key string, ttl time.Duration, value string) error {
	if ttl < 0 {
		ttl = 0
	}
	if c := a.remote(); c != nil {
		err := c.Set(ctx, key, value, ttl).Err()
		if err == nil {
			return nil
		}
		if !a.fallback("setex", key, err) {
			return replyError(err)
		}
	}
	return a.mem.SetEx(ctx, key, ttl, value)
}

func (a *Adapter) Del(ctx context.Context, key string) (int64, error) {
	return a.MDel(ctx, []string{key})
}

func (a *Adapter) MDel(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	if c := a.remote(); c != nil {
		n, err := c.Del(ctx, keys...).Result()
		if err == nil {
			return n, nil
		}
		if !a.fallback("del", strings.Join(keys, ","), err) {
			return 0, replyError(err)
		}
	}
	return a.mem.MDel(ctx, keys)
}

func (a *Adapter) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if c := a.remote(); c != nil {
		ok, err := c.Expire(ctx, key, ttl).Result()
		if err == nil {
			return ok, nil
		}
		if !a.fallback("expire", key, err) {
			return false, replyError(err)
		}
	}
	return a.mem.Expire(ctx, key, ttl)
}

func (a *Adapter) Incr(ctx context.Context, key string) (int64, error) {
	if c := a.remote(); c != nil {
		v, err := c.Incr(ctx, key).Result()
		if err == nil {
			if v == 1 {
				if err := c.Expire(ctx, key, DefaultIncrTTL).Err(); err != nil {
					a.log.Debug("redis expire after first incr failed", "key", key, "err", err)
				}
			}
			return v, nil
		}
		if !a.fallback("incr", key, err) {
			return 0, replyError(err)
		}
	}
	return a.mem.Incr(ctx, key)
}

func (a *Adapter) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if c := a.remote(); c != nil {
		err := c.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
		if err == nil {
			return nil
		}
		if !a.fallback("zadd", key, err) {
			return replyError(err)
		}
	}
	return a.mem.ZAdd(ctx, key, score, member)
}

func (a *Adapter) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	if c := a.remote(); c != nil {
		n, err := c.ZRemRangeByScore(ctx, key, scoreBound(min), scoreBound(max)).Result()
		if err == nil {
			return n, nil
		}
		if !a.fallback("zremrangebyscore", key, err) {
			return 0, replyError(err)
		}
	}
	return a.mem.ZRemRangeByScore(ctx, key, min, max)
}

func (a *Adapter) ZCard(ctx context.Context, key string) (int64, error) {
	if c := a.remote(); c != nil {
		n, err := c.ZCard(ctx, key).Result()
		if err == nil {
			return n, nil
		}
		if !a.fallback("zcard", key, err) {
			return 0, replyError(err)
		}
	}
	return a.mem.ZCard(ctx, key)
}

func (a *Adapter) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	if c := a.remote(); c != nil {
		out, err := c.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: scoreBound(min), Max: scoreBound(max)}).Result()
		if err == nil {
			return out, nil
		}
		if !a.fallback("zrangebyscore", key, err) {
			return nil, replyError(err)
		}
	}
	return a.mem.ZRangeByScore(ctx, key, min, max)
}

// Keys usa SCAN (nunca KEYS) no Redis e refiltra com o glob compilado.
func (a *Adapter) Keys(ctx context.Context, pattern string) ([]string, error) {
	if c := a.remote(); c != nil {
		re := CompileGlob(pattern)
		var out []string
		iter := c.Scan(ctx, 0, redisMatchPattern(pattern), 100).Iterator()
		for iter.Next(ctx) {
			if k := iter.Val(); re.MatchString(k) {
				out = append(out, k)
			}
		}
		err := iter.Err()
		if err == nil {
			return out, nil
		}
		if !a.fallback("scan", pattern, err) {
			return nil, replyError(err)
		}
	}
	return a.mem.Keys(ctx, pattern)
}
