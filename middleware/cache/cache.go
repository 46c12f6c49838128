package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"traffic-gateway/internal/logger"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultTTL = 300 * time.Second

	persistTimeout = 2 * time.Second
)

var lookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_cache_lookups_total",
		Help: "Response cache lookups by result",
	},
	[]string{"result"},
)

// Store são as primitivas de que o cache precisa (storage.Adapter satisfaz).
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEx(ctx context.Context, key string, ttl time.Duration, value string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	MDel(ctx context.Context, keys []string) (int64, error)
}

type KeyFunc func(r *http.Request) string

type Options struct {
	Store Store
	TTL   time.Duration
	KeyFn KeyFunc
	// Invalidate são padrões glob (ex.: "cache:/api/periods*") apagados depois de uma
	// escrita bem-sucedida (POST/PUT/DELETE/PATCH).
	Invalidate []string
	// InvalidateOnly desliga o cache de GET; só a invalidação nas escritas fica ativa.
	InvalidateOnly bool
	Logger         *slog.Logger
}

type Cache struct {
	store    Store
	ttl      time.Duration
	keyFn    KeyFunc
	patterns []string
	readOff  bool
	log      *slog.Logger
}

// entry é o que fica serializado no store.
type entry struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body"`
}

func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc
	}
	if opts.Logger == nil {
		opts.Logger = logger.Logger("cache")
	}
	return &Cache{
		store:    opts.Store,
		ttl:      opts.TTL,
		keyFn:    opts.KeyFn,
		patterns: opts.Invalidate,
		readOff:  opts.InvalidateOnly,
		log:      opts.Logger,
	}
}

// DefaultKeyFunc gera cache:{path}:{query em JSON}. As chaves do JSON saem ordenadas,
// então a mesma query em outra ordem cai na mesma chave.
func DefaultKeyFunc(r *http.Request) string {
	q := map[string]any{}
	for k, vs := range r.URL.Query() {
		if len(vs) == 1 {
			q[k] = vs[0]
		} else {
			q[k] = vs
		}
	}
	raw, _ := json.Marshal(q)
	return "cache:" + r.URL.Path + ":" + string(raw)
}

func (c *Cache) Middleware(next http.Handler) http.Handler {
	if c == nil || c.store == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if c.readOff {
				next.ServeHTTP(w, r)
				return
			}
			c.serveGet(w, r, next)
		case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
			c.serveWrite(w, r, next)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (c *Cache) serveGet(w http.ResponseWriter, r *http.Request, next http.Handler) {
	key := c.keyFn(r)

	if e, ok := c.lookup(r.Context(), key); ok {
		lookups.WithLabelValues("hit").Inc()
		if e.ContentType != "" {
			w.Header().Set("Content-Type", e.ContentType)
		}
		w.Header().Set("X-Cache", "HIT")
		w.WriteHeader(e.Status)
		_, _ = w.Write(e.Body)
		return
	}
	lookups.WithLabelValues("miss").Inc()

	w.Header().Set("X-Cache", "MISS")
	var buf bytes.Buffer
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	ww.Tee(&buf)
	next.ServeHTTP(ww, r)

	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status >= 300 {
		return
	}

	payload, err := json.Marshal(entry{
		Status:      status,
		ContentType: ww.Header().Get("Content-Type"),
		Body:        buf.Bytes(),
	})
	if err != nil {
		c.log.Warn("cache entry not serializable", "key", key, "err", err)
		return
	}
	go c.persist(key, string(payload))
}

func (c *Cache) persist(key, payload string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.SetEx(ctx, key, c.ttl, payload); err != nil {
		c.log.Warn("cache write failed", "key", key, "err", err)
	}
}

// lookup trata qualquer problema (erro do store, payload inválido) como miss.
func (c *Cache) lookup(ctx context.Context, key string) (entry, bool) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache read failed", "key", key, "err", err)
		return entry{}, false
	}
	if !ok {
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil || e.Status == 0 {
		c.log.Warn("malformed cache entry, treating as miss", "key", key, "err", err)
		return entry{}, false
	}
	return e, true
}

func (c *Cache) serveWrite(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	next.ServeHTTP(ww, r)

	if len(c.patterns) == 0 {
		return
	}
	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	if status >= 400 {
		return
	}
	if _, err := c.Invalidate(context.WithoutCancel(r.Context()), c.patterns...); err != nil {
		c.log.Warn("cache invalidation failed", "patterns", c.patterns, "err", err)
	}
}

// Invalidate apaga todas as chaves que casam com os padrões glob.
func (c *Cache) Invalidate(ctx context.Context, patterns ...string) (int64, error) {
	var keys []string
	for _, p := range patterns {
		found, err := c.store.Keys(ctx, p)
		if err != nil {
			return 0, err
		}
		keys = append(keys, found...)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.store.MDel(ctx, keys)
	if err != nil {
		return 0, err
	}
	c.log.Debug("cache invalidated", "patterns", patterns, "keys", n)
	return n, nil
}
