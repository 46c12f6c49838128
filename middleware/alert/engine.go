package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"traffic-gateway/internal/logger"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultDedupWindow = 5 * time.Minute
	DefaultLogPath     = "logs/alerts.log"

	mirrorTTL = time.Hour
)

var alertsTriggered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_alerts_triggered_total",
		Help: "Alerts persisted after deduplication",
	},
	[]string{"severity", "type"},
)

// Store é o espelho do último alerta de cada identidade.
type Store interface {
	SetEx(ctx context.Context, key string, ttl time.Duration, value string) error
}

// Notifier recebe cada alerta persistido (ex.: NATS). Falha só vira log.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

type Config struct {
	Store       Store
	LogPath     string
	DedupWindow time.Duration
	// DedupSize limita quantas identidades o mapa de dedup guarda. 0 => sem limite, só a
	// expiração (2x a janela) poda o mapa. Um limite abaixo do número de identidades ativas
	// deixa uma identidade disparar de novo dentro da janela.
	DedupSize int
	Notifier  Notifier
	Clock     clock.Clock
	Logger    *slog.Logger
}

type Engine struct {
	store    Store
	notifier Notifier
	file     *logFile
	window   time.Duration
	clock    clock.Clock
	log      *slog.Logger

	mu sync.Mutex
	// última disparada por identidade; o LRU descarta entradas com mais de 2x a janela
	seen *expirable.LRU[string, time.Time]
}

func New(cfg Config) *Engine {
	if cfg.LogPath == "" {
		cfg.LogPath = DefaultLogPath
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.DedupSize < 0 {
		cfg.DedupSize = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Logger("alert")
	}
	return &Engine{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		file:     &logFile{path: cfg.LogPath},
		window:   cfg.DedupWindow,
		clock:    cfg.Clock,
		log:      cfg.Logger,
		seen:     expirable.NewLRU[string, time.Time](cfg.DedupSize, nil, 2*cfg.DedupWindow),
	}
}

// Evaluate aplica as regras e dispara o que passar pelo dedup.
func (e *Engine) Evaluate(ctx context.Context, obs Observation) []Alert {
	var fired []Alert
	for _, a := range Rules(obs) {
		if e.Trigger(ctx, a) {
			fired = append(fired, a)
		}
	}
	return fired
}

// Trigger persiste o alerta, a menos que a mesma identidade tenha disparado dentro da
// janela de dedup. Devolve false quando suprimido. Falhas de persistência não sobem.
func (e *Engine) Trigger(ctx context.Context, a Alert) bool {
	now := e.clock.Now()
	if a.Timestamp.IsZero() {
		a.Timestamp = now.UTC()
	}

	id := a.identity()
	e.mu.Lock()
	if last, ok := e.seen.Get(id); ok && now.Sub(last) < e.window {
		e.mu.Unlock()
		return false
	}
	e.seen.Add(id, now)
	e.mu.Unlock()

	alertsTriggered.WithLabelValues(string(a.Severity), string(a.Type)).Inc()
	e.log.Log(ctx, levelFor(a.Severity), "alert triggered",
		"severity", a.Severity, "type", a.Type, "endpoint", a.Endpoint, "message", a.Message)

	if err := e.file.append(formatLine(a)); err != nil {
		e.log.Error("alert log write failed", "path", e.file.path, "err", err)
	}

	if e.store != nil {
		payload, err := json.Marshal(a)
		if err == nil {
			err = e.store.SetEx(ctx, a.storeKey(), mirrorTTL, string(payload))
		}
		if err != nil {
			e.log.Error("alert store write failed", "key", a.storeKey(), "err", err)
		}
	}

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, a); err != nil {
			e.log.Warn("alert notification failed", "severity", a.Severity, "type", a.Type, "err", err)
		}
	}
	return true
}

func levelFor(s Severity) slog.Level {
	switch s {
	case Critical:
		return slog.LevelError
	case High, Medium:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// RecentAlerts devolve as últimas `limit` linhas do log, da mais nova para a mais antiga.
func (e *Engine) RecentAlerts(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	records, err := e.file.records()
	if err != nil {
		return nil, err
	}
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]Record, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

// Stats são os totais do log inteiro.
type Stats struct {
	Total    int            `json:"total"`
	Critical int            `json:"critical"`
	High     int            `json:"high"`
	Medium   int            `json:"medium"`
	Low      int            `json:"low"`
	ByType   map[string]int `json:"byType"`
}

func (e *Engine) Statistics() (Stats, error) {
	st := Stats{ByType: map[string]int{}}
	records, err := e.file.records()
	if err != nil {
		return st, err
	}
	for _, r := range records {
		st.Total++
		switch r.Severity {
		case Critical:
			st.Critical++
		case High:
			st.High++
		case Medium:
			st.Medium++
		case Low:
			st.Low++
		}
		st.ByType[string(r.Type)]++
	}
	return st, nil
}

// ClearLog trunca o log. Irreversível; o mapa de dedup não é afetado.
func (e *Engine) ClearLog() error {
	if err := e.file.truncate(); err != nil {
		return err
	}
	e.log.Info("alert log cleared", "path", e.file.path)
	return nil
}
