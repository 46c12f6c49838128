// Package logger fornece os loggers por subsistema do gateway (log/slog).
//
// Configuração por variáveis de ambiente:
//
//   - GATEWAY_LOG_LEVEL: nível padrão e níveis por subsistema
//     formato: subsistema=nivel,subsistema=nivel,nivelPadrao
//     exemplo: storage=debug,alert=warn,info
//   - GATEWAY_LOG_FORMAT: text (padrão) ou json
//
// Uso:
//
//	var log = logger.Logger("storage")
//	log.Warn("redis indisponível, usando memória", "err", err)
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Config struct {
	DefaultLevel    slog.Level
	SubsystemLevels map[string]slog.Level
	JSON            bool
}

func (c Config) LevelFor(subsystem string) slog.Level {
	if lvl, ok := c.SubsystemLevels[subsystem]; ok {
		return lvl
	}
	return c.DefaultLevel
}

var (
	loggers sync.Map // subsistema -> *slog.Logger

	cfgOnce sync.Once
	cfg     Config
)

// ConfigFromEnv lê (uma única vez) a configuração de log do ambiente.
func ConfigFromEnv() Config {
	cfgOnce.Do(func() {
		cfg = ParseConfig(os.Getenv("GATEWAY_LOG_LEVEL"), os.Getenv("GATEWAY_LOG_FORMAT"))
	})
	return cfg
}

// ParseConfig interpreta as strings no formato de GATEWAY_LOG_LEVEL / GATEWAY_LOG_FORMAT.
func ParseConfig(levels, format string) Config {
	c := Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
		JSON:            strings.EqualFold(strings.TrimSpace(format), "json"),
	}
	for _, part := range strings.Split(levels, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if sub, name, ok := strings.Cut(part, "="); ok {
			if lvl, ok := parseLevel(name); ok {
				c.SubsystemLevels[strings.TrimSpace(sub)] = lvl
			}
			continue
		}
		if lvl, ok := parseLevel(part); ok {
			c.DefaultLevel = lvl
		}
	}
	return c
}

func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// Logger devolve o logger do subsistema; chamadas repetidas retornam a mesma instância.
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}
	c := ConfigFromEnv()
	l := New(os.Stderr, subsystem, c.LevelFor(subsystem), c.JSON)
	actual, _ := loggers.LoadOrStore(subsystem, l)
	return actual.(*slog.Logger)
}

// New cria um logger de subsistema escrevendo em w.
func New(w io.Writer, subsystem string, level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("subsystem", subsystem)
}

// Discard devolve um logger que descarta tudo (útil em testes).
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
