package main

import (
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type config struct {
	listenAddr  string
	upstreamURL string

	redisHost           string
	redisPort           string
	redisPassword       string
	redisDB             int
	redisConnectTimeout time.Duration
	redisConnectTries   int
	memoryCapacity      int

	rateEnabled   bool
	globalWindow  time.Duration
	globalMax     int
	userWindow    time.Duration
	userMax       int
	authWindow    time.Duration
	authMax       int
	rateKeyHeader string
	trustXFF      bool

	rateStatsEnabled bool

	concurrencyMax     int
	concurrencyTimeout time.Duration

	cacheTTL time.Duration

	alertLogPath     string
	alertDedupWindow time.Duration
	alertNATSURL     string
	alertNATSSubject string

	routesFile string
}

// redisAddr vazio => adapter somente em memória.
func (c config) redisAddr() string {
	if strings.TrimSpace(c.redisHost) == "" {
		return ""
	}
	return net.JoinHostPort(c.redisHost, c.redisPort)
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")

	cfg.redisHost = getenvDefault("REDIS_HOST", "localhost")
	cfg.redisPort = getenvDefault("REDIS_PORT", "6379")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisConnectTimeout = getenvDurationDefault("REDIS_CONNECT_TIMEOUT", 5*time.Second)
	cfg.redisConnectTries = getenvIntDefault("REDIS_CONNECT_ATTEMPTS", 3)
	cfg.memoryCapacity = getenvIntDefault("MEMORY_CACHE_CAPACITY", 1000)

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	cfg.globalWindow = getenvDurationDefault("RATE_GLOBAL_WINDOW", time.Minute)
	cfg.globalMax = getenvIntDefault("RATE_GLOBAL_MAX", 1000)
	cfg.userWindow = getenvDurationDefault("RATE_USER_WINDOW", time.Minute)
	cfg.userMax = getenvIntDefault("RATE_USER_MAX", 100)
	cfg.authWindow = getenvDurationDefault("RATE_AUTH_WINDOW", time.Minute)
	cfg.authMax = getenvIntDefault("RATE_AUTH_MAX", 5)
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)

	cfg.rateStatsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	cfg.cacheTTL = getenvDurationDefault("CACHE_TTL", 300*time.Second)

	cfg.alertLogPath = getenvDefault("ALERT_LOG_PATH", "logs/alerts.log")
	cfg.alertDedupWindow = getenvDurationDefault("ALERT_DEDUP_WINDOW", 5*time.Minute)
	cfg.alertNATSURL = os.Getenv("ALERT_NATS_URL")
	cfg.alertNATSSubject = getenvDefault("ALERT_NATS_SUBJECT", "gateway.alerts")

	cfg.routesFile = os.Getenv("ROUTES_FILE")

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.rateEnabled {
		for name, v := range map[string]int{"RATE_GLOBAL_MAX": cfg.globalMax, "RATE_USER_MAX": cfg.userMax, "RATE_AUTH_MAX": cfg.authMax} {
			if v <= 0 {
				return config{}, errors.New(name + " must be > 0")
			}
		}
		for name, v := range map[string]time.Duration{"RATE_GLOBAL_WINDOW": cfg.globalWindow, "RATE_USER_WINDOW": cfg.userWindow, "RATE_AUTH_WINDOW": cfg.authWindow} {
			if v <= 0 {
				return config{}, errors.New(name + " must be > 0")
			}
		}
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.memoryCapacity <= 0 {
		return config{}, errors.New("MEMORY_CACHE_CAPACITY must be > 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// aceita "30s", "5m" ou um inteiro em segundos
func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
