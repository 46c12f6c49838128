package main

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"traffic-gateway/middleware/metrics"

	"gopkg.in/yaml.v3"
)

// routeRule descreve a política de um prefixo de rota no arquivo ROUTES_FILE:
//
//	routes:
//	  - prefix: /api/admin/login
//	    auth: true
//	  - prefix: /api/periods
//	    cache: 5m
//	    invalidate: ["cache:/api/periods*"]
type routeRule struct {
	Prefix     string        `yaml:"prefix"`
	Auth       bool          `yaml:"auth"`
	Cache      time.Duration `yaml:"cache"`
	Invalidate []string      `yaml:"invalidate"`
}

type routeFile struct {
	Routes []routeRule `yaml:"routes"`
}

func loadRoutes(path string) ([]routeRule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	return parseRoutes(data)
}

func parseRoutes(data []byte) ([]routeRule, error) {
	var f routeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}
	seen := map[string]bool{}
	for i, r := range f.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("routes[%d]: prefix must start with /", i)
		}
		if seen[r.Prefix] {
			return nil, fmt.Errorf("routes[%d]: duplicated prefix %q", i, r.Prefix)
		}
		if r.Cache < 0 {
			return nil, fmt.Errorf("routes[%d]: cache ttl must be >= 0", i)
		}
		seen[r.Prefix] = true
	}
	// prefixo mais longo primeiro
	sort.SliceStable(f.Routes, func(i, j int) bool { return len(f.Routes[i].Prefix) > len(f.Routes[j].Prefix) })
	return f.Routes, nil
}

type routeHandler struct {
	prefix  string
	handler http.Handler
}

// policyRouter escolhe o handler do prefixo mais longo que casar; sem regra => fallback.
type policyRouter struct {
	routes   []routeHandler
	fallback http.Handler
}

func (p *policyRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, rt := range p.routes {
		if strings.HasPrefix(r.URL.Path, rt.prefix) {
			// rótulo de métricas/alertas é o prefixo da regra, não o path cru
			metrics.SetRoute(r, rt.prefix)
			rt.handler.ServeHTTP(w, r)
			return
		}
	}
	p.fallback.ServeHTTP(w, r)
}
