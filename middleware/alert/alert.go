package alert

import (
	"fmt"
	"time"
)

type Severity string

const (
	Critical Severity = "CRITICAL"
	High     Severity = "HIGH"
	Medium   Severity = "MEDIUM"
	Low      Severity = "LOW"
)

type Type string

const (
	ErrorRate    Type = "ERROR_RATE"
	ResponseTime Type = "RESPONSE_TIME"
)

// Alert é o registro persistido no log e espelhado no store.
type Alert struct {
	Severity  Severity  `json:"severity"`
	Type      Type      `json:"type"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// identity é a chave de dedup: (severidade, tipo, endpoint ou "global").
func (a Alert) identity() string {
	ep := a.Endpoint
	if ep == "" {
		ep = "global"
	}
	return string(a.Severity) + "|" + string(a.Type) + "|" + ep
}

func (a Alert) storeKey() string {
	return "alert:" + string(a.Severity) + ":" + string(a.Type)
}

// Observation é o que o engine avalia depois de cada requisição: o agregado do minuto
// corrente e a duração da própria requisição (zero => sem regra de latência).
type Observation struct {
	Endpoint      string
	TotalRequests int64
	ErrorRate     float64
	Duration      time.Duration
}

type tier struct {
	severity  Severity
	threshold float64
}

// Ordenados da maior para a menor severidade; só o primeiro que casar dispara.
var (
	errorRateTiers = []tier{
		{Critical, 0.10},
		{High, 0.05},
		{Medium, 0.01},
	}
	responseTimeTiers = []tier{
		{Critical, 5000},
		{High, 3000},
	}
)

// Rules aplica as regras de limiar sem efeitos colaterais.
func Rules(obs Observation) []Alert {
	var out []Alert

	if obs.TotalRequests >= 1 {
		for _, t := range errorRateTiers {
			if obs.ErrorRate > t.threshold {
				out = append(out, Alert{
					Severity:  t.severity,
					Type:      ErrorRate,
					Message:   fmt.Sprintf("Error rate %.2f%% exceeds %.0f%% threshold", obs.ErrorRate*100, t.threshold*100),
					Value:     obs.ErrorRate,
					Threshold: t.threshold,
				})
				break
			}
		}
	}

	if obs.Duration > 0 {
		ms := float64(obs.Duration.Milliseconds())
		for _, t := range responseTimeTiers {
			if ms > t.threshold {
				out = append(out, Alert{
					Severity:  t.severity,
					Type:      ResponseTime,
					Endpoint:  obs.Endpoint,
					Message:   fmt.Sprintf("Slow response on %s: %.0fms exceeds %.0fms", obs.Endpoint, ms, t.threshold),
					Value:     ms,
					Threshold: t.threshold,
				})
				break
			}
		}
	}
	return out
}
