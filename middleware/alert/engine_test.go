package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"traffic-gateway/internal/logger"
	"traffic-gateway/middleware/storage"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*Engine, *storage.Memory, *clock.Mock, string) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	mem := storage.NewMemory(100, clk)
	path := filepath.Join(t.TempDir(), "logs", "alerts.log")
	e := New(Config{Store: mem, LogPath: path, Clock: clk, Logger: logger.Discard()})
	return e, mem, clk, path
}

func logLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestRules_ErrorRateThresholds(t *testing.T) {
	cases := []struct {
		errors int64
		want   Severity
	}{
		{11, Critical},
		{6, High},
		{2, Medium},
		{1, ""},
		{0, ""},
	}
	for _, tc := range cases {
		got := Rules(Observation{TotalRequests: 100, ErrorRate: float64(tc.errors) / 100})
		if tc.want == "" {
			require.Empty(t, got, "errors=%d", tc.errors)
			continue
		}
		require.Len(t, got, 1, "errors=%d", tc.errors)
		require.Equal(t, tc.want, got[0].Severity)
		require.Equal(t, ErrorRate, got[0].Type)
	}
}

func TestRules_SkipsErrorRateWithoutSamples(t *testing.T) {
	require.Empty(t, Rules(Observation{TotalRequests: 0, ErrorRate: 1}))
}

func TestRules_LatencyIsIndependent(t *testing.T) {
	got := Rules(Observation{Endpoint: "GET /x", TotalRequests: 10, ErrorRate: 0.2, Duration: 5200 * time.Millisecond})
	require.Len(t, got, 2)
	require.Equal(t, ErrorRate, got[0].Type)
	require.Equal(t, ResponseTime, got[1].Type)
	require.Equal(t, Critical, got[1].Severity)
	require.Equal(t, "GET /x", got[1].Endpoint)

	got = Rules(Observation{Endpoint: "GET /x", Duration: 3500 * time.Millisecond})
	require.Len(t, got, 1)
	require.Equal(t, High, got[0].Severity)

	require.Empty(t, Rules(Observation{Endpoint: "GET /x", Duration: 3 * time.Second}))
}

func TestEngine_DedupWindow(t *testing.T) {
	ctx := context.Background()
	e, _, clk, path := newEngine(t)
	a := Alert{Severity: High, Type: ErrorRate, Message: "Error rate 6.00% exceeds 5% threshold"}

	require.True(t, e.Trigger(ctx, a))
	clk.Add(4*time.Minute + 59*time.Second)
	require.False(t, e.Trigger(ctx, a))
	require.Len(t, logLines(t, path), 1)

	clk.Add(2 * time.Second) // 5m01s desde o primeiro
	require.True(t, e.Trigger(ctx, a))
	require.Len(t, logLines(t, path), 2)
}

func TestEngine_DedupIdentityIncludesEndpoint(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := newEngine(t)

	require.True(t, e.Trigger(ctx, Alert{Severity: High, Type: ResponseTime, Endpoint: "GET /a"}))
	require.True(t, e.Trigger(ctx, Alert{Severity: High, Type: ResponseTime, Endpoint: "GET /b"}))
	require.True(t, e.Trigger(ctx, Alert{Severity: Critical, Type: ResponseTime, Endpoint: "GET /a"}))
	require.False(t, e.Trigger(ctx, Alert{Severity: High, Type: ResponseTime, Endpoint: "GET /a"}))
}

func TestEngine_DedupSurvivesManyIdentities(t *testing.T) {
	ctx := context.Background()
	e, _, clk, path := newEngine(t)
	busy := Alert{Severity: High, Type: ResponseTime, Endpoint: "GET /p/0"}

	require.True(t, e.Trigger(ctx, busy))
	for i := 1; i <= 1500; i++ {
		require.True(t, e.Trigger(ctx, Alert{Severity: High, Type: ResponseTime, Endpoint: fmt.Sprintf("GET /p/%d", i)}))
	}
	clk.Add(time.Minute)

	require.False(t, e.Trigger(ctx, busy))
	require.Len(t, logLines(t, path), 1501)
}

func TestEngine_PersistsLineAndStoreMirror(t *testing.T) {
	ctx := context.Background()
	e, mem, clk, path := newEngine(t)

	fired := e.Evaluate(ctx, Observation{TotalRequests: 100, ErrorRate: 0.11})
	require.Len(t, fired, 1)

	lines := logLines(t, path)
	require.Equal(t, "[2026-03-10T12:00:00.000Z] [CRITICAL] [ERROR_RATE] Error rate 11.00% exceeds 10% threshold", lines[0])

	raw, ok, err := mem.Get(ctx, "alert:CRITICAL:ERROR_RATE")
	require.NoError(t, err)
	require.True(t, ok)
	var stored Alert
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	require.Equal(t, Critical, stored.Severity)
	require.InDelta(t, 0.11, stored.Value, 1e-9)

	clk.Add(time.Hour)
	_, ok, _ = mem.Get(ctx, "alert:CRITICAL:ERROR_RATE")
	require.False(t, ok, "mirror should expire after 1h")
}

func TestEngine_RecentAlertsAndStatistics(t *testing.T) {
	ctx := context.Background()
	e, _, clk, _ := newEngine(t)

	e.Trigger(ctx, Alert{Severity: Critical, Type: ErrorRate, Message: "one"})
	clk.Add(time.Second)
	e.Trigger(ctx, Alert{Severity: High, Type: ResponseTime, Endpoint: "GET /x", Message: "two"})
	clk.Add(time.Second)
	e.Trigger(ctx, Alert{Severity: Medium, Type: ErrorRate, Message: "three"})

	recent, err := e.RecentAlerts(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "three", recent[0].Message)
	require.Equal(t, "two", recent[1].Message)
	require.Equal(t, High, recent[1].Severity)

	st, err := e.Statistics()
	require.NoError(t, err)
	require.Equal(t, 3, st.Total)
	require.Equal(t, 1, st.Critical)
	require.Equal(t, 1, st.High)
	require.Equal(t, 1, st.Medium)
	require.Equal(t, 0, st.Low)
	require.Equal(t, map[string]int{"ERROR_RATE": 2, "RESPONSE_TIME": 1}, st.ByType)

	require.NoError(t, e.ClearLog())
	st, err = e.Statistics()
	require.NoError(t, err)
	require.Zero(t, st.Total)
}

func TestEngine_ReadsWithoutLogFile(t *testing.T) {
	e, _, _, _ := newEngine(t)

	recent, err := e.RecentAlerts(10)
	require.NoError(t, err)
	require.Empty(t, recent)
	require.NoError(t, e.ClearLog())
}

type failingStore struct{}

func (failingStore) SetEx(context.Context, string, time.Duration, string) error {
	return errors.New("store down")
}

type recordingNotifier struct{ got []Alert }

func (n *recordingNotifier) Notify(_ context.Context, a Alert) error {
	n.got = append(n.got, a)
	return errors.New("publish failed")
}

func TestEngine_PersistenceFailuresDoNotBlock(t *testing.T) {
	n := &recordingNotifier{}
	// diretório do log é um arquivo: a escrita falha
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	e := New(Config{
		Store:    failingStore{},
		LogPath:  filepath.Join(blocker, "alerts.log"),
		Notifier: n,
		Logger:   logger.Discard(),
	})

	require.True(t, e.Trigger(context.Background(), Alert{Severity: Low, Type: ErrorRate, Message: "x"}))
	require.Len(t, n.got, 1)
}

func TestNATSNotifier_SubjectPerSeverity(t *testing.T) {
	n := &NATSNotifier{Subject: "gateway.alerts"}
	require.Equal(t, "gateway.alerts.critical", n.subjectFor(Critical))
	require.Equal(t, "gateway.alerts.low", n.subjectFor(Low))
}

func TestParseLine_RejectsGarbage(t *testing.T) {
	_, ok := parseLine("not an alert")
	require.False(t, ok)

	r, ok := parseLine("[2026-03-10T12:00:00.000Z] [HIGH] [RESPONSE_TIME] Slow response on GET /x: 3500ms exceeds 3000ms")
	require.True(t, ok)
	require.Equal(t, High, r.Severity)
	require.Equal(t, ResponseTime, r.Type)
}
