package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_NoopByDefault(t *testing.T) {
	t.Parallel()

	p, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, p.Tracer)
	assert.NotNil(t, p.Meter)
	assert.NotNil(t, p.Logger)
	assert.Nil(t, p.MetricsHandler)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_PrometheusServesEngineMetrics(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Prometheus = true
	cfg.LogFile = filepath.Join(t.TempDir(), "varorder.log")

	p, err := Init(cfg)
	require.NoError(t, err)
	require.NotNil(t, p.MetricsHandler)

	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	em, err := NewEngineMetrics(p.Meter)
	require.NoError(t, err)

	ctx := context.Background()
	em.RecordJob(ctx, false, 20*time.Millisecond)
	em.RecordJob(ctx, true, time.Second)
	em.RecordFlush(ctx, 10)

	rec := httptest.NewRecorder()
	p.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "varorder_jobs_total")
	assert.Contains(t, body, `status="failed"`)
	assert.Contains(t, body, "varorder_sink_rows_total")

	p.Logger.Info("written to file")
	assert.FileExists(t, cfg.LogFile)
}

func TestEngineMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var em *EngineMetrics

	ctx := context.Background()
	em.RecordJob(ctx, true, time.Second)
	em.RecordFlush(ctx, 1)
	em.RecordArchive(ctx)
	em.AddQueued(ctx, 3)
	em.RecordGenerated(ctx, "p", 3)
}

func TestTracingHandler_AddsServiceAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(NewTracingHandler(slog.NewTextHandler(&buf, nil), "varorder", "test", ModeRun))
	logger.Info("hello", slog.Int64("job_id", 7))

	out := buf.String()
	assert.Contains(t, out, "service=varorder")
	assert.Contains(t, out, "mode=run")
	assert.Contains(t, out, "env=test")
	assert.Contains(t, out, "job_id=7")
	assert.NotContains(t, out, "trace_id")
}

func TestHealthHandlers(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	failing := func(context.Context) error { return errors.New("down") }
	passing := func(context.Context) error { return nil }

	rec = httptest.NewRecorder()
	ReadyHandler(passing, failing).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	ReadyHandler(passing).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	assert.Nil(t, ParseOTLPHeaders(""))
	assert.Nil(t, ParseOTLPHeaders("garbage"))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, ParseOTLPHeaders(" a=1 , b = 2"))
	assert.False(t, strings.Contains(ParseOTLPHeaders("k=v")["k"], " "))
}
