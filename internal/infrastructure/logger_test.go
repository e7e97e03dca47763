package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensecli/internal/config"
)

func TestNewLoggerInjectsTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug")

	ctx := WithTraceID(context.Background(), "trace-123")
	logger.InfoContext(ctx, "hello", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "trace-123", entry["trace_id"])
	assert.Equal(t, "value", entry["key"])
}

func TestNewLoggerLevel(t *testing.T) {
	tests := []struct {
		level  string
		logged bool
	}{
		{"debug", true},
		{"info", false},
		{"warning", false},
		{"bogus", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			NewLogger(&buf, tt.level).Debug("debug line")
			assert.Equal(t, tt.logged, buf.Len() > 0)
		})
	}
}

func TestInitializeLoggerFileOutput(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logFile := filepath.Join(t.TempDir(), "nested", "auth.log")
	logger, err := InitializeLogger(config.LoggingConfig{Level: "info", Output: "file", FilePath: logFile})
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Info("written to file")
	require.NoError(t, CloseLogFile())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "written to file")
	assert.Same(t, logger, GetLogger())
}

func TestEnsureTraceID(t *testing.T) {
	ctx := EnsureTraceID(context.Background())
	first := GetTraceID(ctx)
	assert.NotEmpty(t, first)
	assert.Equal(t, first, GetTraceID(EnsureTraceID(ctx)))
}

func TestInitializeOTel(t *testing.T) {
	providers, err := InitializeOTel(config.TelemetryConfig{
		ServiceName:    "test",
		Environment:    "test",
		TraceExporter:  "none",
		MetricExporter: "prometheus",
		SampleRatio:    1,
	}, nil)
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	require.NotNil(t, providers.PrometheusHTTP)
	counter, err := providers.Meter.Int64Counter("test_events_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	rec := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_events_total")
}

func TestInitializeOTelRejectsUnknownExporter(t *testing.T) {
	_, err := InitializeOTel(config.TelemetryConfig{TraceExporter: "jaeger", MetricExporter: "none"}, nil)
	assert.Error(t, err)
}
