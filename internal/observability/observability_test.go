package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestLoggerFromContext_AddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, "info")
	ctx := WithCorrelationID(context.Background(), "corr-1")

	LoggerFromContext(ctx, base).Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "corr-1", line["correlation_id"])
	require.Equal(t, "corr-1", CorrelationID(ctx))
}

func TestLoggerFromContext_NoID(t *testing.T) {
	base := slog.Default()
	require.Same(t, base, LoggerFromContext(context.Background(), base))
}

func TestMetrics_ObserveAndExpose(t *testing.T) {
	m := NewMetrics("tutor")
	m.ObserveRequest("/chat", http.MethodPost, "200", 150*time.Millisecond)
	m.ObserveRequest("/chat", http.MethodPost, "200", 50*time.Millisecond)
	m.ObserveChatTurn("ok")

	require.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("/chat", http.MethodPost, "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ChatTurns.WithLabelValues("ok")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "tutor_http_requests_total")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("/", http.MethodGet, "200", time.Millisecond)
	m.ObserveChatTurn("ok")
}
