package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/requestctx"
)

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)

	logEvent := EventLogger(zap.New(baseCore))

	logEvent(context.Background(), "order.approved", map[string]any{"order": "ord-1"})
	require.Equal(t, 1, baseLogs.Len())
	entry := baseLogs.All()[0]
	require.Equal(t, "order.approved", entry.Message)
	require.Equal(t, "ord-1", entry.ContextMap()["order"])

	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	logEvent(ctx, "order.rejected", nil)
	require.Equal(t, 1, baseLogs.Len())
	require.Equal(t, 1, reqLogs.Len())
	require.Equal(t, "order.rejected", reqLogs.All()[0].ContextMap()["event"])
}

func TestRequestLoggerMiddlewareLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := middleware.RequestID(
		InjectLoggerMiddleware(zap.New(core))(
			RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, "missing") {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})),
		),
	)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/missing", nil))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, int64(http.StatusNoContent), entries[0].ContextMap()["status"])
	require.NotEmpty(t, entries[0].ContextMap()["request_id"])
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("silo exploded")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), `"internal_server_error"`)
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestTraceMiddlewareContinuesCloudTrace(t *testing.T) {
	const traceID = "105445aa7843bc8bf206b12000100000"

	var seen requestctx.TraceInfo
	handler := TraceMiddleware("farm-project")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(cloudTraceHeader, traceID+"/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, traceID, seen.TraceID)
	require.Equal(t, "farm-project", seen.ProjectID)
	require.True(t, strings.HasPrefix(rec.Header().Get(cloudTraceHeader), traceID+"/"))
}

func TestParseCloudTraceContextRejectsGarbage(t *testing.T) {
	for _, header := range []string{"", "nonsense", "zz/1;o=1", "105445aa7843bc8bf206b12000100000/xyz"} {
		_, ok := parseCloudTraceContext(header)
		require.False(t, ok, header)
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("chatty")
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}
