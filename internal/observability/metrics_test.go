package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"applyflow/internal/applications/saga"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	return m, reg
}

func TestMetricsTracksCalls(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	span := metrics.Start("POST /api/v1/applications")
	assert.EqualValues(t, 1, metrics.InFlight())
	span.End(nil)

	span = metrics.Start("POST /api/v1/applications")
	span.End(errors.New("fail"))

	snap := metrics.Snapshot()
	stats := snap.Routes["POST /api/v1/applications"]
	assert.EqualValues(t, 2, stats.Count)
	assert.EqualValues(t, 1, stats.Errors)
	assert.Zero(t, stats.InFlight)
	assert.EqualValues(t, 2, snap.TotalRequests)
	assert.EqualValues(t, 1, snap.TotalErrors)
	assert.Zero(t, metrics.InFlight())
}

func TestMetricsRecordsSagaOutcomes(t *testing.T) {
	metrics, reg := newTestMetrics(t)

	metrics.StepDone(saga.StepValidate, 2*time.Millisecond, nil)
	metrics.StepDone(saga.StepSaveApplication, 4*time.Millisecond, errors.New("db down"))
	metrics.SagaDone(saga.StatusSucceeded)
	metrics.SagaDone(saga.StatusCompensated)
	metrics.SagaDone(saga.StatusCompensated)
	metrics.PublishFailed("APPLICATION_CREATED")

	snap := metrics.Snapshot()
	assert.Equal(t, map[string]int64{"succeeded": 1, "compensated": 2}, snap.Sagas)
	assert.EqualValues(t, 1, snap.Steps[string(saga.StepSaveApplication)].Failures)
	assert.EqualValues(t, 1, snap.Steps[string(saga.StepValidate)].Count)
	assert.EqualValues(t, 1, snap.PublishFailures["APPLICATION_CREATED"])

	expected := `
# HELP applyflow_saga_runs_total Saga runs by final status.
# TYPE applyflow_saga_runs_total counter
applyflow_saga_runs_total{status="compensated"} 2
applyflow_saga_runs_total{status="succeeded"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "applyflow_saga_runs_total"))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.prom.steps))
}

func TestMetricsTracksRateLimitWait(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	metrics.AddRateLimitWait(50 * time.Millisecond)
	metrics.AddRateLimitWait(25 * time.Millisecond)
	metrics.AddRateLimitWait(0)

	snap := metrics.Snapshot()
	assert.EqualValues(t, 2, snap.RateLimitWaits)
	assert.EqualValues(t, 75, snap.RateLimitWaitMs)
	assert.InDelta(t, 0.075, testutil.ToFloat64(metrics.prom.rateLimitWait), 1e-9)
}

func TestMetricsMarkShutdown(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	metrics.MarkShutdown(5)
	snap := metrics.Snapshot()
	require.NotNil(t, snap.Lifecycle)
	assert.EqualValues(t, 5, snap.Lifecycle.InFlightAtShutdown)
	assert.False(t, snap.Lifecycle.ShutdownAt.IsZero())
}

func TestNewMetricsRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMuxServesBothFormats(t *testing.T) {
	metrics, reg := newTestMetrics(t)
	metrics.SagaDone(saga.StatusFailed)
	mux := NewMux(metrics, reg)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `applyflow_saga_runs_total{status="failed"} 1`)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.EqualValues(t, 1, snap.Sagas["failed"])
}

func TestMiddlewareCountsServerErrors(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	h := Middleware(metrics, "GET /boom", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	ok := Middleware(metrics, "GET /ok", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))

	snap := metrics.Snapshot()
	assert.EqualValues(t, 1, snap.Routes["GET /boom"].Errors)
	assert.Zero(t, snap.Routes["GET /ok"].Errors)
	assert.EqualValues(t, 1, snap.Routes["GET /ok"].Count)
}

func TestMetricsNilSafePaths(t *testing.T) {
	var m *Metrics
	span := m.Start("ignored")
	span.End(nil)

	m.StepDone(saga.StepValidate, time.Millisecond, nil)
	m.SagaDone(saga.StatusSucceeded)
	m.PublishFailed("x")
	m.MarkShutdown(10)
	assert.Zero(t, m.InFlight())
}

func TestMetricsWithoutRegistry(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	m.SagaDone(saga.StatusSucceeded)
	m.Start("r").End(nil)
	assert.EqualValues(t, 1, m.Snapshot().Sagas["succeeded"])
}
