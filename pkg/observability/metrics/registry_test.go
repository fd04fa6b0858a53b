package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestIsolatedRegistry_ExposesRuntimeAndCustomMetrics(t *testing.T) {
	r := NewIsolatedRegistry()
	uploads := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_uploads_total",
		Help: "uploads",
	})
	require.NoError(t, r.Register(uploads))
	uploads.Add(3)

	body := scrape(t, r)
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "test_uploads_total 3")

	assert.True(t, r.Unregister(uploads))
	assert.NotContains(t, scrape(t, r), "test_uploads_total")
}

func TestIsolatedRegistry_DuplicateRegistrationFails(t *testing.T) {
	r := NewIsolatedRegistry()
	counter := func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: "test_dup_total", Help: "dup"})
	}
	r.MustRegister(counter())
	assert.Error(t, r.Register(counter()))
	assert.Panics(t, func() { r.MustRegister(counter()) })
}

func TestHandler_CountsScrapes(t *testing.T) {
	r := NewIsolatedRegistry()
	scrape(t, r)
	body := scrape(t, r)
	assert.Contains(t, body, `promhttp_metric_handler_requests_total{code="200"} 1`)
}

func TestDefaultRegistry_ServesPromautoMetrics(t *testing.T) {
	gauge := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "test_default_registry_gauge",
		Help: "registered through promauto",
	})
	t.Cleanup(func() { prometheus.DefaultRegisterer.Unregister(gauge) })
	gauge.Set(7)

	body := scrape(t, NewRegistry())
	assert.True(t, strings.Contains(body, "test_default_registry_gauge 7"), body)
	assert.NotNil(t, NewRegistry().Gatherer())
}
