package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nimburion/backupstore/pkg/health"
	"github.com/nimburion/backupstore/pkg/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) HealthCheck(context.Context) error { return errors.New("unreachable") }

type okStore struct{}

func (okStore) HealthCheck(context.Context) error { return nil }

func serve(t *testing.T, s *ManagementServer, path string) (int, []byte) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, body
}

func TestManagementServer_Health(t *testing.T) {
	s := NewManagementServer(Config{}, nil, metrics.NewIsolatedRegistry(), nil)

	code, body := serve(t, s, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))
}

func TestManagementServer_ReadyReflectsRegistry(t *testing.T) {
	registry := health.NewRegistry()
	registry.Register(health.NewObjectStoreChecker(okStore{}))
	s := NewManagementServer(Config{}, registry, metrics.NewIsolatedRegistry(), nil)

	code, body := serve(t, s, "/ready")
	assert.Equal(t, http.StatusOK, code)
	var result health.AggregatedResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, health.StatusHealthy, result.Status)
	require.Len(t, result.Checks, 1)
	assert.Equal(t, "object_store", result.Checks[0].Name)

	registry.Register(health.NewLeaseStoreChecker(failingStore{}))
	code, _ = serve(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestManagementServer_DegradedIsReady(t *testing.T) {
	registry := health.NewRegistry()
	registry.Register(health.NewResourceChecker("table", "BackupFiles", func(context.Context) (bool, error) {
		return false, nil
	}))
	s := NewManagementServer(Config{}, registry, metrics.NewIsolatedRegistry(), nil)

	code, _ := serve(t, s, "/ready")
	assert.Equal(t, http.StatusOK, code)
}

func TestManagementServer_MetricsPath(t *testing.T) {
	s := NewManagementServer(Config{MetricsPath: "/internal/metrics"}, nil, metrics.NewIsolatedRegistry(), nil)

	code, body := serve(t, s, "/internal/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "go_goroutines")

	code, _ = serve(t, s, "/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestManagementServer_StartAndShutdownOnCancel(t *testing.T) {
	s := NewManagementServer(Config{Address: "127.0.0.1:0"}, nil, metrics.NewIsolatedRegistry(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestManagementServer_StartFailsOnBadAddress(t *testing.T) {
	s := NewManagementServer(Config{Address: "256.0.0.1:bad"}, nil, metrics.NewIsolatedRegistry(), nil)
	assert.Error(t, s.Start(context.Background()))
}
