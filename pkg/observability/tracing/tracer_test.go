package tracing

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	provider, err := NewTracerProvider(context.Background(), TracerConfig{ServiceName: "backupstore"})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got: %v", err)
	}
	_, span := provider.Tracer("test").Start(context.Background(), "noop")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := provider.ForceFlush(ctx); err != nil {
		t.Errorf("unexpected flush error: %v", err)
	}
	if err := provider.Shutdown(ctx); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestTracerConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      TracerConfig
		expectedErr string
	}{
		{
			name:        "missing service name",
			config:      TracerConfig{Enabled: true, Endpoint: "localhost:4317"},
			expectedErr: "service name is required",
		},
		{
			name:        "missing endpoint",
			config:      TracerConfig{Enabled: true, ServiceName: "backupstore"},
			expectedErr: "OTLP endpoint is required",
		},
		{
			name:        "negative sample rate",
			config:      TracerConfig{Enabled: true, ServiceName: "backupstore", Endpoint: "localhost:4317", SampleRate: -0.1},
			expectedErr: "sample rate must be between 0 and 1",
		},
		{
			name:        "sample rate above one",
			config:      TracerConfig{Enabled: true, ServiceName: "backupstore", Endpoint: "localhost:4317", SampleRate: 1.5},
			expectedErr: "sample rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if err == nil || err.Error() != tt.expectedErr {
				t.Fatalf("expected error %q, got %v", tt.expectedErr, err)
			}
			if _, err := NewTracerProvider(context.Background(), tt.config); err == nil {
				t.Fatal("expected constructor to reject the configuration")
			}
		})
	}
}

func TestTracerConfig_ValidSampleRates(t *testing.T) {
	for _, rate := range []float64{0.0, 0.01, 0.1, 0.5, 1.0} {
		t.Run(fmt.Sprintf("rate_%v", rate), func(t *testing.T) {
			cfg := TracerConfig{Enabled: true, ServiceName: "backupstore", Endpoint: "localhost:4317", SampleRate: rate}
			if err := cfg.Validate(); err != nil {
				t.Errorf("expected no error for sample rate %f, got: %v", rate, err)
			}
		})
	}
}
