package awsclient

import (
	"context"
	"testing"
	"time"
)

func TestOptionsNormalize(t *testing.T) {
	opts := Options{Region: " eu-west-1 "}.Normalize()
	if opts.Region != "eu-west-1" {
		t.Errorf("expected trimmed region, got %q", opts.Region)
	}
	if opts.RequestTimeout != DefaultRequestTimeout || opts.MaxAttempts != DefaultMaxAttempts || opts.MaxBackoff != DefaultMaxBackoff {
		t.Errorf("expected defaults, got %+v", opts)
	}

	custom := Options{Region: "us-east-1", RequestTimeout: time.Second, MaxAttempts: 2, MaxBackoff: time.Millisecond}.Normalize()
	if custom.RequestTimeout != time.Second || custom.MaxAttempts != 2 || custom.MaxBackoff != time.Millisecond {
		t.Errorf("expected explicit values to be kept, got %+v", custom)
	}
}

func TestLoad_RequiresRegion(t *testing.T) {
	if _, err := Load(context.Background(), Options{}); err == nil {
		t.Fatal("expected an error without a region")
	}
}

func TestLoad_AppliesRetryerAndCredentials(t *testing.T) {
	cfg, err := Load(context.Background(), Options{
		Region:          "us-east-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		MaxAttempts:     3,
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Region != "us-east-1" {
		t.Fatalf("expected region us-east-1, got %q", cfg.Region)
	}
	if cfg.Retryer == nil {
		t.Fatal("expected a retryer")
	}
	if got := cfg.Retryer().MaxAttempts(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}

	creds, err := cfg.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("retrieve credentials: %v", err)
	}
	if creds.AccessKeyID != "AKIDEXAMPLE" {
		t.Fatalf("expected static access key, got %q", creds.AccessKeyID)
	}
}
