// Package config loads backupstore settings from defaults, an optional file, an
// optional secrets file, environment variables and command line flags.
package config

import (
	"time"

	"github.com/nimburion/backupstore/pkg/lease"
	"github.com/nimburion/backupstore/pkg/observability/tracing"
	"github.com/nimburion/backupstore/pkg/repository/object"
	"github.com/nimburion/backupstore/pkg/repository/table"
	"github.com/nimburion/backupstore/pkg/store/awsclient"
	dynamostore "github.com/nimburion/backupstore/pkg/store/dynamodb"
	s3store "github.com/nimburion/backupstore/pkg/store/s3"
)

// Lease backends.
const (
	LeaseBackendS3    = "s3"
	LeaseBackendRedis = "redis"
)

// Config is the complete backupstore configuration.
type Config struct {
	Log           LogConfig            `mapstructure:"log"`
	AWS           AWSConfig            `mapstructure:"aws"`
	ObjectStorage ObjectStorageConfig  `mapstructure:"object_storage"`
	TableStorage  TableStorageConfig   `mapstructure:"table_storage"`
	Lease         LeaseConfig          `mapstructure:"lease"`
	Metrics       MetricsConfig        `mapstructure:"metrics"`
	Tracing       tracing.TracerConfig `mapstructure:"tracing"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AWSConfig is shared by the S3 and DynamoDB clients.
type AWSConfig struct {
	Region          string        `mapstructure:"region"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	SessionToken    string        `mapstructure:"session_token"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
}

// ObjectStorageConfig configures the S3 client and the object repository.
type ObjectStorageConfig struct {
	Endpoint         string        `mapstructure:"endpoint"`
	UsePathStyle     bool          `mapstructure:"use_path_style"`
	Container        string        `mapstructure:"container"`
	PublicRead       bool          `mapstructure:"public_read"`
	ListParallelism  int           `mapstructure:"list_parallelism"`
	PageSize         int32         `mapstructure:"page_size"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	PresignExpiry    time.Duration `mapstructure:"presign_expiry"`
}

// TableStorageConfig configures the DynamoDB client and the table repository.
type TableStorageConfig struct {
	Endpoint         string        `mapstructure:"endpoint"`
	Table            string        `mapstructure:"table"`
	CreateIfMissing  bool          `mapstructure:"create_if_missing"`
	CreateTimeout    time.Duration `mapstructure:"create_timeout"`
	CreateRetryDelay time.Duration `mapstructure:"create_retry_delay"`
	BatchParallelism int           `mapstructure:"batch_parallelism"`
	PageSize         int32         `mapstructure:"page_size"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// LeaseConfig selects and configures the lease store.
type LeaseConfig struct {
	Backend         string `mapstructure:"backend"`
	Container       string `mapstructure:"container"`
	Marker          string `mapstructure:"marker"`
	DurationSeconds int    `mapstructure:"duration_seconds"`
	RedisURL        string `mapstructure:"redis_url"`
	RedisPrefix     string `mapstructure:"redis_prefix"`
}

// MetricsConfig configures the Prometheus endpoint served by long running commands.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		AWS: AWSConfig{
			RequestTimeout: awsclient.DefaultRequestTimeout,
			MaxAttempts:    awsclient.DefaultMaxAttempts,
			MaxBackoff:     awsclient.DefaultMaxBackoff,
		},
		ObjectStorage: ObjectStorageConfig{
			PublicRead:       true,
			ListParallelism:  8,
			PageSize:         1000,
			OperationTimeout: 15 * time.Minute,
			PresignExpiry:    15 * time.Minute,
		},
		TableStorage: TableStorageConfig{
			CreateIfMissing:  true,
			CreateTimeout:    30 * time.Second,
			CreateRetryDelay: time.Second,
			PageSize:         table.DeletePageSize,
			OperationTimeout: 15 * time.Minute,
		},
		Lease: LeaseConfig{
			Backend:         LeaseBackendS3,
			Marker:          "lease",
			DurationSeconds: lease.MaxLeaseSeconds,
			RedisPrefix:     "backupstore:lease:",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
			Path:    "/metrics",
		},
		Tracing: tracing.TracerConfig{
			ServiceName: "backupstore",
			Environment: "development",
			SampleRate:  1,
		},
	}
}

// ClientOptions returns the SDK tuning shared by both AWS clients.
func (c AWSConfig) ClientOptions() awsclient.Options {
	return awsclient.Options{
		Region:          c.Region,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		RequestTimeout:  c.RequestTimeout,
		MaxAttempts:     c.MaxAttempts,
		MaxBackoff:      c.MaxBackoff,
	}
}

// S3 returns the S3 adapter configuration.
func (c *Config) S3() s3store.Config {
	return s3store.Config{
		Bucket:           c.ObjectStorage.Container,
		Endpoint:         c.ObjectStorage.Endpoint,
		UsePathStyle:     c.ObjectStorage.UsePathStyle,
		Client:           c.AWS.ClientOptions(),
		OperationTimeout: c.ObjectStorage.OperationTimeout,
		PresignExpiry:    c.ObjectStorage.PresignExpiry,
	}
}

// DynamoDB returns the DynamoDB adapter configuration.
func (c *Config) DynamoDB() dynamostore.Config {
	return dynamostore.Config{
		Endpoint:         c.TableStorage.Endpoint,
		Client:           c.AWS.ClientOptions(),
		OperationTimeout: c.TableStorage.OperationTimeout,
	}
}

// Objects returns the object repository configuration.
func (c *Config) Objects() object.Config {
	return object.Config{
		Container:       c.ObjectStorage.Container,
		PublicRead:      c.ObjectStorage.PublicRead,
		ListParallelism: c.ObjectStorage.ListParallelism,
		PageSize:        c.ObjectStorage.PageSize,
	}
}

// Table returns the table repository configuration.
func (c *Config) Table() table.Config {
	return table.Config{
		Table:            c.TableStorage.Table,
		CreateTimeout:    c.TableStorage.CreateTimeout,
		CreateRetryDelay: c.TableStorage.CreateRetryDelay,
		BatchParallelism: c.TableStorage.BatchParallelism,
		PageSize:         c.TableStorage.PageSize,
	}
}

// LeaseContainer returns the lease container, falling back to the object container.
func (c *Config) LeaseContainer() string {
	if c.Lease.Container != "" {
		return c.Lease.Container
	}
	return c.ObjectStorage.Container
}

// Redis returns the Redis lease store configuration.
func (c *Config) Redis() lease.RedisStoreConfig {
	return lease.RedisStoreConfig{
		URL:    c.Lease.RedisURL,
		Prefix: c.Lease.RedisPrefix,
	}
}
