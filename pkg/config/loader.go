package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nimburion/backupstore/pkg/lease"
	"github.com/nimburion/backupstore/pkg/observability/logger"
	"github.com/nimburion/backupstore/pkg/validate"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment variable read by the loader.
const DefaultEnvPrefix = "BACKUPSTORE"

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (defaults to BACKUPSTORE)
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: strings.TrimSpace(configFile),
		envPrefix:  envPrefix,
	}
}

// WithFlags makes changed command line flags override every other source.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// ConfigFile returns the configured file path, or empty string if none.
func (l *ViperLoader) ConfigFile() string {
	return l.configFile
}

// Load loads configuration with precedence: flags > ENV > secrets file > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	cfg, _, err := l.LoadWithSecrets()
	return cfg, err
}

func (l *ViperLoader) read(v *viper.Viper) error {
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}
	return nil
}

func (l *ViperLoader) override(v *viper.Viper) {
	v.SetEnvPrefix(l.prefix())
	l.bindEnvVars(v)
	l.applyFlags(v)
}

func (l *ViperLoader) decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKeys lists every key that can be overridden from the environment. The variable
// name is the prefix plus the upper-cased key with dots replaced by underscores.
var envKeys = []string{
	"log.level",
	"log.format",

	"aws.region",
	"aws.access_key_id",
	"aws.secret_access_key",
	"aws.session_token",
	"aws.request_timeout",
	"aws.max_attempts",
	"aws.max_backoff",

	"object_storage.endpoint",
	"object_storage.use_path_style",
	"object_storage.container",
	"object_storage.public_read",
	"object_storage.list_parallelism",
	"object_storage.page_size",
	"object_storage.operation_timeout",
	"object_storage.presign_expiry",

	"table_storage.endpoint",
	"table_storage.table",
	"table_storage.create_if_missing",
	"table_storage.create_timeout",
	"table_storage.create_retry_delay",
	"table_storage.batch_parallelism",
	"table_storage.page_size",
	"table_storage.operation_timeout",

	"lease.backend",
	"lease.container",
	"lease.marker",
	"lease.duration_seconds",
	"lease.redis_url",
	"lease.redis_prefix",

	"metrics.enabled",
	"metrics.address",
	"metrics.path",

	"tracing.enabled",
	"tracing.service_name",
	"tracing.service_version",
	"tracing.environment",
	"tracing.endpoint",
	"tracing.sample_rate",
}

// sharedEnv maps keys to the unprefixed variables the AWS tooling already uses. The
// prefixed variable wins when both are set.
var sharedEnv = map[string]string{
	"aws.region":            "AWS_REGION",
	"aws.access_key_id":     "AWS_ACCESS_KEY_ID",
	"aws.secret_access_key": "AWS_SECRET_ACCESS_KEY",
	"aws.session_token":     "AWS_SESSION_TOKEN",
}

func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	for _, key := range envKeys {
		names := []string{key, l.envName(key)}
		if shared, ok := sharedEnv[key]; ok {
			names = append(names, shared)
		}
		_ = v.BindEnv(names...)
	}
}

// flagKeys maps config keys to the command line flags that override them.
var flagKeys = map[string]string{
	"log.level":                "log-level",
	"log.format":               "log-format",
	"aws.region":               "region",
	"object_storage.endpoint":  "s3-endpoint",
	"object_storage.container": "container",
	"table_storage.endpoint":   "dynamodb-endpoint",
	"table_storage.table":      "table",
	"lease.backend":            "lease-backend",
	"lease.redis_url":          "redis-url",
	"metrics.enabled":          "metrics",
	"metrics.address":          "metrics-address",
}

// RegisterFlags declares the override flags on flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (json, text)")
	flags.String("region", "", "AWS region")
	flags.String("s3-endpoint", "", "custom S3 endpoint")
	flags.String("container", "", "object container (bucket) name")
	flags.String("dynamodb-endpoint", "", "custom DynamoDB endpoint")
	flags.String("table", "", "table name")
	flags.String("lease-backend", "", "lease store backend (s3, redis)")
	flags.String("redis-url", "", "Redis URL for the redis lease backend")
	flags.Bool("metrics", false, "serve Prometheus metrics while the command runs")
	flags.String("metrics-address", "", "Prometheus metrics listen address")
}

func (l *ViperLoader) applyFlags(v *viper.Viper) {
	if l.flags == nil {
		return
	}
	for key, name := range flagKeys {
		flag := l.flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		v.Set(key, flag.Value.String())
	}
}

func (l *ViperLoader) prefix() string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return strings.ToUpper(prefix)
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	return fmt.Sprintf("%s_%s", l.prefix(), suffix)
}

func (l *ViperLoader) envName(key string) string {
	return l.prefixedEnv(strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("aws.region", cfg.AWS.Region)
	v.SetDefault("aws.access_key_id", cfg.AWS.AccessKeyID)
	v.SetDefault("aws.secret_access_key", cfg.AWS.SecretAccessKey)
	v.SetDefault("aws.session_token", cfg.AWS.SessionToken)
	v.SetDefault("aws.request_timeout", cfg.AWS.RequestTimeout)
	v.SetDefault("aws.max_attempts", cfg.AWS.MaxAttempts)
	v.SetDefault("aws.max_backoff", cfg.AWS.MaxBackoff)

	v.SetDefault("object_storage.endpoint", cfg.ObjectStorage.Endpoint)
	v.SetDefault("object_storage.use_path_style", cfg.ObjectStorage.UsePathStyle)
	v.SetDefault("object_storage.container", cfg.ObjectStorage.Container)
	v.SetDefault("object_storage.public_read", cfg.ObjectStorage.PublicRead)
	v.SetDefault("object_storage.list_parallelism", cfg.ObjectStorage.ListParallelism)
	v.SetDefault("object_storage.page_size", cfg.ObjectStorage.PageSize)
	v.SetDefault("object_storage.operation_timeout", cfg.ObjectStorage.OperationTimeout)
	v.SetDefault("object_storage.presign_expiry", cfg.ObjectStorage.PresignExpiry)

	v.SetDefault("table_storage.endpoint", cfg.TableStorage.Endpoint)
	v.SetDefault("table_storage.table", cfg.TableStorage.Table)
	v.SetDefault("table_storage.create_if_missing", cfg.TableStorage.CreateIfMissing)
	v.SetDefault("table_storage.create_timeout", cfg.TableStorage.CreateTimeout)
	v.SetDefault("table_storage.create_retry_delay", cfg.TableStorage.CreateRetryDelay)
	v.SetDefault("table_storage.batch_parallelism", cfg.TableStorage.BatchParallelism)
	v.SetDefault("table_storage.page_size", cfg.TableStorage.PageSize)
	v.SetDefault("table_storage.operation_timeout", cfg.TableStorage.OperationTimeout)

	v.SetDefault("lease.backend", cfg.Lease.Backend)
	v.SetDefault("lease.container", cfg.Lease.Container)
	v.SetDefault("lease.marker", cfg.Lease.Marker)
	v.SetDefault("lease.duration_seconds", cfg.Lease.DurationSeconds)
	v.SetDefault("lease.redis_url", cfg.Lease.RedisURL)
	v.SetDefault("lease.redis_prefix", cfg.Lease.RedisPrefix)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.address", cfg.Metrics.Address)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.service_version", cfg.Tracing.ServiceVersion)
	v.SetDefault("tracing.environment", cfg.Tracing.Environment)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
	v.SetDefault("tracing.sample_rate", cfg.Tracing.SampleRate)
}

// Validate normalizes cfg and returns every problem found, joined.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if _, err := logger.ParseLogLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := logger.ParseLogFormat(cfg.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}

	cfg.AWS.Region = strings.TrimSpace(cfg.AWS.Region)
	if cfg.AWS.MaxAttempts < 0 {
		errs = append(errs, errors.New("aws.max_attempts must not be negative"))
	}
	if (cfg.AWS.AccessKeyID == "") != (cfg.AWS.SecretAccessKey == "") {
		errs = append(errs, errors.New("aws.access_key_id and aws.secret_access_key must be set together"))
	}

	cfg.ObjectStorage.Container = strings.TrimSpace(cfg.ObjectStorage.Container)
	if cfg.ObjectStorage.Container != "" {
		if err := validate.ContainerName(cfg.ObjectStorage.Container); err != nil {
			errs = append(errs, fmt.Errorf("object_storage.container: %w", err))
		}
	}
	if cfg.ObjectStorage.ListParallelism < 0 {
		errs = append(errs, errors.New("object_storage.list_parallelism must not be negative"))
	}

	cfg.TableStorage.Table = strings.TrimSpace(cfg.TableStorage.Table)
	if cfg.TableStorage.Table != "" {
		if err := validate.TableName(cfg.TableStorage.Table); err != nil {
			errs = append(errs, fmt.Errorf("table_storage.table: %w", err))
		}
	}
	if cfg.TableStorage.BatchParallelism < 0 {
		errs = append(errs, errors.New("table_storage.batch_parallelism must not be negative"))
	}

	cfg.Lease.Backend = strings.ToLower(strings.TrimSpace(cfg.Lease.Backend))
	switch cfg.Lease.Backend {
	case LeaseBackendS3:
	case LeaseBackendRedis:
		if strings.TrimSpace(cfg.Lease.RedisURL) == "" {
			errs = append(errs, errors.New("lease.redis_url is required when lease.backend is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid lease.backend: %s (must be one of: %s, %s)", cfg.Lease.Backend, LeaseBackendS3, LeaseBackendRedis))
	}
	if cfg.Lease.DurationSeconds < lease.MinLeaseSeconds || cfg.Lease.DurationSeconds > lease.MaxLeaseSeconds {
		errs = append(errs, fmt.Errorf("lease.duration_seconds must be between %d and %d", lease.MinLeaseSeconds, lease.MaxLeaseSeconds))
	}

	if cfg.Metrics.Enabled {
		if strings.TrimSpace(cfg.Metrics.Address) == "" {
			errs = append(errs, errors.New("metrics.address is required when metrics are enabled"))
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, errors.New("metrics.path must start with /"))
		}
	}

	if err := cfg.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}

	return errors.Join(errs...)
}
