package lease

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nimburion/backupstore/pkg/observability/logger"
	"github.com/nimburion/backupstore/pkg/storeerr"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix           = "backupstore:lease"
	defaultRedisOperationTimeout = 3 * time.Second
)

var (
	// acquireScript returns -1 when the marker is missing, 1 when the lease was taken and
	// 0 when another owner holds it.
	acquireScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("SET", KEYS[2], ARGV[1], "NX", "PX", ARGV[2]) then
  return 1
end
return 0
`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
)

// RedisStoreConfig configures the Redis lease store.
type RedisStoreConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
}

func (c *RedisStoreConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
}

// RedisStore keeps leases as Redis keys with a PX expiry. The marker is a plain key
// that must exist before a lease can be taken.
type RedisStore struct {
	client redis.UniversalClient
	log    logger.Logger
	config RedisStoreConfig
}

// NewRedisStore connects to cfg.URL and verifies connectivity.
func NewRedisStore(cfg RedisStoreConfig, log logger.Logger) (*RedisStore, error) {
	if log == nil {
		return nil, storeerr.New(storeerr.ErrInvalidArgument, "logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, storeerr.New(storeerr.ErrInvalidArgument, "redis url is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrInvalidArgument, "parse redis url failed", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, storeerr.Wrap(storeerr.ErrRetryable, "ping redis failed", err)
	}

	return &RedisStore{client: client, log: log, config: cfg}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, cfg RedisStoreConfig, log logger.Logger) *RedisStore {
	if log == nil {
		log = logger.Nop()
	}
	cfg.normalize()
	return &RedisStore{client: client, log: log, config: cfg}
}

func (s *RedisStore) EnsureMarker(ctx context.Context, target Target) error {
	if err := s.ready(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()
	created, err := s.client.SetNX(opCtx, s.markerKey(target), PlaceholderContent, 0).Result()
	if err != nil {
		return storeerr.Wrap(storeerr.ErrRetryable, "create lease marker failed", err)
	}
	if created {
		s.log.Info("lease marker created", "resource", target.ResourceID())
	}
	return nil
}

func (s *RedisStore) Acquire(ctx context.Context, target Target, token string, ttl time.Duration) error {
	if err := s.ready(); err != nil {
		return err
	}
	if ttl <= 0 {
		return storeerr.New(storeerr.ErrInvalidArgument, "ttl must be > 0")
	}
	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()
	result, err := acquireScript.Run(opCtx, s.client, []string{s.markerKey(target), s.leaseKey(target)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return storeerr.Wrap(storeerr.ErrRetryable, "acquire lease failed", err)
	}
	switch result {
	case 1:
		return nil
	case -1:
		return errors.Join(uninitialized("lease store"), storeerr.New(storeerr.ErrNotFound, target.ResourceID()))
	default:
		return leaseError(ErrLeaseConflict, target, "lease key is set")
	}
}

func (s *RedisStore) Renew(ctx context.Context, target Target, token string, ttl time.Duration) error {
	if err := s.ready(); err != nil {
		return err
	}
	if ttl <= 0 {
		return storeerr.New(storeerr.ErrInvalidArgument, "ttl must be > 0")
	}
	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()
	result, err := renewScript.Run(opCtx, s.client, []string{s.leaseKey(target)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return storeerr.Wrap(storeerr.ErrRetryable, "renew lease failed", err)
	}
	if result == 0 {
		return leaseError(ErrLeaseLost, target, "lease renew rejected")
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, target Target, token string) error {
	if err := s.ready(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()
	result, err := releaseScript.Run(opCtx, s.client, []string{s.leaseKey(target)}, token).Int64()
	if err != nil {
		return storeerr.Wrap(storeerr.ErrRetryable, "release lease failed", err)
	}
	if result == 0 {
		return leaseError(ErrLeaseLost, target, "lease release rejected")
	}
	return nil
}

// HealthCheck verifies Redis connectivity.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()
	if err := s.client.Ping(opCtx).Err(); err != nil {
		return storeerr.Wrap(storeerr.ErrRetryable, "redis healthcheck failed", err)
	}
	return nil
}

// Close closes Redis client connections.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) ready() error {
	if s == nil || s.client == nil {
		return storeerr.New(storeerr.ErrUninitialized, "redis lease store is not initialized")
	}
	return nil
}

func (s *RedisStore) markerKey(target Target) string {
	return s.config.Prefix + ":" + target.ResourceID() + ":marker"
}

func (s *RedisStore) leaseKey(target Target) string {
	return s.config.Prefix + ":" + target.ResourceID() + ":lease"
}
