package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimburion/backupstore/pkg/config"
	"github.com/nimburion/backupstore/pkg/health"
	"github.com/nimburion/backupstore/pkg/lease"
	"github.com/nimburion/backupstore/pkg/observability/logger"
	"github.com/nimburion/backupstore/pkg/repository/table"
	dynamostore "github.com/nimburion/backupstore/pkg/store/dynamodb"
	s3store "github.com/nimburion/backupstore/pkg/store/s3"
)

// LeaseStore is a lease store that can be probed.
type LeaseStore interface {
	lease.Store
	health.Checkable
}

// Backends holds the store clients a command works with.
type Backends struct {
	Objects *s3store.Adapter
	Tables  *dynamostore.Adapter
	Lease   LeaseStore

	closers []func() error
}

// BackendFactory builds the store clients from configuration.
type BackendFactory func(ctx context.Context, cfg *config.Config, log logger.Logger) (*Backends, error)

// NewBackends builds the AWS clients and the configured lease store. Nothing is
// contacted until a command uses them.
func NewBackends(ctx context.Context, cfg *config.Config, log logger.Logger) (*Backends, error) {
	objects, err := s3store.NewAdapter(ctx, cfg.S3(), log)
	if err != nil {
		return nil, fmt.Errorf("create s3 adapter: %w", err)
	}
	tables, err := dynamostore.NewAdapter(ctx, cfg.DynamoDB(), log)
	if err != nil {
		return nil, fmt.Errorf("create dynamodb adapter: %w", err)
	}
	b := &Backends{Objects: objects, Tables: tables}
	b.closers = append(b.closers, objects.Close, tables.Close)

	switch cfg.Lease.Backend {
	case config.LeaseBackendRedis:
		store, err := lease.NewRedisStore(cfg.Redis(), log)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("create redis lease store: %w", err)
		}
		b.Lease = store
		b.closers = append(b.closers, store.Close)
	default:
		b.Lease = lease.NewS3Store(objects, log)
	}
	return b, nil
}

// HealthRegistry registers a checker per backend. The object store is probed through
// the configured container and the table store through the configured table, so a
// missing container or table reports degraded rather than unhealthy.
func (b *Backends) HealthRegistry(cfg *config.Config, log logger.Logger) *health.Registry {
	registry := health.NewRegistry()
	if b.Objects != nil {
		if container := cfg.ObjectStorage.Container; container != "" {
			registry.Register(health.NewResourceChecker("object_store", container, b.Objects.WithBucket(container).BucketExists))
		}
	}
	if b.Tables != nil {
		registry.Register(health.NewTableStoreChecker(b.Tables))
		if cfg.TableStorage.Table != "" {
			repo, err := table.New[table.Item](b.Tables, table.ItemMapper{}, cfg.Table(), log)
			if err == nil {
				registry.Register(health.NewResourceChecker("table", cfg.TableStorage.Table, func(ctx context.Context) (bool, error) {
					if err := repo.Initialize(ctx, false); err != nil {
						return false, err
					}
					return repo.TableExists(ctx)
				}))
			}
		}
	}
	if b.Lease != nil {
		registry.Register(health.NewLeaseStoreChecker(b.Lease))
	}
	return registry
}

// Close releases every client, in reverse creation order.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
