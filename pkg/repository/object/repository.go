// Package object stores typed values as compressed objects in one container. Every
// write carries a content digest that is verified on every read.
package object

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/backupstore/pkg/codec"
	"github.com/nimburion/backupstore/pkg/digest"
	"github.com/nimburion/backupstore/pkg/observability/logger"
	"github.com/nimburion/backupstore/pkg/observability/tracing"
	s3store "github.com/nimburion/backupstore/pkg/store/s3"
	"github.com/nimburion/backupstore/pkg/storeerr"
	"github.com/nimburion/backupstore/pkg/validate"
	"golang.org/x/sync/errgroup"
)

// ObjectRef describes a written object.
type ObjectRef struct {
	Name   string
	ETag   string
	Digest string
	Size   int64
}

// Repository stores values of type T under flat object names.
type Repository[T any] struct {
	adapter *s3store.Adapter
	config  Config
	log     logger.Logger

	mu          sync.RWMutex
	initialized bool
}

// New returns a repository over cfg.Container. The adapter's client is shared; its own
// bucket is not used. Initialize must be called before any other operation.
func New[T any](adapter *s3store.Adapter, cfg Config, log logger.Logger) (*Repository[T], error) {
	if adapter == nil {
		return nil, storeerr.New(storeerr.ErrInvalidArgument, "s3 adapter is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	cfg = cfg.normalize()
	cfg.Container = strings.TrimSpace(cfg.Container)
	return &Repository[T]{
		adapter: adapter.WithBucket(cfg.Container),
		config:  cfg,
		log:     log.With("container", cfg.Container),
	}, nil
}

// Container returns the bucket name.
func (r *Repository[T]) Container() string { return r.config.Container }

// Initialize validates the container name, creates the container when missing and
// applies the public read policy when configured.
func (r *Repository[T]) Initialize(ctx context.Context) error {
	logger.Entered(r.log, "Initialize")
	if err := validate.ContainerName(r.config.Container); err != nil {
		return err
	}

	created, err := r.adapter.EnsureBucket(ctx)
	if err != nil {
		r.log.Error("failed to ensure container", "error", err)
		return err
	}
	if created {
		r.log.Info("container created")
	}
	if r.config.PublicRead {
		if err := r.adapter.SetPublicRead(ctx); err != nil {
			r.log.Error("failed to apply public read policy", "error", err)
			return err
		}
	}

	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()
	return nil
}

// Set encodes value and stores it under name, replacing any prior object.
func (r *Repository[T]) Set(ctx context.Context, name string, value T) (ObjectRef, error) {
	logger.Entered(r.log, "Set", "name", name)
	if err := r.ready("Set"); err != nil {
		return ObjectRef{}, err
	}
	if err := validate.ObjectName(name); err != nil {
		return ObjectRef{}, err
	}

	ctx, span := tracing.StartStorageSpan(ctx, tracing.SpanOperationObjectWrite,
		tracing.WithSystem("s3"), tracing.WithContainer(r.config.Container), tracing.WithKey(name))
	ref, err := r.set(ctx, name, value)
	tracing.End(span, err)
	return ref, err
}

func (r *Repository[T]) set(ctx context.Context, name string, value T) (ObjectRef, error) {
	payload, err := codec.Marshal(value)
	if err != nil {
		return ObjectRef{}, err
	}
	tag := digest.Compute(payload)
	etag, err := r.adapter.UploadBytes(ctx, name, payload, codec.ContentType, digest.WithTag(nil, tag))
	if err != nil {
		r.log.Error("failed to upload object", "name", name, "error", err)
		return ObjectRef{}, err
	}
	return ObjectRef{Name: name, ETag: etag, Digest: tag, Size: int64(len(payload))}, nil
}

// Get returns the value stored under name. A missing object yields found=false and a
// nil error. A digest mismatch returns storeerr.ErrDataCorruption.
func (r *Repository[T]) Get(ctx context.Context, name string) (T, bool, error) {
	logger.Entered(r.log, "Get", "name", name)
	var zero T
	if err := r.ready("Get"); err != nil {
		return zero, false, err
	}
	if err := validate.ObjectName(name); err != nil {
		return zero, false, err
	}

	ctx, span := tracing.StartStorageSpan(ctx, tracing.SpanOperationObjectRead,
		tracing.WithSystem("s3"), tracing.WithContainer(r.config.Container), tracing.WithKey(name))
	value, found, err := r.get(ctx, name)
	tracing.End(span, err)
	return value, found, err
}

func (r *Repository[T]) get(ctx context.Context, name string) (T, bool, error) {
	var value T
	obj, err := r.adapter.Get(ctx, name)
	if err != nil {
		if errors.Is(err, storeerr.ErrNotFound) {
			return value, false, nil
		}
		return value, false, err
	}
	if err := digest.VerifyBytes(digest.Lookup(obj.Metadata), obj.Payload); err != nil {
		r.log.Error("object failed integrity check", "name", name, "error", err)
		return value, false, err
	}
	if err := codec.Unmarshal(obj.Payload, &value); err != nil {
		return value, false, err
	}
	return value, true, nil
}

// List returns every value whose name starts with prefix, in name order. Pages are
// requested until the store reports no continuation. When ctx is cancelled the values
// accumulated so far are returned together with ctx.Err().
func (r *Repository[T]) List(ctx context.Context, prefix string) ([]T, error) {
	logger.Entered(r.log, "List", "prefix", prefix)
	if err := r.ready("List"); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartStorageSpan(ctx, tracing.SpanOperationObjectRead,
		tracing.WithSystem("s3"), tracing.WithContainer(r.config.Container), tracing.WithKey(prefix))
	results, err := r.list(ctx, prefix)
	tracing.End(span, err)
	return results, err
}

func (r *Repository[T]) list(ctx context.Context, prefix string) ([]T, error) {
	var results []T
	err := r.walk(ctx, prefix, func(objects []s3store.ObjectInfo) error {
		values, err := r.fetch(ctx, objects)
		results = append(results, values...)
		return err
	})
	return results, err
}

// fetch downloads objects concurrently and returns the decoded values in input order.
// Objects deleted between listing and download are skipped.
func (r *Repository[T]) fetch(ctx context.Context, objects []s3store.ObjectInfo) ([]T, error) {
	slots := make([]*T, len(objects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.ListParallelism)
	for i, obj := range objects {
		g.Go(func() error {
			value, found, err := r.get(gctx, obj.Key)
			if err != nil {
				return err
			}
			if found {
				slots[i] = &value
			}
			return nil
		})
	}
	err := g.Wait()

	values := make([]T, 0, len(objects))
	for _, slot := range slots {
		if slot != nil {
			values = append(values, *slot)
		}
	}
	if err != nil && ctx.Err() != nil {
		return values, ctx.Err()
	}
	return values, err
}

// Names returns the object names starting with prefix without downloading them.
func (r *Repository[T]) Names(ctx context.Context, prefix string) ([]string, error) {
	logger.Entered(r.log, "Names", "prefix", prefix)
	if err := r.ready("Names"); err != nil {
		return nil, err
	}
	var names []string
	err := r.walk(ctx, prefix, func(objects []s3store.ObjectInfo) error {
		for _, obj := range objects {
			names = append(names, obj.Key)
		}
		return nil
	})
	return names, err
}

// walk hands every listing page to visit until the listing is exhausted.
func (r *Repository[T]) walk(ctx context.Context, prefix string, visit func([]s3store.ObjectInfo) error) error {
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := r.adapter.ListPage(ctx, prefix, token, r.config.PageSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error("failed to list objects", "prefix", prefix, "error", err)
			return err
		}
		objects := make([]s3store.ObjectInfo, 0, len(page.Objects))
		for _, obj := range page.Objects {
			if strings.HasSuffix(obj.Key, "/") && obj.Size == 0 {
				continue
			}
			objects = append(objects, obj)
		}
		if err := visit(objects); err != nil {
			return err
		}
		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}

// Exists reports whether an object is stored under name.
func (r *Repository[T]) Exists(ctx context.Context, name string) (bool, error) {
	logger.Entered(r.log, "Exists", "name", name)
	if err := r.ready("Exists"); err != nil {
		return false, err
	}
	if err := validate.ObjectName(name); err != nil {
		return false, err
	}
	if _, err := r.adapter.Head(ctx, name); err != nil {
		if errors.Is(err, storeerr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the object stored under name. It returns false when nothing was
// stored.
func (r *Repository[T]) Delete(ctx context.Context, name string) (bool, error) {
	logger.Entered(r.log, "Delete", "name", name)
	if err := r.ready("Delete"); err != nil {
		return false, err
	}
	if err := validate.ObjectName(name); err != nil {
		return false, err
	}

	ctx, span := tracing.StartStorageSpan(ctx, tracing.SpanOperationObjectDelete,
		tracing.WithSystem("s3"), tracing.WithContainer(r.config.Container), tracing.WithKey(name))
	deleted, err := r.delete(ctx, name)
	tracing.End(span, err)
	return deleted, err
}

func (r *Repository[T]) delete(ctx context.Context, name string) (bool, error) {
	if _, err := r.adapter.Head(ctx, name); err != nil {
		if errors.Is(err, storeerr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := r.adapter.Delete(ctx, name); err != nil {
		if errors.Is(err, storeerr.ErrNotFound) {
			return false, nil
		}
		r.log.Error("failed to delete object", "name", name, "error", err)
		return false, err
	}
	return true, nil
}

// DeleteContainer removes every object and then the container. It returns false when
// the container did not exist. The repository must be initialized again before reuse.
func (r *Repository[T]) DeleteContainer(ctx context.Context) (bool, error) {
	logger.Entered(r.log, "DeleteContainer")
	if err := r.ready("DeleteContainer"); err != nil {
		return false, err
	}

	ctx, span := tracing.StartStorageSpan(ctx, tracing.SpanOperationObjectDelete,
		tracing.WithSystem("s3"), tracing.WithContainer(r.config.Container))
	deleted, err := r.adapter.DeleteBucket(ctx)
	tracing.End(span, err)
	if err != nil {
		r.log.Error("failed to delete container", "error", err)
		return false, err
	}

	r.mu.Lock()
	r.initialized = false
	r.mu.Unlock()
	return deleted, nil
}

// PresignURL returns a time-limited download URL for name.
func (r *Repository[T]) PresignURL(ctx context.Context, name string, expiry time.Duration) (string, error) {
	if err := r.ready("PresignURL"); err != nil {
		return "", err
	}
	if err := validate.ObjectName(name); err != nil {
		return "", err
	}
	return r.adapter.PresignGetURL(ctx, name, expiry)
}

func (r *Repository[T]) ready(op string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return storeerr.Uninitialized(op, "object container")
	}
	return nil
}
