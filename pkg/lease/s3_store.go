package lease

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nimburion/backupstore/pkg/observability/logger"
	s3store "github.com/nimburion/backupstore/pkg/store/s3"
	"github.com/nimburion/backupstore/pkg/storeerr"
)

const leaseRecordContentType = "application/json"

// leaseRecord is the marker body while a lease is held.
type leaseRecord struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// S3Store keeps the lease record in the marker object and swaps it with conditional
// writes: every transition is a PutObject guarded by the ETag that was read. Expiry is
// evaluated against the local clock, so participants need loosely synchronized clocks.
type S3Store struct {
	adapter *s3store.Adapter
	log     logger.Logger
	clock   func() time.Time
}

// NewS3Store returns a lease store over adapter. The adapter's bucket is ignored; each
// target names its own container.
func NewS3Store(adapter *s3store.Adapter, log logger.Logger) *S3Store {
	if log == nil {
		log = logger.Nop()
	}
	return &S3Store{adapter: adapter, log: log, clock: time.Now}
}

func (s *S3Store) EnsureMarker(ctx context.Context, target Target) error {
	bucket := s.adapter.WithBucket(target.Container)
	created, err := bucket.EnsureBucket(ctx)
	if err != nil {
		return err
	}
	if created {
		s.log.Info("lease container created", "container", target.Container)
	}
	_, err = bucket.PutIfAbsent(ctx, target.Marker, []byte(PlaceholderContent), "text/plain")
	if err == nil || errors.Is(err, storeerr.ErrConflict) {
		return nil
	}
	return err
}

func (s *S3Store) Acquire(ctx context.Context, target Target, token string, ttl time.Duration) error {
	bucket := s.adapter.WithBucket(target.Container)
	rec, etag, err := s.read(ctx, bucket, target)
	if err != nil {
		return err
	}
	now := s.clock()
	if rec.Token != "" && rec.Token != token && now.Before(rec.ExpiresAt) {
		return leaseError(ErrLeaseConflict, target, "lease is active")
	}
	if err := s.write(ctx, bucket, target, etag, leaseRecord{Token: token, ExpiresAt: now.Add(ttl)}); err != nil {
		if errors.Is(err, storeerr.ErrConflict) {
			return leaseError(ErrLeaseConflict, target, "marker changed concurrently")
		}
		return err
	}
	return nil
}

func (s *S3Store) Renew(ctx context.Context, target Target, token string, ttl time.Duration) error {
	bucket := s.adapter.WithBucket(target.Container)
	rec, etag, err := s.read(ctx, bucket, target)
	if err != nil {
		return err
	}
	now := s.clock()
	if rec.Token != token {
		return leaseError(ErrLeaseLost, target, "lease is held with another token")
	}
	if !now.Before(rec.ExpiresAt) {
		return leaseError(ErrLeaseLost, target, "lease expired")
	}
	if err := s.write(ctx, bucket, target, etag, leaseRecord{Token: token, ExpiresAt: now.Add(ttl)}); err != nil {
		if errors.Is(err, storeerr.ErrConflict) {
			return leaseError(ErrLeaseLost, target, "marker changed concurrently")
		}
		return err
	}
	return nil
}

func (s *S3Store) Release(ctx context.Context, target Target, token string) error {
	bucket := s.adapter.WithBucket(target.Container)
	rec, etag, err := s.read(ctx, bucket, target)
	if err != nil {
		return err
	}
	if rec.Token != token {
		return leaseError(ErrLeaseLost, target, "lease is held with another token")
	}
	if _, err := bucket.PutIfMatch(ctx, target.Marker, []byte(PlaceholderContent), "text/plain", etag); err != nil {
		if errors.Is(err, storeerr.ErrConflict) {
			return leaseError(ErrLeaseLost, target, "marker changed concurrently")
		}
		return err
	}
	return nil
}

// read returns the current record and the ETag it was read at. A placeholder or
// unreadable body is a free lease.
func (s *S3Store) read(ctx context.Context, bucket *s3store.Adapter, target Target) (leaseRecord, string, error) {
	obj, err := bucket.Get(ctx, target.Marker)
	if err != nil {
		if errors.Is(err, storeerr.ErrNotFound) {
			return leaseRecord{}, "", errors.Join(uninitialized("lease store"), err)
		}
		return leaseRecord{}, "", err
	}
	var rec leaseRecord
	if string(obj.Payload) == PlaceholderContent {
		return rec, obj.ETag, nil
	}
	if err := json.Unmarshal(obj.Payload, &rec); err != nil {
		s.log.Warn("ignoring unreadable lease record", "resource", target.ResourceID(), "error", err)
		return leaseRecord{}, obj.ETag, nil
	}
	return rec, obj.ETag, nil
}

func (s *S3Store) write(ctx context.Context, bucket *s3store.Adapter, target Target, etag string, rec leaseRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return storeerr.Wrap(storeerr.ErrInvalidArgument, "encode lease record", err)
	}
	_, err = bucket.PutIfMatch(ctx, target.Marker, payload, leaseRecordContentType, etag)
	return err
}

// HealthCheck reports whether the object store is reachable.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	return s.adapter.HealthCheck(ctx)
}
