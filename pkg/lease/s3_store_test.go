package lease

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	s3store "github.com/nimburion/backupstore/pkg/store/s3"
	"github.com/nimburion/backupstore/pkg/store/s3/s3test"
	"github.com/nimburion/backupstore/pkg/storeerr"
	"github.com/nimburion/backupstore/pkg/testutil"
)

func newS3Store(t *testing.T) (*S3Store, *s3test.Fake) {
	t.Helper()
	fake := s3test.New()
	adapter := s3store.NewAdapterWithClient(s3store.Config{Bucket: "unused", OperationTimeout: time.Second}, fake, testutil.NewMockLogger())
	return NewS3Store(adapter, testutil.NewMockLogger()), fake
}

func TestS3Store_EnsureMarkerCreatesContainerAndPlaceholder(t *testing.T) {
	store, fake := newS3Store(t)
	ctx := context.Background()

	noError(t, store.EnsureMarker(ctx, testTarget), "ensure marker")
	if !fake.HasBucket(testTarget.Container) {
		t.Fatal("expected lease container to be created")
	}
	data, ok := fake.ObjectData(testTarget.Container, testTarget.Marker)
	if !ok || string(data) != PlaceholderContent {
		t.Fatalf("expected placeholder marker, got %q (found=%v)", data, ok)
	}

	// An existing marker is left alone.
	fake.Tamper(testTarget.Container, testTarget.Marker, []byte(`{"token":"x"}`))
	noError(t, store.EnsureMarker(ctx, testTarget), "ensure existing marker")
	data, _ = fake.ObjectData(testTarget.Container, testTarget.Marker)
	if string(data) != `{"token":"x"}` {
		t.Fatalf("expected existing marker to be kept, got %q", data)
	}
}

func TestS3Store_AcquireRenewRelease(t *testing.T) {
	store, fake := newS3Store(t)
	ctx := context.Background()
	noError(t, store.EnsureMarker(ctx, testTarget), "ensure marker")

	noError(t, store.Acquire(ctx, testTarget, "alpha", 15*time.Second), "acquire alpha")
	err := store.Acquire(ctx, testTarget, "beta", 15*time.Second)
	errorIs(t, err, ErrLeaseConflict, "acquire beta")
	errorIs(t, err, storeerr.ErrConflict, "acquire beta")

	noError(t, store.Renew(ctx, testTarget, "alpha", 15*time.Second), "renew alpha")
	errorIs(t, store.Renew(ctx, testTarget, "beta", 15*time.Second), ErrLeaseLost, "renew beta")
	errorIs(t, store.Release(ctx, testTarget, "beta"), ErrLeaseLost, "release beta")

	noError(t, store.Release(ctx, testTarget, "alpha"), "release alpha")
	data, _ := fake.ObjectData(testTarget.Container, testTarget.Marker)
	if string(data) != PlaceholderContent {
		t.Fatalf("expected placeholder after release, got %q", data)
	}

	noError(t, store.Acquire(ctx, testTarget, "beta", 15*time.Second), "acquire beta after release")
}

func TestS3Store_ExpiredLeaseCanBeTakenOver(t *testing.T) {
	store, _ := newS3Store(t)
	ctx := context.Background()
	noError(t, store.EnsureMarker(ctx, testTarget), "ensure marker")

	now := time.Now()
	store.clock = func() time.Time { return now }
	noError(t, store.Acquire(ctx, testTarget, "alpha", 15*time.Second), "acquire alpha")

	store.clock = func() time.Time { return now.Add(16 * time.Second) }
	errorIs(t, store.Renew(ctx, testTarget, "alpha", 15*time.Second), ErrLeaseLost, "renew expired")
	noError(t, store.Acquire(ctx, testTarget, "beta", 15*time.Second), "take over")
	errorIs(t, store.Release(ctx, testTarget, "alpha"), ErrLeaseLost, "release expired")
}

func TestS3Store_RecordIsJSON(t *testing.T) {
	store, fake := newS3Store(t)
	ctx := context.Background()
	noError(t, store.EnsureMarker(ctx, testTarget), "ensure marker")
	noError(t, store.Acquire(ctx, testTarget, "alpha", 30*time.Second), "acquire")

	data, _ := fake.ObjectData(testTarget.Container, testTarget.Marker)
	var rec leaseRecord
	noError(t, json.Unmarshal(data, &rec), "decode record")
	if rec.Token != "alpha" {
		t.Fatalf("expected token alpha, got %q", rec.Token)
	}
	if d := time.Until(rec.ExpiresAt) - 30*time.Second; d > 5*time.Second || d < -5*time.Second {
		t.Fatalf("expected expiry about 30s ahead, got %v", rec.ExpiresAt)
	}
}

func TestS3Store_MissingMarkerIsUninitialized(t *testing.T) {
	store, fake := newS3Store(t)
	fake.AddBucket(testTarget.Container)

	err := store.Acquire(context.Background(), testTarget, "alpha", 15*time.Second)
	errorIs(t, err, ErrLeaseTargetUninitialized, "acquire")
	errorIs(t, err, storeerr.ErrNotFound, "acquire")
}

func TestS3Store_ConcurrentWriteBecomesConflict(t *testing.T) {
	store, fake := newS3Store(t)
	ctx := context.Background()
	noError(t, store.EnsureMarker(ctx, testTarget), "ensure marker")

	// Another writer changes the marker between read and conditional write.
	var once sync.Once
	fake.OnPutObject = func(bucket, key string) error {
		var err error
		once.Do(func() {
			err = &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
		})
		return err
	}
	errorIs(t, store.Acquire(ctx, testTarget, "alpha", 15*time.Second), ErrLeaseConflict, "acquire")
}

func TestS3Store_ReadFailureIsPropagated(t *testing.T) {
	store, fake := newS3Store(t)
	ctx := context.Background()
	noError(t, store.EnsureMarker(ctx, testTarget), "ensure marker")

	fake.OnGetObject = func(bucket, key string) error {
		return &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce your request rate"}
	}
	err := store.Acquire(ctx, testTarget, "alpha", 15*time.Second)
	errorIs(t, err, storeerr.ErrRetryable, "acquire")
	if errors.Is(err, ErrLeaseConflict) {
		t.Fatalf("expected a read failure not to be reported as a conflict: %v", err)
	}
}

func TestS3Store_CoordinatorsRaceForOneMarker(t *testing.T) {
	store, _ := newS3Store(t)
	const contenders = 12

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		c := NewCoordinator(store, testutil.NewMockLogger(), Options{})
		noError(t, c.Initialize(context.Background(), testTarget.Container, testTarget.Marker), "initialize")
		t.Cleanup(c.Dispose)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := c.TryAcquire(context.Background(), 30); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
}
