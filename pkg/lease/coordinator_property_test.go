package lease

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/nimburion/backupstore/pkg/storeerr"
)

// Durations outside [MinLeaseSeconds, MaxLeaseSeconds] never reach the store
func TestProperty_LeaseDurationRange(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("duration accepted iff within range", prop.ForAll(
		func(seconds int) bool {
			store := newMemStore()
			c := NewCoordinator(store, nil, Options{})
			defer c.Dispose()
			if err := c.Initialize(context.Background(), testTarget.Container, testTarget.Marker); err != nil {
				return false
			}

			ok, err := c.TryAcquire(context.Background(), seconds)
			inRange := seconds >= MinLeaseSeconds && seconds <= MaxLeaseSeconds
			if !inRange {
				return !ok && errors.Is(err, storeerr.ErrInvalidArgument) && store.count("Acquire") == 0
			}
			return ok && err == nil && store.count("Acquire") == 1
		},
		gen.IntRange(-10, 120),
	))

	properties.TestingRun(t)
}
