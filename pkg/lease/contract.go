// Package lease coordinates exclusive, time-bounded ownership of a named resource
// across processes.
//
// A Coordinator holds at most one lease per resource, renews it in the background
// until released, and forgets it as soon as a renewal is rejected. The remote
// primitive is a Store: an S3 marker object written with conditional requests, or a
// Redis key.
package lease

import (
	"context"
	"time"
)

const (
	// MinLeaseSeconds is the shortest lease duration accepted by TryAcquire.
	MinLeaseSeconds = 15
	// MaxLeaseSeconds is the longest lease duration accepted by TryAcquire.
	MaxLeaseSeconds = 60
	// PlaceholderContent is written to a free lease marker.
	PlaceholderContent = "LeaseBlobDummyContent"
)

// Target identifies a lease marker.
type Target struct {
	Container string
	Marker    string
}

// ResourceID returns the registry key of the target.
func (t Target) ResourceID() string {
	return t.Container + "/" + t.Marker
}

// Store is the remote lease primitive. Implementations must make Acquire succeed for
// at most one token while a lease is live.
type Store interface {
	// EnsureMarker creates the container and marker when missing. Existing markers are
	// left untouched.
	EnsureMarker(ctx context.Context, target Target) error
	// Acquire takes the lease for token. It returns ErrLeaseConflict when another live
	// lease exists.
	Acquire(ctx context.Context, target Target, token string, ttl time.Duration) error
	// Renew extends the lease held with token. It returns ErrLeaseLost when the lease
	// expired or belongs to another token.
	Renew(ctx context.Context, target Target, token string, ttl time.Duration) error
	// Release frees the lease held with token. It returns ErrLeaseLost when the lease is
	// not held with token.
	Release(ctx context.Context, target Target, token string) error
}

// State describes the coordinator's view of the current target.
type State int

const (
	// Unleased means no lease is held.
	Unleased State = iota
	// Leased means a lease is held and renewed in the background.
	Leased
	// Lost means the last held lease was dropped after a rejected renewal.
	Lost
)

func (s State) String() string {
	switch s {
	case Leased:
		return "leased"
	case Lost:
		return "lost"
	default:
		return "unleased"
	}
}
