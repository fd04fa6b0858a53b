package lease

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimburion/backupstore/pkg/observability/logger"
	"github.com/nimburion/backupstore/pkg/resilience"
	"github.com/nimburion/backupstore/pkg/storeerr"
	"github.com/nimburion/backupstore/pkg/validate"
)

// Options tunes a Coordinator. The zero value renews one second before expiry.
type Options struct {
	// RenewalInterval maps a lease duration to the renewal period. Defaults to ttl-1s.
	RenewalInterval func(ttl time.Duration) time.Duration
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

func (o Options) normalize() Options {
	if o.RenewalInterval == nil {
		o.RenewalInterval = func(ttl time.Duration) time.Duration { return ttl - time.Second }
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// handle is one held lease. It is owned by the registry; renewal is owned by the handle.
type handle struct {
	resourceID string
	token      string
	ttl        time.Duration
	expiresAt  time.Time
	renewal    *renewalTask
}

// Coordinator acquires, renews and releases a lease on one marker.
type Coordinator struct {
	store  Store
	log    logger.Logger
	opts   Options
	mu     sync.Mutex
	target *Target
	leases map[string]*handle
	states map[string]State
	closed bool
}

// NewCoordinator returns a coordinator over store. Initialize must be called before any
// other operation.
func NewCoordinator(store Store, log logger.Logger, opts Options) *Coordinator {
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{
		store:  store,
		log:    log,
		opts:   opts.normalize(),
		leases: make(map[string]*handle),
		states: make(map[string]State),
	}
}

// Initialize creates the container and the marker when missing and binds the
// coordinator to them.
func (c *Coordinator) Initialize(ctx context.Context, container, marker string) error {
	logger.Entered(c.log, "Initialize", "container", container, "marker", marker)
	container = strings.TrimSpace(container)
	if err := validate.ContainerName(container); err != nil {
		return err
	}
	if err := validate.ObjectName(marker); err != nil {
		return err
	}
	if err := c.ensureOpen(); err != nil {
		return err
	}

	target := Target{Container: container, Marker: marker}
	if err := c.store.EnsureMarker(ctx, target); err != nil {
		c.log.Error("failed to prepare lease marker", "resource", target.ResourceID(), "error", err)
		return err
	}

	c.mu.Lock()
	c.target = &target
	c.mu.Unlock()
	c.log.Info("lease marker ready", "resource", target.ResourceID())
	return nil
}

// TryAcquire attempts to take the lease for leaseDurationSeconds. It returns false when
// another owner holds the lease or the store fails; both are logged, not returned. On
// success the lease is renewed in the background until ReleaseLease, Dispose or a
// rejected renewal.
func (c *Coordinator) TryAcquire(ctx context.Context, leaseDurationSeconds int) (bool, error) {
	logger.Entered(c.log, "TryAcquire", "lease_duration_seconds", leaseDurationSeconds)
	if leaseDurationSeconds < MinLeaseSeconds || leaseDurationSeconds > MaxLeaseSeconds {
		return false, storeerr.Newf(storeerr.ErrInvalidArgument,
			"lease duration must be between %d and %d seconds, got %d", MinLeaseSeconds, MaxLeaseSeconds, leaseDurationSeconds)
	}
	target, err := c.currentTarget("TryAcquire")
	if err != nil {
		return false, err
	}

	resource := target.ResourceID()
	ttl := time.Duration(leaseDurationSeconds) * time.Second
	token := uuid.NewString()

	if err := c.store.Acquire(ctx, target, token, ttl); err != nil {
		if errors.Is(err, ErrLeaseConflict) {
			c.log.Info("lease is held by another owner", "resource", resource)
			recordLeaseAcquire(resource, "conflict")
			return false, nil
		}
		c.log.Error("failed to acquire lease", "resource", resource, "error", err)
		recordLeaseAcquire(resource, "error")
		return false, nil
	}

	h := &handle{
		resourceID: resource,
		token:      token,
		ttl:        ttl,
		expiresAt:  c.opts.Clock().Add(ttl),
	}
	interval := c.opts.RenewalInterval(ttl)
	if interval <= 0 || interval >= ttl {
		interval = ttl / 2
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if err := c.store.Release(context.WithoutCancel(ctx), target, token); err != nil && !isLeaseRejection(err) {
			c.log.Warn("failed to release lease acquired during dispose", "resource", resource, "error", err)
		}
		return false, storeerr.New(storeerr.ErrClosed, "lease coordinator is disposed")
	}
	previous := c.leases[resource]
	c.leases[resource] = h
	c.states[resource] = Leased
	h.renewal = startRenewal(interval, func(ctx context.Context) bool {
		return c.renew(ctx, target, h, interval)
	})
	c.mu.Unlock()

	if previous != nil {
		previous.renewal.stop()
	}

	recordLeaseAcquire(resource, "acquired")
	setLeaseHeld(resource, true)
	c.log.Info("lease acquired", "resource", resource, "lease_duration_seconds", leaseDurationSeconds)
	return true, nil
}

// renew runs on the renewal goroutine. It returns false to stop the task.
func (c *Coordinator) renew(ctx context.Context, target Target, h *handle, interval time.Duration) bool {
	c.mu.Lock()
	current := c.leases[h.resourceID]
	c.mu.Unlock()
	if current != h {
		return false
	}

	err := resilience.WithTimeout(ctx, interval, func(ctx context.Context) error {
		return c.store.Renew(ctx, target, h.token, h.ttl)
	})
	if err == nil {
		c.mu.Lock()
		if c.leases[h.resourceID] == h {
			h.expiresAt = c.opts.Clock().Add(h.ttl)
		}
		c.mu.Unlock()
		recordLeaseRenew(h.resourceID, "renewed")
		c.log.Debug("lease renewed", "resource", h.resourceID)
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	c.mu.Lock()
	if c.leases[h.resourceID] == h {
		delete(c.leases, h.resourceID)
		c.states[h.resourceID] = Lost
	}
	c.mu.Unlock()

	setLeaseHeld(h.resourceID, false)
	if isLeaseRejection(err) {
		recordLeaseRenew(h.resourceID, "lost")
		c.log.Warn("lease lost", "resource", h.resourceID, "error", err)
	} else {
		recordLeaseRenew(h.resourceID, "error")
		c.log.Error("failed to renew lease", "resource", h.resourceID, "error", err)
	}
	return false
}

// HasLease reports whether this coordinator holds an unexpired lease on the marker.
func (c *Coordinator) HasLease() (bool, error) {
	target, err := c.currentTarget("HasLease")
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.leases[target.ResourceID()]
	return ok && c.opts.Clock().Before(h.expiresAt), nil
}

// State reports the coordinator's view of the marker.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		return Unleased
	}
	return c.states[c.target.ResourceID()]
}

// ReleaseLease stops renewal and releases the lease. It is a no-op when no lease is
// held. A lease already taken over by another owner is logged and not reported.
func (c *Coordinator) ReleaseLease(ctx context.Context) error {
	logger.Entered(c.log, "ReleaseLease")
	target, err := c.currentTarget("ReleaseLease")
	if err != nil {
		return err
	}
	resource := target.ResourceID()

	c.mu.Lock()
	h, ok := c.leases[resource]
	if ok {
		delete(c.leases, resource)
		c.states[resource] = Unleased
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	h.renewal.stop()
	setLeaseHeld(resource, false)

	if err := c.store.Release(ctx, target, h.token); err != nil {
		if isLeaseRejection(err) {
			recordLeaseRelease(resource, "lost")
			c.log.Info("lease was no longer held at release", "resource", resource, "error", err)
			return nil
		}
		recordLeaseRelease(resource, "error")
		c.log.Error("failed to release lease", "resource", resource, "error", err)
		return err
	}
	recordLeaseRelease(resource, "released")
	c.log.Info("lease released", "resource", resource)
	return nil
}

// Dispose stops every renewal task without contacting the store. Held leases expire
// remotely on their own.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	c.closed = true
	handles := make([]*handle, 0, len(c.leases))
	for id, h := range c.leases {
		handles = append(handles, h)
		c.states[id] = Unleased
	}
	clear(c.leases)
	c.mu.Unlock()

	for _, h := range handles {
		h.renewal.stop()
		setLeaseHeld(h.resourceID, false)
	}
}

// Close implements io.Closer on top of Dispose.
func (c *Coordinator) Close() error {
	c.Dispose()
	return nil
}

func (c *Coordinator) currentTarget(op string) (Target, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Target{}, storeerr.New(storeerr.ErrClosed, "lease coordinator is disposed")
	}
	if c.target == nil {
		return Target{}, uninitialized(op)
	}
	return *c.target, nil
}

func (c *Coordinator) ensureOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storeerr.New(storeerr.ErrClosed, "lease coordinator is disposed")
	}
	return nil
}
