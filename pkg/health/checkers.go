package health

import (
	"context"
	"fmt"
	"time"
)

// Default check timeouts.
const (
	DefaultTimeout      = 5 * time.Second
	DefaultLeaseTimeout = 3 * time.Second
)

// Checkable is implemented by the store adapters and lease stores.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker reports a Checkable as healthy when its HealthCheck succeeds within
// the timeout.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a new health checker for an adapter
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout}
}

// Check performs the health check on the adapter
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.adapter.HealthCheck(checkCtx)
	result := CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = ""
		result.Error = err.Error()
	}
	return result
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string {
	return c.name
}

// ResourceChecker probes whether a named resource, such as a container or a table,
// exists. A missing resource is degraded rather than unhealthy because the
// repositories create it on initialization.
type ResourceChecker struct {
	name     string
	resource string
	exists   func(ctx context.Context) (bool, error)
	timeout  time.Duration
}

// NewResourceChecker creates a checker that calls exists for resource.
func NewResourceChecker(name, resource string, exists func(ctx context.Context) (bool, error)) *ResourceChecker {
	return &ResourceChecker{name: name, resource: resource, exists: exists, timeout: DefaultTimeout}
}

// Check runs the existence probe.
func (c *ResourceChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	found, err := c.exists(checkCtx)
	result := CheckResult{
		Name:      c.name,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Metadata:  map[string]any{"resource": c.resource},
	}
	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	case !found:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%s does not exist yet", c.resource)
	default:
		result.Status = StatusHealthy
		result.Message = "OK"
	}
	return result
}

// Name returns the name of the health check
func (c *ResourceChecker) Name() string {
	return c.name
}

// NewObjectStoreChecker checks the S3 adapter.
func NewObjectStoreChecker(store Checkable) *AdapterChecker {
	return NewAdapterChecker("object_store", store, DefaultTimeout)
}

// NewTableStoreChecker checks the DynamoDB adapter.
func NewTableStoreChecker(store Checkable) *AdapterChecker {
	return NewAdapterChecker("table_store", store, DefaultTimeout)
}

// NewLeaseStoreChecker checks the configured lease store.
func NewLeaseStoreChecker(store Checkable) *AdapterChecker {
	return NewAdapterChecker("lease_store", store, DefaultLeaseTimeout)
}
