package lease

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	leaseAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupstore_lease_acquire_total",
			Help: "Total number of lease acquire attempts",
		},
		[]string{"resource", "status"},
	)

	leaseRenewTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupstore_lease_renew_total",
			Help: "Total number of lease renew operations",
		},
		[]string{"resource", "status"},
	)

	leaseReleaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupstore_lease_release_total",
			Help: "Total number of lease release operations",
		},
		[]string{"resource", "status"},
	)

	leaseHeld = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backupstore_lease_held",
			Help: "Whether the lease on a resource is currently held by this process",
		},
		[]string{"resource"},
	)
)

func recordLeaseAcquire(resource, status string) {
	leaseAcquireTotal.WithLabelValues(normalizeLeaseLabel(resource), normalizeLeaseLabel(status)).Inc()
}

func recordLeaseRenew(resource, status string) {
	leaseRenewTotal.WithLabelValues(normalizeLeaseLabel(resource), normalizeLeaseLabel(status)).Inc()
}

func recordLeaseRelease(resource, status string) {
	leaseReleaseTotal.WithLabelValues(normalizeLeaseLabel(resource), normalizeLeaseLabel(status)).Inc()
}

func setLeaseHeld(resource string, held bool) {
	value := 0.0
	if held {
		value = 1
	}
	leaseHeld.WithLabelValues(normalizeLeaseLabel(resource)).Set(value)
}

func normalizeLeaseLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
