package lease

import (
	"errors"
	"fmt"

	"github.com/nimburion/backupstore/pkg/storeerr"
)

var (
	// ErrLeaseConflict reports that another owner holds the lease.
	ErrLeaseConflict = fmt.Errorf("%w: lease is held by another owner", storeerr.ErrConflict)
	// ErrLeaseLost reports that a lease is no longer held with the presented token.
	ErrLeaseLost = fmt.Errorf("%w: lease is no longer held", storeerr.ErrConflict)
	// ErrLeaseTargetUninitialized reports an operation issued before Initialize.
	ErrLeaseTargetUninitialized = fmt.Errorf("%w: lease marker", storeerr.ErrUninitialized)
)

func uninitialized(op string) error {
	return fmt.Errorf("%w: %s: before usage, Initialize must be called to create the lease marker", ErrLeaseTargetUninitialized, op)
}

func leaseError(kind error, target Target, message string) error {
	return fmt.Errorf("%w: %s: %s", kind, target.ResourceID(), message)
}

// isLeaseRejection reports outcomes that mean "not ours": conflicts and lost leases.
func isLeaseRejection(err error) bool {
	return errors.Is(err, ErrLeaseConflict) || errors.Is(err, ErrLeaseLost)
}
