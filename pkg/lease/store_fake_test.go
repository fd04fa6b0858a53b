package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store with failure injection.
type memStore struct {
	mu      sync.Mutex
	markers map[string]bool
	owners  map[string]string
	expires map[string]time.Time
	calls   map[string]int

	acquireErr error
	renewErr   error
	releaseErr error
}

func newMemStore() *memStore {
	return &memStore{
		markers: map[string]bool{},
		owners:  map[string]string{},
		expires: map[string]time.Time{},
		calls:   map[string]int{},
	}
}

func (m *memStore) EnsureMarker(_ context.Context, target Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["EnsureMarker"]++
	m.markers[target.ResourceID()] = true
	return nil
}

func (m *memStore) Acquire(_ context.Context, target Target, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Acquire"]++
	if m.acquireErr != nil {
		return m.acquireErr
	}
	id := target.ResourceID()
	if owner, ok := m.owners[id]; ok && owner != token && time.Now().Before(m.expires[id]) {
		return leaseError(ErrLeaseConflict, target, "held")
	}
	m.owners[id] = token
	m.expires[id] = time.Now().Add(ttl)
	return nil
}

func (m *memStore) Renew(_ context.Context, target Target, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Renew"]++
	if m.renewErr != nil {
		return m.renewErr
	}
	id := target.ResourceID()
	if m.owners[id] != token {
		return leaseError(ErrLeaseLost, target, "not owner")
	}
	m.expires[id] = time.Now().Add(ttl)
	return nil
}

func (m *memStore) Release(_ context.Context, target Target, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Release"]++
	if m.releaseErr != nil {
		return m.releaseErr
	}
	id := target.ResourceID()
	if m.owners[id] != token {
		return leaseError(ErrLeaseLost, target, "not owner")
	}
	delete(m.owners, id)
	delete(m.expires, id)
	return nil
}

func (m *memStore) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memStore) set(fn func(m *memStore)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func (m *memStore) owner(target Target) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[target.ResourceID()]
}

func noError(t *testing.T, err error, op string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", op, err)
	}
}

func errorIs(t *testing.T, err, target error, op string) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("%s: expected %v, got %v", op, target, err)
	}
}
