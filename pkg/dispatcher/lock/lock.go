// Package lock provides the execution lease backing the
// single-active-execution policy. One lease per event id: whoever acquires
// it owns the only in-flight attempt for that event until release or TTL
// expiry. The redis implementation makes the guarantee hold across
// horizontally scaled dispatcher instances.
package lock

import (
	"context"
	"sync"
	"time"
)

type ExecutionLock interface {
	// Acquire takes the lease for an event. Returns false when another
	// holder already has it.
	Acquire(ctx context.Context, eventID, holder string, ttl time.Duration) (bool, error)

	// Release drops the lease if the holder still owns it.
	Release(ctx context.Context, eventID, holder string) error

	Close() error
}

// MemoryLock is the in-process lease used in single-instance deployments
// and tests.
type MemoryLock struct {
	mu     sync.Mutex
	leases map[string]memoryLease
}

type memoryLease struct {
	holder  string
	expires time.Time
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{leases: make(map[string]memoryLease)}
}

func (l *MemoryLock) Acquire(_ context.Context, eventID, holder string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	if lease, held := l.leases[eventID]; held && lease.expires.After(now) {
		return false, nil
	}

	l.leases[eventID] = memoryLease{holder: holder, expires: now.Add(ttl)}

	return true, nil
}

func (l *MemoryLock) Release(_ context.Context, eventID, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, held := l.leases[eventID]; held && lease.holder == holder {
		delete(l.leases, eventID)
	}

	return nil
}

func (l *MemoryLock) Close() error {
	return nil
}
