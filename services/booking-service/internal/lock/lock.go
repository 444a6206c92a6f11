// Package lock provides short-lived mutual exclusion per slot key across service instances.
package lock

import (
	"context"
	"time"
)

// Locker is a key/TTL acquire-and-release primitive. Acquire never blocks waiting for the key.
// The token returned by a successful Acquire identifies that hold; Release with a stale token
// is a no-op, so a holder whose TTL ran out cannot free a later owner's key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// SlotKey returns the lock key for a staff member's slot, or the shared low-supervision key
// when staffID is empty.
func SlotKey(staffID string, start time.Time) string {
	ts := start.UTC().Format(time.RFC3339)
	if staffID == "" {
		return "lowSupervision:" + ts
	}
	return "staff:" + staffID + ":" + ts
}
