// Package capacity enforces the concurrent-booking ceiling for staff-less (low supervision) slots.
package capacity

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
)

// Counter is the transactional view the limiter needs; both calls must share one transaction
// with the insert that follows a successful check.
type Counter interface {
	LockLowSupervisionSlot(ctx context.Context, start time.Time) error
	CountLowSupervisionAt(ctx context.Context, start time.Time, excludeID string) (int, error)
}

type Limiter struct {
	capacity int
}

// New returns a limiter allowing capacity active bookings per exact start time. Zero disables it.
func New(capacity int) Limiter {
	return Limiter{capacity: capacity}
}

func (l Limiter) Enabled() bool {
	return l.capacity > 0
}

// CheckCapacity serializes on start and fails with CapacityExceeded when the ceiling is reached.
// excludeID leaves one appointment out of the count, for moves of an existing booking.
func (l Limiter) CheckCapacity(ctx context.Context, c Counter, start time.Time, excludeID string) error {
	if !l.Enabled() {
		return nil
	}
	if err := c.LockLowSupervisionSlot(ctx, start); err != nil {
		return fmt.Errorf("lock low supervision slot: %w", err)
	}
	n, err := c.CountLowSupervisionAt(ctx, start, excludeID)
	if err != nil {
		return fmt.Errorf("count low supervision bookings: %w", err)
	}
	if n >= l.capacity {
		return apperr.New(apperr.CapacityExceeded, "low supervision capacity of %d reached at %s", l.capacity, start.UTC().Format(time.RFC3339))
	}
	return nil
}
