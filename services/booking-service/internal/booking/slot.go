package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/storage"
)

// CheckSlot re-validates [start, end) for staffID inside tx: the slot must sit in a working window
// with room for the trailing buffer, avoid exclusions, and keep buffer distance from every other
// active appointment of that staff member except excludeID. Callers hold the staff row lock.
func CheckSlot(ctx context.Context, tx storage.Tx, cfg settings.Settings, staffID string, start, end time.Time, excludeID string) error {
	day := availability.LocalDay(start.In(cfg.Location), cfg.Location)
	windows, err := tx.StaffWindows(ctx, staffID, day.Weekday())
	if err != nil {
		return fmt.Errorf("load staff windows: %w", err)
	}
	exclusions, err := tx.StaffExclusions(ctx, staffID, day)
	if err != nil {
		return fmt.Errorf("load staff exclusions: %w", err)
	}
	slot := availability.Interval{Start: start, End: end}
	if err := availability.CheckCoverage(slot, cfg.Buffer, cfg.Location, windows, exclusions); err != nil {
		return err
	}

	padded := slot.Padded(cfg.Buffer)
	clashes, err := tx.OverlappingAppointments(ctx, staffID, padded.Start, padded.End, excludeID)
	if err != nil {
		return fmt.Errorf("load overlapping appointments: %w", err)
	}
	if len(clashes) > 0 {
		return apperr.New(apperr.SlotConflict, "staff member is already booked around %s", start.UTC().Format(time.RFC3339))
	}
	return nil
}
