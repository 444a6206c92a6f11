package availability

import (
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
)

// CheckCoverage verifies that slot fits one of the staff windows for its day (end+buffer included)
// and does not touch an applicable exclusion. Both failures are slot conflicts.
func CheckCoverage(slot Interval, buffer time.Duration, loc *time.Location, windows []model.WorkingWindow, exclusions []model.Exclusion) error {
	local := Interval{Start: slot.Start.In(loc), End: slot.End.In(loc)}
	day := LocalDay(local.Start, loc)

	covered := false
	for _, w := range windows {
		if w.Weekday != day.Weekday() {
			continue
		}
		win := WindowInterval(w, day)
		if win.Contains(Interval{Start: local.Start, End: local.End.Add(buffer)}) {
			covered = true
			break
		}
	}
	if !covered {
		return apperr.New(apperr.SlotConflict, "requested time is outside staff working hours")
	}

	var staffID string
	if len(windows) > 0 {
		staffID = windows[0].StaffID
	}
	var busy []Interval
	for _, x := range ApplicableExclusions(exclusions, staffID, day) {
		busy = append(busy, ExclusionInterval(x, day))
	}
	if !SlotFree(local, buffer, busy) {
		return apperr.New(apperr.SlotConflict, "requested time overlaps a staff exclusion")
	}
	return nil
}
