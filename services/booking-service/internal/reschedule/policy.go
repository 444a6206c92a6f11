package reschedule

import (
	"strings"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
)

// Decision is the outcome of the reschedule policy for one request.
type Decision struct {
	IncrementCount bool
	Audit          []model.AuditEntry
}

// Evaluate applies the reschedule policy. The notice window is measured against the appointment's
// current start, not the requested one. Privileged actors bypass the window and the count limit;
// each bypass and each uncounted move yields an audit entry.
func Evaluate(appt model.Appointment, newStart time.Time, actor model.User, skipCounter bool, cfg settings.Settings, now time.Time) (Decision, error) {
	if appt.Status.Terminal() || !appt.Status.CanTransitionTo(model.StatusRescheduled) {
		return Decision{}, apperr.New(apperr.InvalidState, "appointment in status %s cannot be rescheduled", appt.Status)
	}

	withinNotice := appt.StartTime.Sub(now) < cfg.RescheduleNotice
	atLimit := appt.RescheduleCount >= cfg.RescheduleLimit

	if !actor.Role.Privileged() {
		if appt.UserID != actor.ID {
			return Decision{}, apperr.New(apperr.NotOwner, "appointment belongs to another user")
		}
		if skipCounter {
			return Decision{}, apperr.New(apperr.InvalidInput, "only staff may move an appointment without counting it")
		}
		if !newStart.After(now) {
			return Decision{}, apperr.New(apperr.PastDate, "new start time is not in the future")
		}
		if withinNotice {
			return Decision{}, apperr.New(apperr.WindowClosed, "appointments can only be moved more than %s before they start", cfg.RescheduleNotice)
		}
		if atLimit {
			return Decision{}, apperr.New(apperr.LimitExceeded, "appointment was already rescheduled %d times", appt.RescheduleCount)
		}
		return Decision{IncrementCount: true}, nil
	}

	if !newStart.After(now) {
		return Decision{}, apperr.New(apperr.PastDate, "new start time is not in the future")
	}

	d := Decision{IncrementCount: !skipCounter}
	var bypassed []string
	if withinNotice {
		bypassed = append(bypassed, "notice window of "+cfg.RescheduleNotice.String())
	}
	if atLimit && !skipCounter {
		bypassed = append(bypassed, "reschedule limit reached")
	}
	if len(bypassed) > 0 {
		d.Audit = append(d.Audit, model.AuditEntry{
			ActorID:       actor.ID,
			AppointmentID: appt.ID,
			Action:        model.AuditRescheduleBypass,
			Reason:        "bypassed: " + strings.Join(bypassed, ", "),
		})
	}
	if skipCounter {
		d.Audit = append(d.Audit, model.AuditEntry{
			ActorID:       actor.ID,
			AppointmentID: appt.ID,
			Action:        model.AuditRescheduleNoCount,
			Reason:        "moved to " + newStart.UTC().Format(time.RFC3339) + " without counting",
		})
	}
	return d, nil
}
