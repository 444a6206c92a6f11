package model

import "time"

type Role string

const (
	RoleClient Role = "CLIENT"
	RoleVIP    Role = "VIP"
	RoleStaff  Role = "STAFF"
	RoleAdmin  Role = "ADMIN"
)

// Privileged roles may bypass client-facing reschedule and cancellation rules.
func (r Role) Privileged() bool {
	return r == RoleStaff || r == RoleAdmin
}

type User struct {
	ID   string
	Role Role
}

type Category struct {
	ID               string
	Name             string
	IsLowSupervision bool
}

type Service struct {
	ID       string
	Name     string
	Duration time.Duration
	Price    int64
	VIPPrice *int64
	Active   bool
	Category Category
}

// WorkingWindow is a recurring weekly block; minutes are counted from local midnight.
type WorkingWindow struct {
	ID          string
	StaffID     string
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
}

func (w WorkingWindow) SameSlot(o WorkingWindow) bool {
	return w.StaffID == o.StaffID && w.Weekday == o.Weekday && w.StartMinute == o.StartMinute && w.EndMinute == o.EndMinute
}

func (w WorkingWindow) Overlaps(o WorkingWindow) bool {
	return w.StaffID == o.StaffID && w.Weekday == o.Weekday && w.StartMinute < o.EndMinute && o.StartMinute < w.EndMinute
}

// Exclusion removes time from a staff member's windows, either on one date or every week on a weekday.
type Exclusion struct {
	ID          string
	StaffID     string
	Date        *time.Time
	Weekday     *time.Weekday
	StartMinute int
	EndMinute   int
	Reason      string
}

func (e Exclusion) Recurring() bool {
	return e.Date == nil
}

// Obligation is an amount the user still owes outside of appointment balances.
type Obligation struct {
	ID            string
	UserID        string
	AppointmentID string
	Kind          PaymentKind
	Amount        int64
	Paid          bool
}

type PaymentKind string

const (
	PaymentAdvance PaymentKind = "ADVANCE"
	PaymentFinal   PaymentKind = "FINAL"
)

type AuditEntry struct {
	ID            string
	ActorID       string
	AppointmentID string
	Action        string
	Reason        string
	CreatedAt     time.Time
}

const (
	AuditRescheduleBypass   = "RESCHEDULE_POLICY_BYPASS"
	AuditRescheduleNoCount  = "RESCHEDULE_FORCED_NO_COUNT"
	AuditCancelPolicyBypass = "CANCEL_POLICY_BYPASS"
)

// MinuteOfDay returns minutes since local midnight of t.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// AtMinute returns the wall-clock instant on day's date at the given minute of the day, in day's
// location. Minute 1440 is the following midnight.
func AtMinute(day time.Time, minute int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, day.Location())
}
