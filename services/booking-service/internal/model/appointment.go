package model

import "time"

type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusConfirmed      Status = "CONFIRMED"
	StatusRescheduled    Status = "RESCHEDULED"
	StatusFullyPaid      Status = "FULLY_PAID"
	StatusCancelled      Status = "CANCELLED"
	StatusCompleted      Status = "COMPLETED"
)

// ActiveStatuses count toward role limits, overlap checks and capacity.
var ActiveStatuses = []Status{StatusPendingPayment, StatusConfirmed, StatusRescheduled, StatusFullyPaid}

func (s Status) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

var transitions = map[Status][]Status{
	StatusPendingPayment: {StatusConfirmed, StatusFullyPaid, StatusRescheduled, StatusCancelled},
	StatusConfirmed:      {StatusFullyPaid, StatusRescheduled, StatusCancelled, StatusCompleted},
	StatusRescheduled:    {StatusConfirmed, StatusFullyPaid, StatusRescheduled, StatusCancelled, StatusCompleted},
	StatusFullyPaid:      {StatusRescheduled, StatusCancelled, StatusCompleted},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

type Outcome string

const (
	OutcomeNone           Outcome = ""
	OutcomeAttended       Outcome = "ATTENDED"
	OutcomeNoShow         Outcome = "NO_SHOW"
	OutcomeCancelledUser  Outcome = "CANCELLED_BY_USER"
	OutcomeCancelledStaff Outcome = "CANCELLED_BY_STAFF"
	OutcomePaymentTimeout Outcome = "PAYMENT_TIMEOUT"
)

type Appointment struct {
	ID              string
	UserID          string
	StaffID         string // empty for low-supervision bundles
	StartTime       time.Time
	EndTime         time.Time
	PriceAtPurchase int64
	AmountPaid      int64
	Status          Status
	Outcome         Outcome
	RescheduleCount int
	Items           []AppointmentItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) LowSupervision() bool {
	return a.StaffID == ""
}

// BundleDuration is the sum of the item durations.
func (a Appointment) BundleDuration() time.Duration {
	var d time.Duration
	for _, it := range a.Items {
		d += it.Duration
	}
	return d
}

func (a Appointment) Outstanding() int64 {
	if a.AmountPaid >= a.PriceAtPurchase {
		return 0
	}
	return a.PriceAtPurchase - a.AmountPaid
}

type AppointmentItem struct {
	AppointmentID   string
	ServiceID       string
	Duration        time.Duration
	PriceAtPurchase int64
}
