// Package storage defines the persistence contract of the booking core and its Postgres implementation.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
)

// ErrDuplicate is returned when an insert hits a unique key.
var ErrDuplicate = errors.New("duplicate row")

// Store is the read side plus the transaction boundary. Reads return plain values, never cursors.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	ServicesByIDs(ctx context.Context, ids []string) ([]model.Service, error)
	WorkingWindows(ctx context.Context, weekday time.Weekday, staffID string) ([]model.WorkingWindow, error)
	Exclusions(ctx context.Context, day time.Time, staffIDs []string) ([]model.Exclusion, error)
	ActiveAppointments(ctx context.Context, staffIDs []string, from, to time.Time) ([]model.Appointment, error)

	GetUser(ctx context.Context, id string) (model.User, error)
	HasOutstandingDebt(ctx context.Context, userID string) (bool, error)
	CountActiveAppointments(ctx context.Context, userID string) (int, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointmentsByUser(ctx context.Context, userID string, limit int) ([]model.Appointment, error)

	LookupIdempotency(ctx context.Context, userID, key string) (IdempotencyRecord, bool, error)
	SaveIdempotency(ctx context.Context, rec IdempotencyRecord) error

	SettingsOverrides(ctx context.Context) (settings.Overrides, bool, error)
}

// Tx is the write side. Every timing change happens through a Tx that re-checks overlaps.
type Tx interface {
	// LockStaff takes a row lock on the staff record, serializing writers on that timeline.
	LockStaff(ctx context.Context, staffID string) error
	// LockLowSupervisionSlot serializes low-supervision writers on one exact start time.
	LockLowSupervisionSlot(ctx context.Context, start time.Time) error

	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	StaffWindows(ctx context.Context, staffID string, weekday time.Weekday) ([]model.WorkingWindow, error)
	StaffExclusions(ctx context.Context, staffID string, day time.Time) ([]model.Exclusion, error)
	// OverlappingAppointments returns active appointments of staffID intersecting [from, to), skipping excludeID.
	OverlappingAppointments(ctx context.Context, staffID string, from, to time.Time, excludeID string) ([]model.Appointment, error)
	CountLowSupervisionAt(ctx context.Context, start time.Time, excludeID string) (int, error)

	InsertAppointment(ctx context.Context, appt *model.Appointment) error
	UpdateAppointment(ctx context.Context, appt model.Appointment) error
	RecordAudit(ctx context.Context, entry model.AuditEntry) error
	InsertWorkingWindow(ctx context.Context, w *model.WorkingWindow) error
	InsertExclusion(ctx context.Context, x *model.Exclusion) error
	SettleObligations(ctx context.Context, appointmentID string, kind model.PaymentKind) error
	AppendOutbox(ctx context.Context, evt outbox.Event) error
	// RecordInbox reports false when eventID was already consumed.
	RecordInbox(ctx context.Context, eventID, eventType string) (bool, error)
}

type IdempotencyRecord struct {
	UserID          string
	Key             string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}
