package reschedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/lock"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-03-02 is a Monday; the clock sits on the Saturday morning before.
var (
	monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	now    = time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC)
)

func at(h, m int) time.Time { return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

type recordingNotifier struct {
	mu       sync.Mutex
	err      error
	previous []time.Time
}

func (n *recordingNotifier) AppointmentRescheduled(_ context.Context, _ model.Appointment, previousStart time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.previous = append(n.previous, previousStart)
	return n.err
}

func (n *recordingNotifier) AppointmentCancelled(context.Context, model.Appointment, string) error {
	return nil
}

type fixture struct {
	store    *memory.Store
	notifier *recordingNotifier
	coord    *Coordinator
}

func newFixture(t *testing.T, mutate ...func(*settings.Settings)) *fixture {
	t.Helper()
	s := memory.New()
	s.AddWorkingWindow(model.WorkingWindow{StaffID: "s1", Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60})
	s.AddUser(model.User{ID: "u1", Role: model.RoleClient})
	s.AddUser(model.User{ID: "u2", Role: model.RoleClient})
	s.AddUser(model.User{ID: "st", Role: model.RoleStaff})

	cfg := settings.Defaults()
	for _, m := range mutate {
		m(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := &recordingNotifier{}
	return &fixture{
		store:    s,
		notifier: n,
		coord: NewCoordinator(s, settings.Static{Settings: cfg}, lock.NewGuard(lock.NewMemoryLocker(), logger), n, nil, logger,
			WithClock(func() time.Time { return now })),
	}
}

func (f *fixture) put(userID, staffID string, start time.Time) model.Appointment {
	return f.store.PutAppointment(model.Appointment{
		UserID:          userID,
		StaffID:         staffID,
		StartTime:       start,
		EndTime:         start.Add(30 * time.Minute),
		PriceAtPurchase: 100000,
		Status:          model.StatusConfirmed,
		Items:           []model.AppointmentItem{{ServiceID: "facial", Duration: 30 * time.Minute, PriceAtPurchase: 100000}},
	})
}

func TestRescheduleCountsUpToLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.put("u1", "s1", at(10, 0))

	moved, err := f.coord.Reschedule(ctx, Request{AppointmentID: appt.ID, NewStartTime: at(11, 0), ActorID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, moved.RescheduleCount)
	assert.Equal(t, model.StatusRescheduled, moved.Status)
	assert.Equal(t, at(11, 30), moved.EndTime)

	moved, err = f.coord.Reschedule(ctx, Request{AppointmentID: appt.ID, NewStartTime: at(12, 0), ActorID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, moved.RescheduleCount)

	_, err = f.coord.Reschedule(ctx, Request{AppointmentID: appt.ID, NewStartTime: at(13, 0), ActorID: "u1"})
	assert.Equal(t, apperr.LimitExceeded, apperr.KindOf(err), err)

	stored, err := f.store.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, at(12, 0), stored.StartTime)
	assert.Equal(t, 2, stored.RescheduleCount)
	assert.Equal(t, []time.Time{at(10, 0), at(11, 0)}, f.notifier.previous)
	assert.Empty(t, f.store.Audit())
}

func TestRescheduleNoticeUsesCurrentStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.AddWorkingWindow(model.WorkingWindow{StaffID: "s1", Weekday: time.Saturday, StartMinute: 9 * 60, EndMinute: 17 * 60})
	soon := f.put("u1", "s1", now.Add(4*time.Hour))

	_, err := f.coord.Reschedule(ctx, Request{AppointmentID: soon.ID, NewStartTime: at(10, 0), ActorID: "u1"})
	assert.Equal(t, apperr.WindowClosed, apperr.KindOf(err), err)

	moved, err := f.coord.Reschedule(ctx, Request{AppointmentID: soon.ID, NewStartTime: at(10, 0), ActorID: "st"})
	require.NoError(t, err)
	assert.Equal(t, 1, moved.RescheduleCount)

	audit := f.store.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, model.AuditRescheduleBypass, audit[0].Action)
	assert.Equal(t, "st", audit[0].ActorID)
	assert.Equal(t, soon.ID, audit[0].AppointmentID)
}

func TestRescheduleRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.put("u1", "s1", at(10, 0))
	f.put("u2", "s1", at(14, 0))
	cancelled := f.store.PutAppointment(model.Appointment{UserID: "u1", StaffID: "s1", StartTime: at(15, 0), EndTime: at(15, 30), Status: model.StatusCancelled})

	tests := []struct {
		name string
		req  Request
		kind apperr.Kind
	}{
		{name: "unknown appointment", req: Request{AppointmentID: "missing", NewStartTime: at(11, 0), ActorID: "u1"}, kind: apperr.NotFound},
		{name: "unknown actor", req: Request{AppointmentID: appt.ID, NewStartTime: at(11, 0), ActorID: "ghost"}, kind: apperr.NotFound},
		{name: "missing start", req: Request{AppointmentID: appt.ID, ActorID: "u1"}, kind: apperr.InvalidInput},
		{name: "other user", req: Request{AppointmentID: appt.ID, NewStartTime: at(11, 0), ActorID: "u2"}, kind: apperr.NotOwner},
		{name: "cancelled", req: Request{AppointmentID: cancelled.ID, NewStartTime: at(11, 0), ActorID: "st"}, kind: apperr.InvalidState},
		{name: "past", req: Request{AppointmentID: appt.ID, NewStartTime: now.Add(-time.Hour), ActorID: "st"}, kind: apperr.PastDate},
		{name: "client skip counter", req: Request{AppointmentID: appt.ID, NewStartTime: at(11, 0), ActorID: "u1", SkipCounter: true}, kind: apperr.InvalidInput},
		{name: "buffer clash", req: Request{AppointmentID: appt.ID, NewStartTime: at(13, 20), ActorID: "u1"}, kind: apperr.SlotConflict},
		{name: "buffer past window end", req: Request{AppointmentID: appt.ID, NewStartTime: at(16, 30), ActorID: "u1"}, kind: apperr.SlotConflict},
		{name: "outside window", req: Request{AppointmentID: appt.ID, NewStartTime: at(8, 0), ActorID: "u1"}, kind: apperr.SlotConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.Reschedule(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err), err)
		})
	}

	stored, err := f.store.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, at(10, 0), stored.StartTime)
	assert.Zero(t, stored.RescheduleCount)
	assert.Empty(t, f.notifier.previous)
}

func TestRescheduleOverlappingOwnSlot(t *testing.T) {
	f := newFixture(t)
	appt := f.put("u1", "s1", at(10, 0))

	moved, err := f.coord.Reschedule(context.Background(), Request{AppointmentID: appt.ID, NewStartTime: at(10, 15), ActorID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, at(10, 15), moved.StartTime)
}

func TestRescheduleSkipCounter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.store.PutAppointment(model.Appointment{
		UserID: "u1", StaffID: "s1", StartTime: at(10, 0), EndTime: at(10, 30),
		Status: model.StatusRescheduled, RescheduleCount: 2,
		Items: []model.AppointmentItem{{ServiceID: "facial", Duration: 30 * time.Minute}},
	})

	moved, err := f.coord.Reschedule(ctx, Request{AppointmentID: appt.ID, NewStartTime: at(11, 0), ActorID: "st", SkipCounter: true})
	require.NoError(t, err)
	assert.Equal(t, 2, moved.RescheduleCount)

	audit := f.store.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, model.AuditRescheduleNoCount, audit[0].Action)
}

func TestRescheduleSurvivesNotifierFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.err = errors.New("broker down")
	appt := f.put("u1", "s1", at(10, 0))

	moved, err := f.coord.Reschedule(ctx, Request{AppointmentID: appt.ID, NewStartTime: at(11, 0), ActorID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, at(11, 0), moved.StartTime)

	stored, err := f.store.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, at(11, 0), stored.StartTime)
	assert.Len(t, f.notifier.previous, 1)
}

func TestRescheduleLowSupervisionCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(s *settings.Settings) { s.LowSupervisionCapacity = 1 })
	mine := f.put("u1", "", at(10, 0))
	f.put("u2", "", at(11, 0))

	_, err := f.coord.Reschedule(ctx, Request{AppointmentID: mine.ID, NewStartTime: at(11, 0), ActorID: "u1"})
	assert.Equal(t, apperr.CapacityExceeded, apperr.KindOf(err), err)

	moved, err := f.coord.Reschedule(ctx, Request{AppointmentID: mine.ID, NewStartTime: at(10, 0).Add(24 * time.Hour), ActorID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "", moved.StaffID)
	assert.Equal(t, 1, moved.RescheduleCount)
}
