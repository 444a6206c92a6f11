package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/lock"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-03-02 is a Monday; the clock sits on the Sunday evening before.
var (
	monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	now    = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
)

func at(h, m int) time.Time { return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func vip(v int64) *int64 { return &v }

type fixture struct {
	store    *memory.Store
	settings settings.Settings
	coord    *Coordinator
	engine   *availability.Engine
}

func newFixture(t *testing.T, mutate ...func(*settings.Settings)) *fixture {
	t.Helper()
	s := memory.New()
	s.AddWorkingWindow(model.WorkingWindow{StaffID: "s1", Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 12 * 60})
	s.AddService(model.Service{ID: "facial", Duration: 30 * time.Minute, Price: 100000, Active: true})
	s.AddService(model.Service{ID: "massage", Duration: 60 * time.Minute, Price: 200000, VIPPrice: vip(150000), Active: true})
	s.AddService(model.Service{ID: "sauna", Duration: 45 * time.Minute, Price: 30000, Active: true,
		Category: model.Category{ID: "wet", IsLowSupervision: true}})
	s.AddUser(model.User{ID: "u1", Role: model.RoleClient})
	s.AddUser(model.User{ID: "u2", Role: model.RoleClient})
	s.AddUser(model.User{ID: "vip", Role: model.RoleVIP})

	cfg := settings.Defaults()
	for _, m := range mutate {
		m(&cfg)
	}
	provider := settings.Static{Settings: cfg}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return now }

	return &fixture{
		store:    s,
		settings: cfg,
		coord:    NewCoordinator(s, provider, lock.NewGuard(lock.NewMemoryLocker(), logger), nil, logger, WithClock(clock)),
		engine:   availability.NewEngine(s, provider, clock),
	}
}

func TestEndToEndMondayScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	slots, err := f.engine.ComputeSlots(ctx, availability.Query{Date: monday, ServiceIDs: []string{"facial"}})
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, at(9, 0), slots[0].StartTime)

	appt, err := f.coord.CreateAppointment(ctx, Request{UserID: "u1", ServiceIDs: []string{"facial"}, StaffID: "s1", StartTime: at(9, 0)})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingPayment, appt.Status)
	assert.Equal(t, int64(100000), appt.PriceAtPurchase)
	assert.Equal(t, at(9, 30), appt.EndTime)
	assert.Equal(t, appt.EndTime.Sub(appt.StartTime), appt.BundleDuration())

	_, err = f.coord.CreateAppointment(ctx, Request{UserID: "u2", ServiceIDs: []string{"facial"}, StaffID: "s1", StartTime: at(9, 0)})
	assert.True(t, errors.Is(err, apperr.SlotConflict), err)

	_, err = f.coord.CreateAppointment(ctx, Request{UserID: "u2", ServiceIDs: []string{"facial"}, StaffID: "s1", StartTime: at(9, 45)})
	require.NoError(t, err)

	events := f.store.Outbox()
	require.Len(t, events, 2)
	assert.Equal(t, outbox.EventAppointmentCreated, events[0].EventType)
	var payload outbox.AppointmentPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, appt.ID, payload.AppointmentID)
	assert.Equal(t, "PENDING_PAYMENT", payload.Status)
}

func TestConcurrentBookingsSameSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const n = 12
	for i := 0; i < n; i++ {
		f.store.AddUser(model.User{ID: fmt.Sprintf("c%d", i), Role: model.RoleClient})
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coord.CreateAppointment(ctx, Request{
				UserID:     fmt.Sprintf("c%d", i),
				ServiceIDs: []string{"facial"},
				StaffID:    "s1",
				StartTime:  at(10, 0),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		kind := apperr.KindOf(err)
		assert.True(t, kind == apperr.SlotConflict || kind == apperr.SystemBusy, err)
	}
	assert.Equal(t, 1, succeeded)
}

func TestLowSupervisionCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(s *settings.Settings) { s.LowSupervisionCapacity = 2 })
	for _, id := range []string{"a", "b", "c"} {
		f.store.AddUser(model.User{ID: id, Role: model.RoleClient})
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.coord.CreateAppointment(ctx, Request{UserID: id, ServiceIDs: []string{"sauna"}, StartTime: at(14, 0)})
		}(i, id)
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.CapacityExceeded):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, full)

	// A different start time has its own ceiling.
	_, err := f.coord.CreateAppointment(ctx, Request{UserID: "u1", ServiceIDs: []string{"sauna"}, StartTime: at(14, 15)})
	require.NoError(t, err)
}

func TestCapacityZeroDisablesLimiter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("w%d", i)
		f.store.AddUser(model.User{ID: id, Role: model.RoleClient})
		_, err := f.coord.CreateAppointment(ctx, Request{UserID: id, ServiceIDs: []string{"sauna"}, StartTime: at(14, 0)})
		require.NoError(t, err)
	}
}

func TestVIPPricing(t *testing.T) {
	f := newFixture(t)
	appt, err := f.coord.CreateAppointment(context.Background(), Request{
		UserID:     "vip",
		ServiceIDs: []string{"massage", "facial"},
		StaffID:    "s1",
		StartTime:  at(9, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(150000+100000), appt.PriceAtPurchase)
	require.Len(t, appt.Items, 2)
	assert.Equal(t, int64(150000), appt.Items[0].PriceAtPurchase)
	assert.Equal(t, int64(100000), appt.Items[1].PriceAtPurchase)
	assert.Equal(t, at(10, 30), appt.EndTime)
}

func TestRejections(t *testing.T) {
	ctx := context.Background()
	wd := time.Monday

	tests := []struct {
		name  string
		setup func(f *fixture)
		req   Request
		kind  apperr.Kind
	}{
		{
			name: "past start",
			req:  Request{UserID: "u1", ServiceIDs: []string{"facial"}, StaffID: "s1", StartTime: now.Add(-time.Hour)},
			kind: apperr.PastDate,
		},
		{
			name: "duplicate service",
			req:  Request{UserID: "u1", ServiceIDs: []string{"facial", "facial"}, StaffID: "s1", StartTime: at(9, 0)},
			kind: apperr.DuplicateService,
		},
		{
			name: "no services",
			req:  Request{UserID: "u1", StaffID: "s1", StartTime: at(9, 0)},
			kind: apperr.InvalidInput,
		},
		{
			name: "staff required",
			req:  Request{UserID: "u1", ServiceIDs: []string{"facial", "sauna"}, StartTime: at(9, 0)},
			kind: apperr.InvalidInput,
		},
		{
			name: "unknown user",
			req:  Request{UserID: "ghost", ServiceIDs: []string{"facial"}, StaffID: "s1", StartTime: at(9, 0)},
			kind: apperr.NotFound,
		},
		{
			name: "unpaid final obligation",
			setup: func(f *fixture) {
				f.store.AddObligation(model.Obligation{UserID: "u1", Kind: model.PaymentFinal, Amount: 5000})
			},
			req:  Request{UserID: "u1", ServiceIDs: []string{"facial"}, StaffID: "s1", StartTime: at(9, 0)},
			kind: apperr.DebtBlocked,
		},
		{
			name: "client role limit",
			setup: func(f *fixture) {
				f.store.PutAppointment(model.Appointment{UserID: "u1", StaffID: "s1", StartTime: at(11, 0), EndTime: at(11, 30), Status: model.StatusConfirmed})
			},
			req:  Request{UserID: "u1", ServiceIDs: []string{"facial"}, StaffID: "s1", StartTime: at(9, 0)},
			kind: apperr.RoleLimitExceeded,
		},
		{
			name: "outside working hours",
			req:  Request{UserID: "u1", ServiceIDs: []string{"facial"}, StaffID: "s1", StartTime: at(11, 30)},
			kind: apperr.SlotConflict,
		},
		{
			name: "inside exclusion",
			setup: func(f *fixture) {
				f.store.AddExclusion(model.Exclusion{StaffID: "s1", Weekday: &wd, StartMinute: 10 * 60, EndMinute: 11 * 60, Reason: "training"})
			},
			req:  Request{UserID: "u1", ServiceIDs: []string{"facial"}, StaffID: "s1", StartTime: at(10, 0)},
			kind: apperr.SlotConflict,
		},
		{
			name: "unknown staff",
			req:  Request{UserID: "u1", ServiceIDs: []string{"facial"}, StaffID: "nobody", StartTime: at(9, 0)},
			kind: apperr.InvalidInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.coord.CreateAppointment(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err), err)
			assert.Empty(t, f.store.Outbox())
		})
	}
}

func TestVIPMayHoldSeveralAppointments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, start := range []time.Time{at(9, 0), at(9, 45), at(10, 30), at(11, 15)} {
		_, err := f.coord.CreateAppointment(ctx, Request{UserID: "vip", ServiceIDs: []string{"facial"}, StaffID: "s1", StartTime: start})
		require.NoError(t, err, start)
	}
	_, err := f.coord.CreateAppointment(ctx, Request{UserID: "vip", ServiceIDs: []string{"sauna"}, StartTime: at(15, 0)})
	assert.True(t, errors.Is(err, apperr.RoleLimitExceeded), err)
}
