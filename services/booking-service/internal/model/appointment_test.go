package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPendingPayment.CanTransitionTo(StatusConfirmed))
	assert.True(t, StatusRescheduled.CanTransitionTo(StatusRescheduled))
	assert.False(t, StatusPendingPayment.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusCancelled.CanTransitionTo(StatusConfirmed))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusRescheduled))

	for _, s := range ActiveStatuses {
		assert.True(t, s.Active(), s)
		assert.False(t, s.Terminal(), s)
	}
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusCompleted.Active())
}

func TestBundleDurationAndOutstanding(t *testing.T) {
	a := Appointment{
		PriceAtPurchase: 150,
		AmountPaid:      50,
		Items: []AppointmentItem{
			{ServiceID: "a", Duration: 30 * time.Minute},
			{ServiceID: "b", Duration: 45 * time.Minute},
		},
	}
	assert.Equal(t, 75*time.Minute, a.BundleDuration())
	assert.Equal(t, int64(100), a.Outstanding())

	a.AmountPaid = 200
	assert.Equal(t, int64(0), a.Outstanding())
}

func TestWorkingWindowOverlap(t *testing.T) {
	w := WorkingWindow{StaffID: "s1", Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 12 * 60}
	assert.True(t, w.SameSlot(w))
	assert.True(t, w.Overlaps(WorkingWindow{StaffID: "s1", Weekday: time.Monday, StartMinute: 11 * 60, EndMinute: 13 * 60}))
	assert.False(t, w.Overlaps(WorkingWindow{StaffID: "s1", Weekday: time.Monday, StartMinute: 12 * 60, EndMinute: 13 * 60}))
	assert.False(t, w.Overlaps(WorkingWindow{StaffID: "s2", Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 12 * 60}))
}

func TestAtMinute(t *testing.T) {
	day := time.Date(2026, 3, 2, 17, 44, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC), AtMinute(day, 9*60+30))
	assert.Equal(t, 17*60+44, MinuteOfDay(day))
}

func TestAtMinuteFollowsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// Clocks jump from 02:00 to 03:00 on 2026-03-08.
	day := time.Date(2026, 3, 8, 0, 0, 0, 0, loc)

	nine := AtMinute(day, 9*60)
	assert.Equal(t, 9, nine.Hour())
	assert.Equal(t, 0, nine.Minute())
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, loc), AtMinute(day, 24*60))
}
