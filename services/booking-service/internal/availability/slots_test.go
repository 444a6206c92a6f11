package availability

import (
	"testing"
	"time"
)

func TestAvailableSlots_Basic(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, loc)
	window := Interval{Start: time.Date(2026, 1, 28, 9, 0, 0, 0, loc), End: time.Date(2026, 1, 28, 10, 0, 0, 0, loc)}

	busy := []Interval{
		{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute)},
	}

	slots := AvailableSlots(window, 15*time.Minute, 15*time.Minute, 0, busy, day)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Format(time.RFC3339))
	}
	if !slots[1].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected second slot 09:45, got %s", slots[1].Format(time.RFC3339))
	}
}

func TestAvailableSlots_Buffer(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	window := Interval{Start: day.Add(9 * time.Hour), End: day.Add(11 * time.Hour)}
	busy := []Interval{
		{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute)},
	}

	slots := AvailableSlots(window, 15*time.Minute, 15*time.Minute, 15*time.Minute, busy, day)
	// 09:00 and 09:45 sit inside the buffer; 10:45 would end at 11:00 with no room for the trailing buffer.
	want := []time.Duration{10 * time.Hour, 10*time.Hour + 15*time.Minute, 10*time.Hour + 30*time.Minute}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %v", len(want), slots)
	}
	for i, w := range want {
		if !slots[i].Equal(day.Add(w)) {
			t.Fatalf("slot %d: expected %s, got %s", i, day.Add(w).Format(time.RFC3339), slots[i].Format(time.RFC3339))
		}
	}
}

func TestAvailableSlots_SkipsPast(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, loc)
	window := Interval{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}

	earliest := day.Add(9*time.Hour + 31*time.Minute)
	slots := AvailableSlots(window, 15*time.Minute, 15*time.Minute, 0, nil, earliest)
	// 09:00, 09:15, 09:30 start before the earliest bookable instant. 09:45 is future.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected slot 09:45, got %s", slots[0].Format(time.RFC3339))
	}
}

func TestAvailableSlots_InvalidInput(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	window := Interval{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}

	if got := AvailableSlots(window, 0, 15*time.Minute, 0, nil, day); got != nil {
		t.Fatalf("expected nil for zero duration, got %v", got)
	}
	if got := AvailableSlots(Interval{Start: window.End, End: window.Start}, 15*time.Minute, 15*time.Minute, 0, nil, day); got != nil {
		t.Fatalf("expected nil for inverted window, got %v", got)
	}
	if got := AvailableSlots(window, 2*time.Hour, 15*time.Minute, 0, nil, day); len(got) != 0 {
		t.Fatalf("expected no slots for oversized bundle, got %v", got)
	}
}
