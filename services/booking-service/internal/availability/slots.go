package availability

import "time"

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps uses half-open intervals: [a,b) overlaps [c,d) iff a < d && c < b.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Padded widens the interval by buffer on both sides.
func (i Interval) Padded(buffer time.Duration) Interval {
	return Interval{Start: i.Start.Add(-buffer), End: i.End.Add(buffer)}
}

// AvailableSlots returns slot start times within window, stepping by step from the window start,
// where a booking of length duration plus buffer on both sides does not hit any busy interval.
// Candidates before earliest, or whose end+buffer runs past the window end, are dropped.
//
// All times are expected to be in the same location (timezone).
func AvailableSlots(window Interval, duration, step, buffer time.Duration, busy []Interval, earliest time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !window.End.After(window.Start) {
		return nil
	}

	var slots []time.Time
	for t := window.Start; !t.Add(duration).After(window.End); t = t.Add(step) {
		if t.Before(earliest) {
			continue
		}
		if t.Add(duration + buffer).After(window.End) {
			continue
		}
		if SlotFree(Interval{Start: t, End: t.Add(duration)}, buffer, busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

// SlotFree reports whether slot, widened by buffer, stays clear of every busy interval.
// Busy intervals are used as stored; the buffer is applied to the candidate only.
func SlotFree(slot Interval, buffer time.Duration, busy []Interval) bool {
	padded := slot.Padded(buffer)
	for _, b := range busy {
		if padded.Overlaps(b) {
			return false
		}
	}
	return true
}
