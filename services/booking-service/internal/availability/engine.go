package availability

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
)

const labelPrefix = "Therapist "

// ScheduleReader is the read side the engine needs. Results are fully materialized.
type ScheduleReader interface {
	ServicesByIDs(ctx context.Context, ids []string) ([]model.Service, error)
	// WorkingWindows returns windows for weekday; an empty staffID means every staff member.
	WorkingWindows(ctx context.Context, weekday time.Weekday, staffID string) ([]model.WorkingWindow, error)
	// Exclusions returns date-specific exclusions on day and recurring ones for day's weekday.
	Exclusions(ctx context.Context, day time.Time, staffIDs []string) ([]model.Exclusion, error)
	ActiveAppointments(ctx context.Context, staffIDs []string, from, to time.Time) ([]model.Appointment, error)
}

type Slot struct {
	StartTime  time.Time
	EndTime    time.Time
	StaffID    string
	StaffLabel string
}

type Query struct {
	Date       time.Time // calendar date; only year, month and day are used
	ServiceIDs []string
	StaffID    string
}

type Engine struct {
	reader   ScheduleReader
	settings settings.Provider
	now      func() time.Time
}

func NewEngine(reader ScheduleReader, provider settings.Provider, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{reader: reader, settings: provider, now: now}
}

// ComputeSlots returns a snapshot of free slots for the bundle on q.Date, sorted by (start, staff).
// A returned slot may be claimed concurrently; booking re-validates under lock.
func (e *Engine) ComputeSlots(ctx context.Context, q Query) ([]Slot, error) {
	cfg, err := e.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := catalog.CheckIDs(q.ServiceIDs); err != nil {
		return nil, err
	}
	services, err := e.reader.ServicesByIDs(ctx, q.ServiceIDs)
	if err != nil {
		return nil, fmt.Errorf("load services: %w", err)
	}
	bundle, err := catalog.Resolve(q.ServiceIDs, services, model.RoleClient)
	if err != nil {
		return nil, err
	}

	day := LocalDay(q.Date, cfg.Location)
	windows, err := e.reader.WorkingWindows(ctx, day.Weekday(), "")
	if err != nil {
		return nil, fmt.Errorf("load working windows: %w", err)
	}
	labels := Labels(windows)
	windows = filterStaff(windows, q.StaffID)
	if len(windows) == 0 {
		return []Slot{}, nil
	}

	staffIDs := staffOf(windows)
	exclusions, err := e.reader.Exclusions(ctx, day, staffIDs)
	if err != nil {
		return nil, fmt.Errorf("load exclusions: %w", err)
	}
	dayEnd := day.AddDate(0, 0, 1)
	appts, err := e.reader.ActiveAppointments(ctx, staffIDs, day.Add(-cfg.Buffer), dayEnd.Add(cfg.Buffer))
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	busy := make(map[string][]Interval, len(staffIDs))
	for _, a := range appts {
		busy[a.StaffID] = append(busy[a.StaffID], Interval{Start: a.StartTime, End: a.EndTime})
	}
	for _, id := range staffIDs {
		for _, x := range ApplicableExclusions(exclusions, id, day) {
			busy[id] = append(busy[id], ExclusionInterval(x, day))
		}
	}

	earliest := e.now().Add(cfg.MinimumAdvance)
	slots := []Slot{}
	for _, w := range windows {
		starts := AvailableSlots(WindowInterval(w, day), bundle.Duration, cfg.SlotGranularity, cfg.Buffer, busy[w.StaffID], earliest)
		for _, s := range starts {
			slots = append(slots, Slot{
				StartTime:  s,
				EndTime:    s.Add(bundle.Duration),
				StaffID:    w.StaffID,
				StaffLabel: labels[w.StaffID],
			})
		}
	}
	sort.SliceStable(slots, func(i, j int) bool {
		if !slots[i].StartTime.Equal(slots[j].StartTime) {
			return slots[i].StartTime.Before(slots[j].StartTime)
		}
		return slots[i].StaffID < slots[j].StaffID
	})
	return slots, nil
}

// ResolveLabel maps an anonymous label returned by ComputeSlots back to a staff id. Labels are
// resolved against the business-local day that start falls on.
func (e *Engine) ResolveLabel(ctx context.Context, start time.Time, label string) (string, error) {
	cfg, err := e.settings.Load(ctx)
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(strings.TrimPrefix(label, labelPrefix))
	if err != nil || !strings.HasPrefix(label, labelPrefix) || n < 1 {
		return "", apperr.New(apperr.InvalidInput, "unknown staff label %q", label)
	}
	day := LocalDay(start.In(cfg.Location), cfg.Location)
	windows, err := e.reader.WorkingWindows(ctx, day.Weekday(), "")
	if err != nil {
		return "", fmt.Errorf("load working windows: %w", err)
	}
	ids := staffOf(windows)
	if n > len(ids) {
		return "", apperr.New(apperr.InvalidInput, "unknown staff label %q", label)
	}
	return ids[n-1], nil
}

// Labels assigns "Therapist N" to every staff member with a window, ordered by staff id.
func Labels(windows []model.WorkingWindow) map[string]string {
	ids := staffOf(windows)
	out := make(map[string]string, len(ids))
	for i, id := range ids {
		out[id] = labelPrefix + strconv.Itoa(i+1)
	}
	return out
}

// ApplicableExclusions returns staffID's date-specific exclusions on day when there are any,
// otherwise the recurring ones for day's weekday.
func ApplicableExclusions(all []model.Exclusion, staffID string, day time.Time) []model.Exclusion {
	var dated, recurring []model.Exclusion
	for _, x := range all {
		if x.StaffID != staffID {
			continue
		}
		switch {
		case x.Date != nil:
			if sameDate(*x.Date, day) {
				dated = append(dated, x)
			}
		case x.Weekday != nil && *x.Weekday == day.Weekday():
			recurring = append(recurring, x)
		}
	}
	if len(dated) > 0 {
		return dated
	}
	return recurring
}

func WindowInterval(w model.WorkingWindow, day time.Time) Interval {
	return Interval{Start: model.AtMinute(day, w.StartMinute), End: model.AtMinute(day, w.EndMinute)}
}

func ExclusionInterval(x model.Exclusion, day time.Time) Interval {
	return Interval{Start: model.AtMinute(day, x.StartMinute), End: model.AtMinute(day, x.EndMinute)}
}

// LocalDay returns midnight of t's calendar date in loc.
func LocalDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func filterStaff(windows []model.WorkingWindow, staffID string) []model.WorkingWindow {
	if staffID == "" {
		return windows
	}
	var out []model.WorkingWindow
	for _, w := range windows {
		if w.StaffID == staffID {
			out = append(out, w)
		}
	}
	return out
}

func staffOf(windows []model.WorkingWindow) []string {
	seen := make(map[string]struct{}, len(windows))
	var ids []string
	for _, w := range windows {
		if _, ok := seen[w.StaffID]; ok {
			continue
		}
		seen[w.StaffID] = struct{}{}
		ids = append(ids, w.StaffID)
	}
	sort.Strings(ids)
	return ids
}
