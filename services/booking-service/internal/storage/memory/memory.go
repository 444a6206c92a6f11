// Package memory is an in-process storage.Store. Transactions run one at a time against a copy
// of the data that replaces the original on commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/storage"
)

type data struct {
	users       map[string]model.User
	staff       map[string]bool
	services    map[string]model.Service
	windows     []model.WorkingWindow
	exclusions  []model.Exclusion
	appts       map[string]model.Appointment
	obligations []model.Obligation
	audit       []model.AuditEntry
	idempotency map[string]storage.IdempotencyRecord
	overrides   *settings.Overrides
	outbox      []outbox.Event
	inbox       map[string]bool
}

type Store struct {
	mu  sync.Mutex
	d   *data
	now func() time.Time
}

func New() *Store {
	return &Store{
		d: &data{
			users:       make(map[string]model.User),
			staff:       make(map[string]bool),
			services:    make(map[string]model.Service),
			appts:       make(map[string]model.Appointment),
			idempotency: make(map[string]storage.IdempotencyRecord),
			inbox:       make(map[string]bool),
		},
		now: time.Now,
	}
}

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.d.clone()
	if err := fn(&tx{d: work, now: s.now}); err != nil {
		return err
	}
	s.d = work
	return nil
}

func (s *Store) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.users[u.ID] = u
}

func (s *Store) AddStaff(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.staff[id] = true
}

func (s *Store) AddService(svc model.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.services[svc.ID] = svc
}

func (s *Store) AddWorkingWindow(w model.WorkingWindow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	s.d.staff[w.StaffID] = true
	s.d.windows = append(s.d.windows, w)
}

func (s *Store) AddExclusion(x model.Exclusion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if x.ID == "" {
		x.ID = uuid.NewString()
	}
	s.d.exclusions = append(s.d.exclusions, x)
}

func (s *Store) AddObligation(o model.Obligation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	s.d.obligations = append(s.d.obligations, o)
}

// PutAppointment stores appt as-is, assigning an id when it has none.
func (s *Store) PutAppointment(appt model.Appointment) model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	s.d.appts[appt.ID] = cloneAppt(appt)
	return appt
}

func (s *Store) SetOverrides(o settings.Overrides) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.overrides = &o
}

// Outbox returns the events appended by committed transactions.
func (s *Store) Outbox() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.d.outbox...)
}

func (s *Store) Audit() []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditEntry(nil), s.d.audit...)
}

func (s *Store) ServicesByIDs(_ context.Context, ids []string) ([]model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Service
	for _, id := range ids {
		if svc, ok := s.d.services[id]; ok {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (s *Store) WorkingWindows(_ context.Context, weekday time.Weekday, staffID string) ([]model.WorkingWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.WorkingWindow
	for _, w := range s.d.windows {
		if w.Weekday == weekday && (staffID == "" || w.StaffID == staffID) && s.d.staff[w.StaffID] {
			out = append(out, w)
		}
	}
	sortWindows(out)
	return out, nil
}

func (s *Store) Exclusions(_ context.Context, day time.Time, staffIDs []string) ([]model.Exclusion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Exclusion
	for _, id := range staffIDs {
		out = append(out, s.d.exclusionsFor(id, day)...)
	}
	return out, nil
}

func (s *Store) ActiveAppointments(_ context.Context, staffIDs []string, from, to time.Time) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, id := range staffIDs {
		out = append(out, s.d.overlapping(id, from, to, "")...)
	}
	sortAppts(out)
	return out, nil
}

func (s *Store) GetUser(_ context.Context, id string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.d.users[id]
	if !ok {
		return model.User{}, apperr.New(apperr.NotFound, "user %s not found", id)
	}
	return u, nil
}

func (s *Store) HasOutstandingDebt(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.d.obligations {
		if o.UserID == userID && o.Kind == model.PaymentFinal && !o.Paid {
			return true, nil
		}
	}
	for _, a := range s.d.appts {
		if a.UserID == userID && a.Status == model.StatusCompleted && a.Outstanding() > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CountActiveAppointments(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.d.appts {
		if a.UserID == userID && a.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.appointment(id)
}

func (s *Store) ListAppointmentsByUser(_ context.Context, userID string, limit int) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.d.appts {
		if a.UserID == userID {
			out = append(out, cloneAppt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LookupIdempotency(_ context.Context, userID, key string) (storage.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.d.idempotency[userID+"\x00"+key]
	return rec, ok, nil
}

func (s *Store) SaveIdempotency(_ context.Context, rec storage.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rec.UserID + "\x00" + rec.Key
	if _, ok := s.d.idempotency[k]; !ok {
		s.d.idempotency[k] = rec
	}
	return nil
}

func (s *Store) SettingsOverrides(context.Context) (settings.Overrides, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d.overrides == nil {
		return settings.Overrides{}, false, nil
	}
	return *s.d.overrides, true, nil
}

type tx struct {
	d   *data
	now func() time.Time
}

func (t *tx) LockStaff(_ context.Context, staffID string) error {
	if !t.d.staff[staffID] {
		return apperr.New(apperr.InvalidInput, "unknown staff member %s", staffID)
	}
	return nil
}

func (t *tx) LockLowSupervisionSlot(context.Context, time.Time) error { return nil }

func (t *tx) GetAppointmentForUpdate(_ context.Context, id string) (model.Appointment, error) {
	return t.d.appointment(id)
}

func (t *tx) StaffWindows(_ context.Context, staffID string, weekday time.Weekday) ([]model.WorkingWindow, error) {
	var out []model.WorkingWindow
	for _, w := range t.d.windows {
		if w.StaffID == staffID && w.Weekday == weekday {
			out = append(out, w)
		}
	}
	sortWindows(out)
	return out, nil
}

func (t *tx) StaffExclusions(_ context.Context, staffID string, day time.Time) ([]model.Exclusion, error) {
	return t.d.exclusionsFor(staffID, day), nil
}

func (t *tx) OverlappingAppointments(_ context.Context, staffID string, from, to time.Time, excludeID string) ([]model.Appointment, error) {
	out := t.d.overlapping(staffID, from, to, excludeID)
	sortAppts(out)
	return out, nil
}

func (t *tx) CountLowSupervisionAt(_ context.Context, start time.Time, excludeID string) (int, error) {
	n := 0
	for _, a := range t.d.appts {
		if a.StaffID == "" && a.ID != excludeID && a.Status.Active() && a.StartTime.Equal(start) {
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertAppointment(_ context.Context, appt *model.Appointment) error {
	if _, ok := t.d.users[appt.UserID]; !ok {
		return apperr.New(apperr.NotFound, "user %s not found", appt.UserID)
	}
	appt.ID = uuid.NewString()
	appt.CreatedAt = t.now()
	appt.UpdatedAt = appt.CreatedAt
	for i := range appt.Items {
		appt.Items[i].AppointmentID = appt.ID
	}
	t.d.appts[appt.ID] = cloneAppt(*appt)
	return nil
}

func (t *tx) UpdateAppointment(_ context.Context, appt model.Appointment) error {
	cur, ok := t.d.appts[appt.ID]
	if !ok {
		return apperr.New(apperr.NotFound, "appointment %s not found", appt.ID)
	}
	cur.StartTime = appt.StartTime
	cur.EndTime = appt.EndTime
	cur.Status = appt.Status
	cur.Outcome = appt.Outcome
	cur.RescheduleCount = appt.RescheduleCount
	cur.AmountPaid = appt.AmountPaid
	cur.UpdatedAt = t.now()
	t.d.appts[appt.ID] = cur
	return nil
}

func (t *tx) RecordAudit(_ context.Context, e model.AuditEntry) error {
	e.ID = uuid.NewString()
	e.CreatedAt = t.now()
	t.d.audit = append(t.d.audit, e)
	return nil
}

func (t *tx) InsertWorkingWindow(_ context.Context, w *model.WorkingWindow) error {
	for _, cur := range t.d.windows {
		if cur.SameSlot(*w) {
			return storage.ErrDuplicate
		}
	}
	w.ID = uuid.NewString()
	t.d.windows = append(t.d.windows, *w)
	return nil
}

func (t *tx) InsertExclusion(_ context.Context, x *model.Exclusion) error {
	x.ID = uuid.NewString()
	t.d.exclusions = append(t.d.exclusions, *x)
	return nil
}

func (t *tx) SettleObligations(_ context.Context, appointmentID string, kind model.PaymentKind) error {
	for i, o := range t.d.obligations {
		if o.AppointmentID == appointmentID && o.Kind == kind {
			t.d.obligations[i].Paid = true
		}
	}
	return nil
}

func (t *tx) AppendOutbox(_ context.Context, evt outbox.Event) error {
	t.d.outbox = append(t.d.outbox, evt)
	return nil
}

func (t *tx) RecordInbox(_ context.Context, eventID, _ string) (bool, error) {
	if t.d.inbox[eventID] {
		return false, nil
	}
	t.d.inbox[eventID] = true
	return true, nil
}

func (d *data) appointment(id string) (model.Appointment, error) {
	a, ok := d.appts[id]
	if !ok {
		return model.Appointment{}, apperr.New(apperr.NotFound, "appointment %s not found", id)
	}
	return cloneAppt(a), nil
}

func (d *data) exclusionsFor(staffID string, day time.Time) []model.Exclusion {
	y, m, dd := day.Date()
	var out []model.Exclusion
	for _, x := range d.exclusions {
		if x.StaffID != staffID {
			continue
		}
		if x.Date != nil {
			xy, xm, xd := x.Date.Date()
			if xy == y && xm == m && xd == dd {
				out = append(out, x)
			}
			continue
		}
		if x.Weekday != nil && *x.Weekday == day.Weekday() {
			out = append(out, x)
		}
	}
	return out
}

func (d *data) overlapping(staffID string, from, to time.Time, excludeID string) []model.Appointment {
	var out []model.Appointment
	for _, a := range d.appts {
		if a.StaffID != staffID || a.ID == excludeID || !a.Status.Active() {
			continue
		}
		if a.StartTime.Before(to) && a.EndTime.After(from) {
			out = append(out, cloneAppt(a))
		}
	}
	return out
}

func (d *data) clone() *data {
	c := &data{
		users:       make(map[string]model.User, len(d.users)),
		staff:       make(map[string]bool, len(d.staff)),
		services:    make(map[string]model.Service, len(d.services)),
		windows:     append([]model.WorkingWindow(nil), d.windows...),
		exclusions:  append([]model.Exclusion(nil), d.exclusions...),
		appts:       make(map[string]model.Appointment, len(d.appts)),
		obligations: append([]model.Obligation(nil), d.obligations...),
		audit:       append([]model.AuditEntry(nil), d.audit...),
		idempotency: make(map[string]storage.IdempotencyRecord, len(d.idempotency)),
		overrides:   d.overrides,
		outbox:      append([]outbox.Event(nil), d.outbox...),
		inbox:       make(map[string]bool, len(d.inbox)),
	}
	for k := range d.inbox {
		c.inbox[k] = true
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.staff {
		c.staff[k] = v
	}
	for k, v := range d.services {
		c.services[k] = v
	}
	for k, v := range d.appts {
		c.appts[k] = cloneAppt(v)
	}
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	return c
}

func cloneAppt(a model.Appointment) model.Appointment {
	a.Items = append([]model.AppointmentItem(nil), a.Items...)
	return a
}

func sortWindows(ws []model.WorkingWindow) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].StaffID != ws[j].StaffID {
			return ws[i].StaffID < ws[j].StaffID
		}
		return ws[i].StartMinute < ws[j].StartMinute
	})
}

func sortAppts(as []model.Appointment) {
	sort.Slice(as, func(i, j int) bool { return as[i].StartTime.Before(as[j].StartTime) })
}

var _ storage.Store = (*Store)(nil)
