package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/spabook/libs/db"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
)

//go:embed schema.sql
var schema string

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Postgres struct {
	pool   *db.Pool
	outbox *outbox.Repository
	inbox  *inbox.Repository
}

func NewPostgres(pool *db.Pool, outboxRepo *outbox.Repository, inboxRepo *inbox.Repository) *Postgres {
	return &Postgres{pool: pool, outbox: outboxRepo, inbox: inboxRepo}
}

// Migrate applies the schema; every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return err
}

// InTx surfaces lock-wait timeouts, deadlocks and serialization failures as SystemBusy.
func (p *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := p.pool.InTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, outbox: p.outbox, inbox: p.inbox})
	})
	if err == nil || apperr.KindOf(err) != "" {
		return err
	}
	if db.IsContention(err) {
		return apperr.Wrap(apperr.SystemBusy, err, "database is busy, retry shortly")
	}
	return err
}

func activeStatuses() []string {
	out := make([]string, 0, len(model.ActiveStatuses))
	for _, s := range model.ActiveStatuses {
		out = append(out, string(s))
	}
	return out
}

func (p *Postgres) ServicesByIDs(ctx context.Context, ids []string) ([]model.Service, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT s.id, s.name, s.duration_minutes, s.price, s.vip_price, s.active,
			COALESCE(c.id, ''), COALESCE(c.name, ''), COALESCE(c.is_low_supervision, false)
		FROM services s
		LEFT JOIN service_categories c ON c.id = s.category_id
		WHERE s.id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var s model.Service
		var minutes int
		if err := rows.Scan(&s.ID, &s.Name, &minutes, &s.Price, &s.VIPPrice, &s.Active,
			&s.Category.ID, &s.Category.Name, &s.Category.IsLowSupervision); err != nil {
			return nil, err
		}
		s.Duration = time.Duration(minutes) * time.Minute
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) WorkingWindows(ctx context.Context, weekday time.Weekday, staffID string) ([]model.WorkingWindow, error) {
	return queryWindows(ctx, p.pool, `
		SELECT w.id::text, w.staff_id, w.weekday, w.start_minute, w.end_minute
		FROM staff_working_windows w
		JOIN staff s ON s.id = w.staff_id AND s.active
		WHERE w.weekday = $1 AND ($2 = '' OR w.staff_id = $2)
		ORDER BY w.staff_id, w.start_minute
	`, int(weekday), staffID)
}

func (p *Postgres) Exclusions(ctx context.Context, day time.Time, staffIDs []string) ([]model.Exclusion, error) {
	return queryExclusions(ctx, p.pool, `
		SELECT id::text, staff_id, exclusion_date, weekday, start_minute, end_minute, reason
		FROM availability_exclusions
		WHERE staff_id = ANY($1)
			AND (exclusion_date = $2 OR (exclusion_date IS NULL AND weekday = $3))
		ORDER BY staff_id, start_minute
	`, staffIDs, dateOnly(day), int(day.Weekday()))
}

func (p *Postgres) ActiveAppointments(ctx context.Context, staffIDs []string, from, to time.Time) ([]model.Appointment, error) {
	return queryAppointments(ctx, p.pool, appointmentColumns+`
		FROM appointments
		WHERE staff_id = ANY($1)
			AND status = ANY($2)
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, staffIDs, activeStatuses(), from, to)
}

func (p *Postgres) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	var role string
	err := p.pool.QueryRow(ctx, `SELECT id, role FROM users WHERE id = $1`, id).Scan(&u.ID, &role)
	if err != nil {
		if db.IsNotFound(err) {
			return model.User{}, apperr.New(apperr.NotFound, "user %s not found", id)
		}
		return model.User{}, err
	}
	u.Role = model.Role(role)
	return u, nil
}

// HasOutstandingDebt reports unpaid final-payment obligations or completed appointments
// that were never paid in full.
func (p *Postgres) HasOutstandingDebt(ctx context.Context, userID string) (bool, error) {
	var debt bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payment_obligations
			WHERE user_id = $1 AND kind = 'FINAL' AND NOT paid
		) OR EXISTS (
			SELECT 1 FROM appointments
			WHERE user_id = $1 AND status = 'COMPLETED' AND price_at_purchase > amount_paid
		)
	`, userID).Scan(&debt)
	return debt, err
}

func (p *Postgres) CountActiveAppointments(ctx context.Context, userID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT count(*) FROM appointments WHERE user_id = $1 AND status = ANY($2)
	`, userID, activeStatuses()).Scan(&n)
	return n, err
}

func (p *Postgres) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return getAppointment(ctx, p.pool, id, "")
}

func (p *Postgres) ListAppointmentsByUser(ctx context.Context, userID string, limit int) ([]model.Appointment, error) {
	appts, err := queryAppointments(ctx, p.pool, appointmentColumns+`
		FROM appointments
		WHERE user_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return appts, loadItems(ctx, p.pool, appts)
}

func (p *Postgres) LookupIdempotency(ctx context.Context, userID, key string) (IdempotencyRecord, bool, error) {
	rec := IdempotencyRecord{UserID: userID, Key: key}
	err := p.pool.QueryRow(ctx, `
		SELECT appointment_id, status_code, response_payload
		FROM booking_idempotency_keys
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key).Scan(&rec.AppointmentID, &rec.StatusCode, &rec.ResponsePayload)
	if err != nil {
		if db.IsNotFound(err) {
			return IdempotencyRecord{}, false, nil
		}
		return IdempotencyRecord{}, false, err
	}
	return rec, true, nil
}

func (p *Postgres) SaveIdempotency(ctx context.Context, rec IdempotencyRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (user_id, idempotency_key, appointment_id, status_code, response_payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING
	`, rec.UserID, rec.Key, rec.AppointmentID, rec.StatusCode, rec.ResponsePayload)
	return err
}

func (p *Postgres) SettingsOverrides(ctx context.Context) (settings.Overrides, bool, error) {
	var o settings.Overrides
	err := p.pool.QueryRow(ctx, `
		SELECT buffer_minutes, low_supervision_capacity, client_limit, vip_limit
		FROM global_settings
		WHERE id = 1
	`).Scan(&o.BufferMinutes, &o.LowSupervisionCapacity, &o.ClientLimit, &o.VIPLimit)
	if err != nil {
		if db.IsNotFound(err) {
			return settings.Overrides{}, false, nil
		}
		return settings.Overrides{}, false, err
	}
	return o, true, nil
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
	inbox  *inbox.Repository
}

func (t *pgTx) LockStaff(ctx context.Context, staffID string) error {
	var id string
	err := t.tx.QueryRow(ctx, `SELECT id FROM staff WHERE id = $1 AND active FOR UPDATE`, staffID).Scan(&id)
	if db.IsNotFound(err) {
		return apperr.New(apperr.InvalidInput, "unknown staff member %s", staffID)
	}
	return err
}

func (t *pgTx) LockLowSupervisionSlot(ctx context.Context, start time.Time) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
		"lowSupervision:"+start.UTC().Format(time.RFC3339))
	return err
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	return getAppointment(ctx, t.tx, id, "FOR UPDATE")
}

func (t *pgTx) StaffWindows(ctx context.Context, staffID string, weekday time.Weekday) ([]model.WorkingWindow, error) {
	return queryWindows(ctx, t.tx, `
		SELECT id::text, staff_id, weekday, start_minute, end_minute
		FROM staff_working_windows
		WHERE staff_id = $1 AND weekday = $2
		ORDER BY start_minute
	`, staffID, int(weekday))
}

func (t *pgTx) StaffExclusions(ctx context.Context, staffID string, day time.Time) ([]model.Exclusion, error) {
	return queryExclusions(ctx, t.tx, `
		SELECT id::text, staff_id, exclusion_date, weekday, start_minute, end_minute, reason
		FROM availability_exclusions
		WHERE staff_id = $1
			AND (exclusion_date = $2 OR (exclusion_date IS NULL AND weekday = $3))
		ORDER BY start_minute
	`, staffID, dateOnly(day), int(day.Weekday()))
}

func (t *pgTx) OverlappingAppointments(ctx context.Context, staffID string, from, to time.Time, excludeID string) ([]model.Appointment, error) {
	return queryAppointments(ctx, t.tx, appointmentColumns+`
		FROM appointments
		WHERE staff_id = $1
			AND status = ANY($2)
			AND start_time < $4
			AND end_time > $3
			AND ($5 = '' OR id::text <> $5)
		ORDER BY start_time ASC
	`, staffID, activeStatuses(), from, to, excludeID)
}

func (t *pgTx) CountLowSupervisionAt(ctx context.Context, start time.Time, excludeID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*) FROM appointments
		WHERE staff_id IS NULL
			AND start_time = $1
			AND status = ANY($2)
			AND ($3 = '' OR id::text <> $3)
	`, start, activeStatuses(), excludeID).Scan(&n)
	return n, err
}

func (t *pgTx) InsertAppointment(ctx context.Context, appt *model.Appointment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(user_id, staff_id, start_time, end_time, price_at_purchase, amount_paid, status, outcome, reschedule_count)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)
		RETURNING id::text, created_at, updated_at
	`, appt.UserID, appt.StaffID, appt.StartTime, appt.EndTime, appt.PriceAtPurchase, appt.AmountPaid,
		string(appt.Status), string(appt.Outcome), appt.RescheduleCount).Scan(&appt.ID, &appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return overlapConflict(err)
	}

	if len(appt.Items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range appt.Items {
		appt.Items[i].AppointmentID = appt.ID
		it := appt.Items[i]
		batch.Queue(`
			INSERT INTO appointment_items (appointment_id, position, service_id, duration_minutes, price_at_purchase)
			VALUES ($1, $2, $3, $4, $5)
		`, appt.ID, i, it.ServiceID, int(it.Duration/time.Minute), it.PriceAtPurchase)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) UpdateAppointment(ctx context.Context, appt model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET start_time = $2,
			end_time = $3,
			status = $4,
			outcome = $5,
			reschedule_count = $6,
			amount_paid = $7,
			updated_at = now()
		WHERE id = $1
	`, appt.ID, appt.StartTime, appt.EndTime, string(appt.Status), string(appt.Outcome), appt.RescheduleCount, appt.AmountPaid)
	if err != nil {
		return overlapConflict(err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "appointment %s not found", appt.ID)
	}
	return nil
}

func (t *pgTx) RecordAudit(ctx context.Context, e model.AuditEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO audit_log (actor_id, appointment_id, action, reason)
		VALUES ($1, $2, $3, $4)
	`, e.ActorID, e.AppointmentID, e.Action, e.Reason)
	return err
}

// InsertWorkingWindow returns ErrDuplicate when the identical window already exists.
func (t *pgTx) InsertWorkingWindow(ctx context.Context, w *model.WorkingWindow) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO staff_working_windows (staff_id, weekday, start_minute, end_minute)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (staff_id, weekday, start_minute, end_minute) DO NOTHING
		RETURNING id::text
	`, w.StaffID, int(w.Weekday), w.StartMinute, w.EndMinute).Scan(&w.ID)
	if db.IsNotFound(err) {
		return ErrDuplicate
	}
	return err
}

func (t *pgTx) InsertExclusion(ctx context.Context, x *model.Exclusion) error {
	var date *time.Time
	if x.Date != nil {
		d := dateOnly(*x.Date)
		date = &d
	}
	var weekday *int
	if x.Weekday != nil {
		wd := int(*x.Weekday)
		weekday = &wd
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO availability_exclusions (staff_id, exclusion_date, weekday, start_minute, end_minute, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id::text
	`, x.StaffID, date, weekday, x.StartMinute, x.EndMinute, x.Reason).Scan(&x.ID)
}

func (t *pgTx) SettleObligations(ctx context.Context, appointmentID string, kind model.PaymentKind) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE payment_obligations SET paid = true
		WHERE appointment_id = $1 AND kind = $2 AND NOT paid
	`, appointmentID, string(kind))
	return err
}

func (t *pgTx) AppendOutbox(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func (t *pgTx) RecordInbox(ctx context.Context, eventID, eventType string) (bool, error) {
	return t.inbox.Record(ctx, t.tx, eventID, eventType)
}

const appointmentColumns = `
		SELECT id::text, user_id, COALESCE(staff_id, ''), start_time, end_time, price_at_purchase, amount_paid,
			status, outcome, reschedule_count, created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status, outcome string
	err := row.Scan(&a.ID, &a.UserID, &a.StaffID, &a.StartTime, &a.EndTime, &a.PriceAtPurchase, &a.AmountPaid,
		&status, &outcome, &a.RescheduleCount, &a.CreatedAt, &a.UpdatedAt)
	a.Status = model.Status(status)
	a.Outcome = model.Outcome(outcome)
	return a, err
}

func getAppointment(ctx context.Context, q querier, id, suffix string) (model.Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, apperr.New(apperr.NotFound, "appointment %s not found", id)
	}
	a, err := scanAppointment(q.QueryRow(ctx, appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`+suffix, id))
	if err != nil {
		if db.IsNotFound(err) {
			return model.Appointment{}, apperr.New(apperr.NotFound, "appointment %s not found", id)
		}
		return model.Appointment{}, err
	}
	appts := []model.Appointment{a}
	if err := loadItems(ctx, q, appts); err != nil {
		return model.Appointment{}, err
	}
	return appts[0], nil
}

func queryAppointments(ctx context.Context, q querier, sql string, args ...any) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func loadItems(ctx context.Context, q querier, appts []model.Appointment) error {
	if len(appts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(appts))
	index := make(map[string]int, len(appts))
	for i, a := range appts {
		ids = append(ids, a.ID)
		index[a.ID] = i
	}

	rows, err := q.Query(ctx, `
		SELECT appointment_id::text, service_id, duration_minutes, price_at_purchase
		FROM appointment_items
		WHERE appointment_id::text = ANY($1)
		ORDER BY appointment_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("load appointment items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it model.AppointmentItem
		var minutes int
		if err := rows.Scan(&it.AppointmentID, &it.ServiceID, &minutes, &it.PriceAtPurchase); err != nil {
			return err
		}
		it.Duration = time.Duration(minutes) * time.Minute
		i := index[it.AppointmentID]
		appts[i].Items = append(appts[i].Items, it)
	}
	return rows.Err()
}

func queryWindows(ctx context.Context, q querier, sql string, args ...any) ([]model.WorkingWindow, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WorkingWindow
	for rows.Next() {
		var w model.WorkingWindow
		var weekday int16
		if err := rows.Scan(&w.ID, &w.StaffID, &weekday, &w.StartMinute, &w.EndMinute); err != nil {
			return nil, err
		}
		w.Weekday = time.Weekday(weekday)
		out = append(out, w)
	}
	return out, rows.Err()
}

func queryExclusions(ctx context.Context, q querier, sql string, args ...any) ([]model.Exclusion, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Exclusion
	for rows.Next() {
		var x model.Exclusion
		var weekday *int16
		if err := rows.Scan(&x.ID, &x.StaffID, &x.Date, &weekday, &x.StartMinute, &x.EndMinute, &x.Reason); err != nil {
			return nil, err
		}
		if weekday != nil {
			wd := time.Weekday(*weekday)
			x.Weekday = &wd
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

func overlapConflict(err error) error {
	if db.IsExclusionViolation(err) {
		return apperr.Wrap(apperr.SlotConflict, err, "slot overlaps an existing appointment")
	}
	return err
}

// dateOnly keeps the calendar date of t as a UTC midnight, the form the date column round-trips.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var _ Store = (*Postgres)(nil)
var _ Tx = (*pgTx)(nil)

// IsNotFound reports whether err carries the NotFound kind.
func IsNotFound(err error) bool {
	return errors.Is(err, apperr.NotFound)
}
