// Package booking creates appointments: rule checks, slot lock, in-transaction re-validation and insert.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/capacity"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/lock"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/storage"
)

type Request struct {
	UserID     string
	ServiceIDs []string
	StaffID    string // empty for low-supervision bundles
	StartTime  time.Time
}

type Coordinator struct {
	store    storage.Store
	settings settings.Provider
	guard    *lock.Guard
	metrics  *metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(store storage.Store, provider settings.Provider, guard *lock.Guard, recorder *metrics.Recorder, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		settings: provider,
		guard:    guard,
		metrics:  recorder,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateAppointment books req in PENDING_PAYMENT. Concurrent attempts at the same slot are rejected;
// retries of a successful call are not deduplicated here.
func (c *Coordinator) CreateAppointment(ctx context.Context, req Request) (model.Appointment, error) {
	var appt model.Appointment
	err := c.metrics.Instrument(ctx, "CreateAppointment", func(ctx context.Context) error {
		var err error
		appt, err = c.create(ctx, req)
		return err
	})
	c.metrics.ObserveBooking(ctx, err)

	logArgs := []any{"user_id", req.UserID, "staff_id", req.StaffID, "start_time", req.StartTime.UTC().Format(time.RFC3339)}
	switch {
	case err == nil:
		c.logger.Info("appointment created", append(logArgs, "appointment_id", appt.ID, "price", appt.PriceAtPurchase)...)
	case apperr.KindOf(err) != "":
		c.logger.Info("booking rejected", append(logArgs, "kind", apperr.KindOf(err), "err", err)...)
	default:
		c.logger.Error("booking failed", append(logArgs, "err", err)...)
	}
	return appt, err
}

func (c *Coordinator) create(ctx context.Context, req Request) (model.Appointment, error) {
	cfg, err := c.settings.Load(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	if req.UserID == "" {
		return model.Appointment{}, apperr.New(apperr.InvalidInput, "user is required")
	}
	if req.StartTime.IsZero() {
		return model.Appointment{}, apperr.New(apperr.InvalidInput, "start time is required")
	}
	if err := catalog.CheckIDs(req.ServiceIDs); err != nil {
		return model.Appointment{}, err
	}
	if !req.StartTime.After(c.now()) {
		return model.Appointment{}, apperr.New(apperr.PastDate, "start time %s is not in the future", req.StartTime.UTC().Format(time.RFC3339))
	}

	user, err := c.store.GetUser(ctx, req.UserID)
	if err != nil {
		return model.Appointment{}, err
	}
	services, err := c.store.ServicesByIDs(ctx, req.ServiceIDs)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("load services: %w", err)
	}
	bundle, err := catalog.Resolve(req.ServiceIDs, services, user.Role)
	if err != nil {
		return model.Appointment{}, err
	}
	if req.StaffID == "" && !bundle.AllLowSupervision() {
		return model.Appointment{}, apperr.New(apperr.InvalidInput, "a staff member is required unless every service is low supervision")
	}

	debt, err := c.store.HasOutstandingDebt(ctx, user.ID)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("check debt: %w", err)
	}
	if debt {
		return model.Appointment{}, apperr.New(apperr.DebtBlocked, "outstanding payments must be settled before booking")
	}
	if limit, ok := cfg.RoleLimit(user.Role); ok {
		n, err := c.store.CountActiveAppointments(ctx, user.ID)
		if err != nil {
			return model.Appointment{}, fmt.Errorf("count active appointments: %w", err)
		}
		if n >= limit {
			return model.Appointment{}, apperr.New(apperr.RoleLimitExceeded, "role %s allows %d active appointments", user.Role, limit)
		}
	}

	start := req.StartTime
	end := start.Add(bundle.Duration)
	release, err := c.guard.Acquire(ctx, lock.SlotKey(req.StaffID, start), cfg.LockTTL, cfg.LockWait)
	if err != nil {
		return model.Appointment{}, err
	}
	defer release()

	appt := model.Appointment{
		UserID:          user.ID,
		StaffID:         req.StaffID,
		StartTime:       start,
		EndTime:         end,
		PriceAtPurchase: bundle.Price,
		Status:          model.StatusPendingPayment,
		Items:           append([]model.AppointmentItem(nil), bundle.Items...),
	}
	err = c.store.InTx(ctx, func(tx storage.Tx) error {
		if req.StaffID != "" {
			if err := tx.LockStaff(ctx, req.StaffID); err != nil {
				return err
			}
			if err := CheckSlot(ctx, tx, cfg, req.StaffID, start, end, ""); err != nil {
				return err
			}
		} else {
			if err := capacity.New(cfg.LowSupervisionCapacity).CheckCapacity(ctx, tx, start, ""); err != nil {
				return err
			}
		}

		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		evt, err := outbox.AppointmentEvent(outbox.EventAppointmentCreated, outbox.NewAppointmentPayload(appt))
		if err != nil {
			return err
		}
		return tx.AppendOutbox(ctx, evt)
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}
