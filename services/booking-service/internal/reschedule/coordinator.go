// Package reschedule moves existing appointments under the reschedule policy.
package reschedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/capacity"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/lock"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/storage"
)

type Request struct {
	AppointmentID string
	NewStartTime  time.Time
	ActorID       string
	SkipCounter   bool
}

type Coordinator struct {
	store    storage.Store
	settings settings.Provider
	guard    *lock.Guard
	notifier notify.Notifier
	metrics  *metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator wires the reschedule flow. notifier may be nil.
func NewCoordinator(store storage.Store, provider settings.Provider, guard *lock.Guard, notifier notify.Notifier, recorder *metrics.Recorder, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		settings: provider,
		guard:    guard,
		notifier: notifier,
		metrics:  recorder,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Reschedule(ctx context.Context, req Request) (model.Appointment, error) {
	var appt model.Appointment
	var previousStart time.Time
	err := c.metrics.Instrument(ctx, "Reschedule", func(ctx context.Context) error {
		var err error
		appt, previousStart, err = c.reschedule(ctx, req)
		return err
	})
	c.metrics.ObserveReschedule(ctx, err)

	logArgs := []any{"appointment_id", req.AppointmentID, "actor_id", req.ActorID, "start_time", req.NewStartTime.UTC().Format(time.RFC3339)}
	switch {
	case err == nil:
		c.logger.Info("appointment rescheduled", append(logArgs, "reschedule_count", appt.RescheduleCount)...)
	case apperr.KindOf(err) != "":
		c.logger.Info("reschedule rejected", append(logArgs, "kind", apperr.KindOf(err), "err", err)...)
	default:
		c.logger.Error("reschedule failed", append(logArgs, "err", err)...)
	}
	if err != nil {
		return model.Appointment{}, err
	}

	if c.notifier != nil {
		notify.BestEffort(ctx, c.logger, 3*time.Second, appt.ID, func(ctx context.Context) error {
			return c.notifier.AppointmentRescheduled(ctx, appt, previousStart)
		})
	}
	return appt, nil
}

func (c *Coordinator) reschedule(ctx context.Context, req Request) (model.Appointment, time.Time, error) {
	cfg, err := c.settings.Load(ctx)
	if err != nil {
		return model.Appointment{}, time.Time{}, err
	}
	if req.AppointmentID == "" || req.ActorID == "" || req.NewStartTime.IsZero() {
		return model.Appointment{}, time.Time{}, apperr.New(apperr.InvalidInput, "appointment, actor and new start time are required")
	}

	actor, err := c.store.GetUser(ctx, req.ActorID)
	if err != nil {
		return model.Appointment{}, time.Time{}, err
	}
	current, err := c.store.GetAppointment(ctx, req.AppointmentID)
	if err != nil {
		return model.Appointment{}, time.Time{}, err
	}
	if _, err := Evaluate(current, req.NewStartTime, actor, req.SkipCounter, cfg, c.now()); err != nil {
		return model.Appointment{}, time.Time{}, err
	}

	release, err := c.guard.Acquire(ctx, lock.SlotKey(current.StaffID, req.NewStartTime), cfg.LockTTL, cfg.LockWait)
	if err != nil {
		return model.Appointment{}, time.Time{}, err
	}
	defer release()

	var moved model.Appointment
	var previousStart time.Time
	err = c.store.InTx(ctx, func(tx storage.Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, req.AppointmentID)
		if err != nil {
			return err
		}
		decision, err := Evaluate(appt, req.NewStartTime, actor, req.SkipCounter, cfg, c.now())
		if err != nil {
			return err
		}

		duration := appt.BundleDuration()
		if duration <= 0 {
			duration = appt.EndTime.Sub(appt.StartTime)
		}
		start := req.NewStartTime
		end := start.Add(duration)

		if appt.StaffID != "" {
			if err := tx.LockStaff(ctx, appt.StaffID); err != nil {
				return err
			}
			if err := booking.CheckSlot(ctx, tx, cfg, appt.StaffID, start, end, appt.ID); err != nil {
				return err
			}
		} else if err := capacity.New(cfg.LowSupervisionCapacity).CheckCapacity(ctx, tx, start, appt.ID); err != nil {
			return err
		}

		previousStart = appt.StartTime
		appt.StartTime = start
		appt.EndTime = end
		appt.Status = model.StatusRescheduled
		if decision.IncrementCount {
			appt.RescheduleCount++
		}
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		for _, entry := range decision.Audit {
			if err := tx.RecordAudit(ctx, entry); err != nil {
				return fmt.Errorf("record audit: %w", err)
			}
		}
		moved = appt
		return nil
	})
	if err != nil {
		return model.Appointment{}, time.Time{}, err
	}
	return moved, previousStart, nil
}
