// Package lifecycle moves appointments through payment, cancellation and completion.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/storage"
)

// Events consumed from the payment collaborator.
const (
	EventPaymentApproved = "payments.payment.approved.v1"
	EventPaymentExpired  = "payments.payment.expired.v1"
)

// Payment is one settled payment reported by the payment collaborator.
type Payment struct {
	EventID       string
	AppointmentID string
	Kind          model.PaymentKind
	Amount        int64
}

type CancelRequest struct {
	AppointmentID string
	ActorID       string
	Reason        string
}

type CompleteRequest struct {
	AppointmentID string
	ActorID       string
	Outcome       model.Outcome
}

type Service struct {
	store    storage.Store
	settings settings.Provider
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store storage.Store, provider settings.Provider, notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		settings: provider,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyPayment adds p to the amount paid. An advance confirms a pending appointment; a final
// payment, or reaching the purchase price, marks it fully paid. A repeated EventID is a no-op.
func (s *Service) ApplyPayment(ctx context.Context, p Payment) (model.Appointment, error) {
	if p.AppointmentID == "" || p.Amount <= 0 {
		return model.Appointment{}, apperr.New(apperr.InvalidInput, "appointment and a positive amount are required")
	}
	if p.Kind != model.PaymentAdvance && p.Kind != model.PaymentFinal {
		return model.Appointment{}, apperr.New(apperr.InvalidInput, "unknown payment kind %q", p.Kind)
	}

	var appt model.Appointment
	duplicate := false
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		appt, err = tx.GetAppointmentForUpdate(ctx, p.AppointmentID)
		if err != nil {
			return err
		}
		if p.EventID != "" {
			fresh, err := tx.RecordInbox(ctx, p.EventID, EventPaymentApproved)
			if err != nil {
				return fmt.Errorf("record inbox: %w", err)
			}
			duplicate = !fresh
			if duplicate {
				return nil
			}
		}
		if appt.Status.Terminal() {
			return apperr.New(apperr.InvalidState, "appointment in status %s cannot take payments", appt.Status)
		}

		appt.AmountPaid += p.Amount
		switch {
		case p.Kind == model.PaymentFinal || appt.AmountPaid >= appt.PriceAtPurchase:
			appt.Status = model.StatusFullyPaid
		case appt.Status == model.StatusPendingPayment:
			appt.Status = model.StatusConfirmed
		}
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		return tx.SettleObligations(ctx, appt.ID, p.Kind)
	})
	if err != nil {
		s.logger.Info("payment not applied", "appointment_id", p.AppointmentID, "event_id", p.EventID, "err", err)
		return model.Appointment{}, err
	}
	if duplicate {
		s.logger.Info("duplicate payment ignored", "event_id", p.EventID, "appointment_id", p.AppointmentID)
		return appt, nil
	}
	s.logger.Info("payment applied", "appointment_id", appt.ID, "kind", p.Kind, "amount", p.Amount, "status", appt.Status)
	return appt, nil
}

// Cancel cancels on behalf of actorID. Owners must respect the cancellation notice; staff may
// cancel at any time, and a late cancellation by staff is audited.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (model.Appointment, error) {
	if req.AppointmentID == "" || req.ActorID == "" {
		return model.Appointment{}, apperr.New(apperr.InvalidInput, "appointment and actor are required")
	}
	cfg, err := s.settings.Load(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	actor, err := s.store.GetUser(ctx, req.ActorID)
	if err != nil {
		return model.Appointment{}, err
	}

	var appt model.Appointment
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		appt, err = tx.GetAppointmentForUpdate(ctx, req.AppointmentID)
		if err != nil {
			return err
		}
		if !actor.Role.Privileged() && appt.UserID != actor.ID {
			return apperr.New(apperr.NotOwner, "appointment belongs to another user")
		}
		if !appt.Status.CanTransitionTo(model.StatusCancelled) {
			return apperr.New(apperr.InvalidState, "appointment in status %s cannot be cancelled", appt.Status)
		}

		late := appt.StartTime.Sub(s.now()) < cfg.CancellationNotice
		appt.Status = model.StatusCancelled
		appt.Outcome = model.OutcomeCancelledUser
		if actor.Role.Privileged() {
			appt.Outcome = model.OutcomeCancelledStaff
		} else if late {
			return apperr.New(apperr.WindowClosed, "appointments can only be cancelled more than %s before they start", cfg.CancellationNotice)
		}

		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		if actor.Role.Privileged() && late {
			reason := "bypassed: notice window of " + cfg.CancellationNotice.String()
			if req.Reason != "" {
				reason += "; " + req.Reason
			}
			if err := tx.RecordAudit(ctx, model.AuditEntry{
				ActorID:       actor.ID,
				AppointmentID: appt.ID,
				Action:        model.AuditCancelPolicyBypass,
				Reason:        reason,
			}); err != nil {
				return fmt.Errorf("record audit: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Info("cancellation rejected", "appointment_id", req.AppointmentID, "actor_id", req.ActorID, "err", err)
		return model.Appointment{}, err
	}

	s.logger.Info("appointment cancelled", "appointment_id", appt.ID, "actor_id", actor.ID, "outcome", appt.Outcome)
	s.notifyCancelled(ctx, appt, req.Reason)
	return appt, nil
}

// ExpirePayment cancels an appointment whose payment window lapsed. Appointments that were paid
// in the meantime are left alone.
func (s *Service) ExpirePayment(ctx context.Context, eventID, appointmentID string) (model.Appointment, bool, error) {
	var appt model.Appointment
	expired := false
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		appt, err = tx.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if eventID != "" {
			fresh, err := tx.RecordInbox(ctx, eventID, EventPaymentExpired)
			if err != nil {
				return fmt.Errorf("record inbox: %w", err)
			}
			if !fresh {
				return nil
			}
		}
		if appt.Status != model.StatusPendingPayment {
			return nil
		}
		appt.Status = model.StatusCancelled
		appt.Outcome = model.OutcomePaymentTimeout
		expired = true
		return tx.UpdateAppointment(ctx, appt)
	})
	if err != nil {
		return model.Appointment{}, false, err
	}
	if expired {
		s.logger.Info("appointment cancelled after payment timeout", "appointment_id", appt.ID)
		s.notifyCancelled(ctx, appt, string(model.OutcomePaymentTimeout))
	}
	return appt, expired, nil
}

// Complete records the visit outcome. Only staff may complete appointments.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (model.Appointment, error) {
	if req.Outcome != model.OutcomeAttended && req.Outcome != model.OutcomeNoShow {
		return model.Appointment{}, apperr.New(apperr.InvalidInput, "outcome must be %s or %s", model.OutcomeAttended, model.OutcomeNoShow)
	}
	actor, err := s.store.GetUser(ctx, req.ActorID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !actor.Role.Privileged() {
		return model.Appointment{}, apperr.New(apperr.NotOwner, "only staff may complete appointments")
	}

	var appt model.Appointment
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		appt, err = tx.GetAppointmentForUpdate(ctx, req.AppointmentID)
		if err != nil {
			return err
		}
		if !appt.Status.CanTransitionTo(model.StatusCompleted) {
			return apperr.New(apperr.InvalidState, "appointment in status %s cannot be completed", appt.Status)
		}
		appt.Status = model.StatusCompleted
		appt.Outcome = req.Outcome
		return tx.UpdateAppointment(ctx, appt)
	})
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment completed", "appointment_id", appt.ID, "outcome", appt.Outcome, "outstanding", appt.Outstanding())
	return appt, nil
}

func (s *Service) notifyCancelled(ctx context.Context, appt model.Appointment, reason string) {
	if s.notifier == nil {
		return
	}
	notify.BestEffort(ctx, s.logger, 3*time.Second, appt.ID, func(ctx context.Context) error {
		return s.notifier.AppointmentCancelled(ctx, appt, reason)
	})
}
