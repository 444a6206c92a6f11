package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/md-rashed-zaman/spabook/libs/kafkax"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/segmentio/kafka-go"
)

type paymentEvent struct {
	AppointmentID string `json:"appointment_id"`
	Kind          string `json:"kind"`
	Amount        int64  `json:"amount"`
}

// PaymentApproved applies an approved payment to its appointment.
func PaymentApproved(svc *lifecycle.Service) Handler {
	return func(ctx context.Context, meta kafkax.EventMeta, msg kafka.Message) error {
		var evt paymentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return apperr.Wrap(apperr.InvalidInput, err, "decode payment event")
		}
		_, err := svc.ApplyPayment(ctx, lifecycle.Payment{
			EventID:       meta.EventID,
			AppointmentID: evt.AppointmentID,
			Kind:          model.PaymentKind(evt.Kind),
			Amount:        evt.Amount,
		})
		return err
	}
}

// PaymentExpired cancels appointments still waiting for payment.
func PaymentExpired(svc *lifecycle.Service) Handler {
	return func(ctx context.Context, meta kafkax.EventMeta, msg kafka.Message) error {
		var evt paymentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return apperr.Wrap(apperr.InvalidInput, err, "decode payment event")
		}
		if evt.AppointmentID == "" {
			return apperr.New(apperr.InvalidInput, "payment event %s has no appointment", meta.EventID)
		}
		if _, _, err := svc.ExpirePayment(ctx, meta.EventID, evt.AppointmentID); err != nil {
			return fmt.Errorf("expire payment: %w", err)
		}
		return nil
	}
}
