// Package notify tells the notification subsystem about appointment changes after they commit.
// Delivery is best-effort: failures are logged and never undo the change.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/spabook/libs/kafkax"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/outbox"
	"github.com/segmentio/kafka-go"
)

type Notifier interface {
	AppointmentRescheduled(ctx context.Context, appt model.Appointment, previousStart time.Time) error
	AppointmentCancelled(ctx context.Context, appt model.Appointment, reason string) error
}

// Kafka publishes notification events straight to their topics.
type Kafka struct {
	writer outbox.MessageWriter
}

func NewKafka(writer outbox.MessageWriter) *Kafka {
	return &Kafka{writer: writer}
}

func (k *Kafka) AppointmentRescheduled(ctx context.Context, appt model.Appointment, previousStart time.Time) error {
	p := outbox.NewAppointmentPayload(appt)
	p.PreviousStart = previousStart.UTC().Format(time.RFC3339)
	return k.publish(ctx, outbox.EventAppointmentRescheduled, p)
}

func (k *Kafka) AppointmentCancelled(ctx context.Context, appt model.Appointment, reason string) error {
	p := outbox.NewAppointmentPayload(appt)
	p.Reason = reason
	return k.publish(ctx, outbox.EventAppointmentCancelled, p)
}

func (k *Kafka) publish(ctx context.Context, eventType string, p outbox.AppointmentPayload) error {
	evt, err := outbox.AppointmentEvent(eventType, p)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: evt.EventType,
		Key:   []byte(evt.AggregateID),
		Value: evt.Payload,
		Headers: []kafka.Header{
			{Key: kafkax.HeaderEventID, Value: []byte(uuid.NewString())},
			{Key: kafkax.HeaderEventType, Value: []byte(evt.EventType)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	return k.writer.WriteMessages(ctx, msg)
}

// Log only logs; used when no broker is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) AppointmentRescheduled(_ context.Context, appt model.Appointment, previousStart time.Time) error {
	l.logger.Info("notify: appointment rescheduled", "appointment_id", appt.ID, "user_id", appt.UserID,
		"previous_start", previousStart.UTC().Format(time.RFC3339), "start_time", appt.StartTime.UTC().Format(time.RFC3339))
	return nil
}

func (l *Log) AppointmentCancelled(_ context.Context, appt model.Appointment, reason string) error {
	l.logger.Info("notify: appointment cancelled", "appointment_id", appt.ID, "user_id", appt.UserID, "reason", reason)
	return nil
}

// BestEffort runs send detached from the caller's cancellation, bounded by timeout,
// and logs a failure at Warn.
func BestEffort(ctx context.Context, logger *slog.Logger, timeout time.Duration, appointmentID string, send func(ctx context.Context) error) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := send(sendCtx); err != nil {
		logger.Warn("notification failed", "appointment_id", appointmentID, "err", err)
	}
}
