// Package metrics records booking outcomes and coordinator latency with the OpenTelemetry metrics API.
package metrics

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder methods are safe to call on a nil *Recorder.
type Recorder struct {
	bookingSuccess      metric.Int64Counter
	bookingConflict     metric.Int64Counter
	lockUnavailable     metric.Int64Counter
	bookingRejected     metric.Int64Counter
	rescheduleSuccess   metric.Int64Counter
	rescheduleRejected  metric.Int64Counter
	coordinatorDuration metric.Float64Histogram
}

func NewRecorder(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error
	if r.bookingSuccess, err = meter.Int64Counter("booking.success", metric.WithDescription("Appointments created")); err != nil {
		return nil, err
	}
	if r.bookingConflict, err = meter.Int64Counter("booking.conflict", metric.WithDescription("Bookings rejected by an overlapping appointment or full capacity")); err != nil {
		return nil, err
	}
	if r.lockUnavailable, err = meter.Int64Counter("booking.lock_unavailable", metric.WithDescription("Bookings that could not acquire the slot lock")); err != nil {
		return nil, err
	}
	if r.bookingRejected, err = meter.Int64Counter("booking.rejected", metric.WithDescription("Bookings rejected by a business rule")); err != nil {
		return nil, err
	}
	if r.rescheduleSuccess, err = meter.Int64Counter("reschedule.success", metric.WithDescription("Appointments moved")); err != nil {
		return nil, err
	}
	if r.rescheduleRejected, err = meter.Int64Counter("reschedule.rejected", metric.WithDescription("Reschedules rejected")); err != nil {
		return nil, err
	}
	if r.coordinatorDuration, err = meter.Float64Histogram("coordinator.duration",
		metric.WithDescription("Coordinator operation duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return r, nil
}

// Instrument runs fn and records its duration labelled with op and the resulting error kind.
func (r *Recorder) Instrument(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	started := time.Now()
	err := fn(ctx)
	if r != nil {
		r.coordinatorDuration.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("outcome", outcome(err)),
		))
	}
	return err
}

// ObserveBooking counts the result of one CreateAppointment call.
func (r *Recorder) ObserveBooking(ctx context.Context, err error) {
	if r == nil {
		return
	}
	switch kind := apperr.KindOf(err); {
	case err == nil:
		r.bookingSuccess.Add(ctx, 1)
	case kind == apperr.SlotConflict || kind == apperr.CapacityExceeded:
		r.bookingConflict.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	case kind == apperr.SystemBusy:
		r.lockUnavailable.Add(ctx, 1)
	default:
		r.bookingRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", outcome(err))))
	}
}

func (r *Recorder) ObserveReschedule(ctx context.Context, err error) {
	if r == nil {
		return
	}
	if err == nil {
		r.rescheduleSuccess.Add(ctx, 1)
		return
	}
	r.rescheduleRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", outcome(err))))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := apperr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
