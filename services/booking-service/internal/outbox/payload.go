package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
)

type appointmentItem struct {
	ServiceID       string `json:"service_id"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceAtPurchase int64  `json:"price_at_purchase"`
}

// AppointmentPayload is the JSON body shared by all appointment events.
type AppointmentPayload struct {
	AppointmentID   string            `json:"appointment_id"`
	UserID          string            `json:"user_id"`
	StaffID         string            `json:"staff_id,omitempty"`
	StartTime       string            `json:"start_time"`
	EndTime         string            `json:"end_time"`
	Status          string            `json:"status"`
	Outcome         string            `json:"outcome,omitempty"`
	PriceAtPurchase int64             `json:"price_at_purchase"`
	AmountPaid      int64             `json:"amount_paid"`
	RescheduleCount int               `json:"reschedule_count"`
	Items           []appointmentItem `json:"items"`
	PreviousStart   string            `json:"previous_start_time,omitempty"`
	Reason          string            `json:"reason,omitempty"`
}

func NewAppointmentPayload(appt model.Appointment) AppointmentPayload {
	p := AppointmentPayload{
		AppointmentID:   appt.ID,
		UserID:          appt.UserID,
		StaffID:         appt.StaffID,
		StartTime:       appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:         appt.EndTime.UTC().Format(time.RFC3339),
		Status:          string(appt.Status),
		Outcome:         string(appt.Outcome),
		PriceAtPurchase: appt.PriceAtPurchase,
		AmountPaid:      appt.AmountPaid,
		RescheduleCount: appt.RescheduleCount,
		Items:           make([]appointmentItem, 0, len(appt.Items)),
	}
	for _, it := range appt.Items {
		p.Items = append(p.Items, appointmentItem{
			ServiceID:       it.ServiceID,
			DurationMinutes: int(it.Duration / time.Minute),
			PriceAtPurchase: it.PriceAtPurchase,
		})
	}
	return p
}

// AppointmentEvent wraps payload as an outbox event of eventType.
func AppointmentEvent(eventType string, payload AppointmentPayload) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateAppointment,
		AggregateID:   payload.AppointmentID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
