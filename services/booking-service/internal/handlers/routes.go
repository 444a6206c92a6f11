package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/spabook/libs/httpx"
)

// Register mounts the booking API on mux. public wraps the unauthenticated endpoints
// (slot search and booking), typically with a rate limiter.
func Register(mux *http.ServeMux, b *BookingHandler, a *AppointmentHandler, s *StaffHandler, public ...httpx.Middleware) {
	mux.Handle("/api/v1/public/slots", httpx.Chain(http.HandlerFunc(b.Slots), public...))
	mux.Handle("/api/v1/public/book", httpx.Chain(http.HandlerFunc(b.Book), public...))
	mux.HandleFunc("/api/v1/appointments", b.List)
	mux.HandleFunc("/api/v1/appointments/reschedule", a.Reschedule)
	mux.HandleFunc("/api/v1/appointments/cancel", a.Cancel)
	mux.HandleFunc("/api/v1/appointments/complete", a.Complete)
	mux.HandleFunc("/api/v1/staff/windows", s.Windows)
	mux.HandleFunc("/api/v1/staff/exclusions", s.Exclusions)
}
