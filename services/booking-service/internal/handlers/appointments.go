package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/reschedule"
)

type AppointmentHandler struct {
	reschedule *reschedule.Coordinator
	lifecycle  *lifecycle.Service
	logger     *slog.Logger
}

func NewAppointmentHandler(rc *reschedule.Coordinator, lc *lifecycle.Service, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{reschedule: rc, lifecycle: lc, logger: logger}
}

type rescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	NewStartTime  string `json:"new_start_time"`
	SkipCounter   bool   `json:"skip_counter"`
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type completeRequest struct {
	AppointmentID string `json:"appointment_id"`
	Outcome       string `json:"outcome"`
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if !decode(w, r, &req) {
		return
	}
	start, ok := parseTime(req.NewStartTime)
	if !ok {
		badRequest(w, "new_start_time must be RFC3339")
		return
	}

	appt, err := h.reschedule.Reschedule(r.Context(), reschedule.Request{
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		NewStartTime:  start,
		ActorID:       uid,
		SkipCounter:   req.SkipCounter,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}

	appt, err := h.lifecycle.Cancel(r.Context(), lifecycle.CancelRequest{
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		ActorID:       uid,
		Reason:        strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if !decode(w, r, &req) {
		return
	}

	appt, err := h.lifecycle.Complete(r.Context(), lifecycle.CompleteRequest{
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		ActorID:       uid,
		Outcome:       model.Outcome(strings.ToUpper(strings.TrimSpace(req.Outcome))),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}
