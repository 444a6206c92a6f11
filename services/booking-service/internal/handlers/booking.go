package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/lock"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/storage"
)

type BookingHandler struct {
	engine   *availability.Engine
	booking  *booking.Coordinator
	store    storage.Store
	guard    *lock.Guard
	settings settings.Provider
	logger   *slog.Logger
}

func NewBookingHandler(engine *availability.Engine, coord *booking.Coordinator, store storage.Store, guard *lock.Guard, provider settings.Provider, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		engine:   engine,
		booking:  coord,
		store:    store,
		guard:    guard,
		settings: provider,
		logger:   logger,
	}
}

type slotItem struct {
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	StaffLabel string `json:"staff_label"`
	StaffID    string `json:"staff_id,omitempty"`
}

type bookRequest struct {
	ServiceIDs []string `json:"service_ids"`
	StaffID    string   `json:"staff_id"`
	StaffLabel string   `json:"staff_label"`
	StartTime  string   `json:"start_time"`
}

type itemResponse struct {
	ServiceID       string `json:"service_id"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceAtPurchase int64  `json:"price_at_purchase"`
}

type appointmentResponse struct {
	AppointmentID   string         `json:"appointment_id"`
	UserID          string         `json:"user_id"`
	StaffID         string         `json:"staff_id,omitempty"`
	StartTime       string         `json:"start_time"`
	EndTime         string         `json:"end_time"`
	Status          string         `json:"status"`
	Outcome         string         `json:"outcome,omitempty"`
	PriceAtPurchase int64          `json:"price_at_purchase"`
	AmountPaid      int64          `json:"amount_paid"`
	RescheduleCount int            `json:"reschedule_count"`
	Items           []itemResponse `json:"items,omitempty"`
}

func toResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID:   a.ID,
		UserID:          a.UserID,
		StaffID:         a.StaffID,
		StartTime:       formatTime(a.StartTime),
		EndTime:         formatTime(a.EndTime),
		Status:          string(a.Status),
		Outcome:         string(a.Outcome),
		PriceAtPurchase: a.PriceAtPurchase,
		AmountPaid:      a.AmountPaid,
		RescheduleCount: a.RescheduleCount,
	}
	for _, it := range a.Items {
		resp.Items = append(resp.Items, itemResponse{
			ServiceID:       it.ServiceID,
			DurationMinutes: int(it.Duration / time.Minute),
			PriceAtPurchase: it.PriceAtPurchase,
		})
	}
	return resp
}

// Slots lists free slots. Staff ids are only shown to staff callers; everyone else sees labels.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	day, err := time.Parse(time.DateOnly, strings.TrimSpace(q.Get("date")))
	if err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	serviceIDs := splitIDs(q.Get("service_ids"))
	if len(serviceIDs) == 0 {
		badRequest(w, "service_ids is required")
		return
	}

	slots, err := h.engine.ComputeSlots(r.Context(), availability.Query{
		Date:       day,
		ServiceIDs: serviceIDs,
		StaffID:    strings.TrimSpace(q.Get("staff_id")),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	showStaff := false
	if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
		if u, err := h.store.GetUser(r.Context(), id); err == nil {
			showStaff = u.Role.Privileged()
		}
	}
	resp := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		item := slotItem{StartTime: formatTime(s.StartTime), EndTime: formatTime(s.EndTime), StaffLabel: s.StaffLabel}
		if showStaff {
			item.StaffID = s.StaffID
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Book creates an appointment. With an Idempotency-Key header a repeated request from the same
// user returns the first response instead of booking again.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req bookRequest
	if !decode(w, r, &req) {
		return
	}
	start, ok := parseTime(req.StartTime)
	if !ok {
		badRequest(w, "start_time must be RFC3339")
		return
	}

	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		cfg, err := h.settings.Load(ctx)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		release, err := h.guard.Acquire(ctx, "idempotency:"+uid+":"+key, cfg.LockTTL, cfg.LockWait)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		defer release()

		rec, found, err := h.store.LookupIdempotency(ctx, uid, key)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		if found {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	staffID := strings.TrimSpace(req.StaffID)
	if staffID == "" && strings.TrimSpace(req.StaffLabel) != "" {
		id, err := h.engine.ResolveLabel(ctx, start, strings.TrimSpace(req.StaffLabel))
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		staffID = id
	}

	appt, err := h.booking.CreateAppointment(ctx, booking.Request{
		UserID:     uid,
		ServiceIDs: req.ServiceIDs,
		StaffID:    staffID,
		StartTime:  start,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := toResponse(appt)
	if key != "" {
		body, err := json.Marshal(resp)
		if err == nil {
			err = h.store.SaveIdempotency(ctx, storage.IdempotencyRecord{
				UserID:          uid,
				Key:             key,
				AppointmentID:   appt.ID,
				StatusCode:      http.StatusCreated,
				ResponsePayload: body,
			})
		}
		if err != nil {
			h.logger.Warn("idempotency record not saved", "appointment_id", appt.ID, "err", err)
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// List returns the caller's appointments, newest first.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.store.ListAppointmentsByUser(r.Context(), uid, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		resp = append(resp, toResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}
