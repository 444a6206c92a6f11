package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/schedule"
)

type StaffHandler struct {
	schedule *schedule.Service
	logger   *slog.Logger
}

func NewStaffHandler(svc *schedule.Service, logger *slog.Logger) *StaffHandler {
	return &StaffHandler{schedule: svc, logger: logger}
}

type windowRequest struct {
	StaffID   string `json:"staff_id"`
	Weekday   int    `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type windowResponse struct {
	WindowID  string `json:"window_id"`
	StaffID   string `json:"staff_id"`
	Weekday   int    `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type exclusionRequest struct {
	StaffID   string `json:"staff_id"`
	Date      string `json:"date"`
	Weekday   *int   `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason"`
}

type exclusionResponse struct {
	ExclusionID string `json:"exclusion_id"`
	StaffID     string `json:"staff_id"`
	Date        string `json:"date,omitempty"`
	Weekday     *int   `json:"weekday,omitempty"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Reason      string `json:"reason,omitempty"`
}

// parseClock reads "HH:MM" as a minute of the day; "24:00" is accepted as the end of the day.
func parseClock(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "24:00" {
		return 24 * 60, nil
	}
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", raw)
	}
	return model.MinuteOfDay(t), nil
}

func clock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// Windows creates a working window; an identical existing window is returned with 200.
func (h *StaffHandler) Windows(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req windowRequest
	if !decode(w, r, &req) {
		return
	}
	start, err := parseClock(req.StartTime)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	end, err := parseClock(req.EndTime)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	win, created, err := h.schedule.CreateWorkingWindow(r.Context(), uid, model.WorkingWindow{
		StaffID:     strings.TrimSpace(req.StaffID),
		Weekday:     time.Weekday(req.Weekday),
		StartMinute: start,
		EndMinute:   end,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, windowResponse{
		WindowID:  win.ID,
		StaffID:   win.StaffID,
		Weekday:   int(win.Weekday),
		StartTime: clock(win.StartMinute),
		EndTime:   clock(win.EndMinute),
	})
}

func (h *StaffHandler) Exclusions(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req exclusionRequest
	if !decode(w, r, &req) {
		return
	}
	start, err := parseClock(req.StartTime)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	end, err := parseClock(req.EndTime)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	x := model.Exclusion{
		StaffID:     strings.TrimSpace(req.StaffID),
		StartMinute: start,
		EndMinute:   end,
		Reason:      strings.TrimSpace(req.Reason),
	}
	if raw := strings.TrimSpace(req.Date); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			badRequest(w, "date must be YYYY-MM-DD")
			return
		}
		x.Date = &d
	}
	if req.Weekday != nil {
		wd := time.Weekday(*req.Weekday)
		x.Weekday = &wd
	}

	created, err := h.schedule.CreateExclusion(r.Context(), uid, x)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := exclusionResponse{
		ExclusionID: created.ID,
		StaffID:     created.StaffID,
		StartTime:   clock(created.StartMinute),
		EndTime:     clock(created.EndMinute),
		Reason:      created.Reason,
	}
	if created.Date != nil {
		resp.Date = created.Date.Format(time.DateOnly)
	}
	if created.Weekday != nil {
		wd := int(*created.Weekday)
		resp.Weekday = &wd
	}
	writeJSON(w, http.StatusCreated, resp)
}
