package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/spabook/libs/httpx"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
)

// UserIDHeader carries the authenticated user id set by the gateway.
const UserIDHeader = "X-User-Id"

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidInput, apperr.PastDate, apperr.DuplicateService:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.NotOwner:
		return http.StatusForbidden
	case apperr.SlotConflict, apperr.CapacityExceeded, apperr.InvalidState:
		return http.StatusConflict
	case apperr.DebtBlocked:
		return http.StatusPaymentRequired
	case apperr.RoleLimitExceeded, apperr.LimitExceeded, apperr.WindowClosed:
		return http.StatusUnprocessableEntity
	case apperr.SystemBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		logger.Error("request failed", "request_id", httpx.RequestIDFromContext(r.Context()), "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal", Message: "internal error"})
		return
	}
	if e.Kind == apperr.SystemBusy {
		w.Header().Set("Retry-After", "1")
	}
	msg := e.Detail
	if msg == "" {
		msg = string(e.Kind)
	}
	writeJSON(w, statusFor(e.Kind), errorResponse{Error: string(e.Kind), Message: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(apperr.InvalidInput), Message: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid json body")
		return false
	}
	return true
}

func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthenticated", Message: UserIDHeader + " header required"})
		return "", false
	}
	return id, true
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(raw string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	return t, err == nil
}

func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}
