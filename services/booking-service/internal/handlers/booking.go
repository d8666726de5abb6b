package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dramac-main/dramac-booking/services/booking-service/internal/booking"
	"github.com/dramac-main/dramac-booking/services/booking-service/internal/model"
)

// Engine is the slice of the booking engine the HTTP layer uses.
type Engine interface {
	AvailableSlots(ctx context.Context, siteID, date, serviceID, staffID string) ([]model.TimeSlot, error)
	CreateAppointment(ctx context.Context, req booking.CreateRequest) (model.Appointment, error)
	CancelAppointment(ctx context.Context, siteID, appointmentID, reason string) (model.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, siteID, appointmentID, status string) (model.Appointment, error)
	ListAppointments(ctx context.Context, siteID string, limit int) ([]model.Appointment, error)
}

type BookingHandler struct {
	engine Engine
	logger *slog.Logger
}

func NewBookingHandler(engine Engine, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: engine, logger: logger}
}

type slotItem struct {
	StaffID   string `json:"staff_id,omitempty"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type createBookingRequest struct {
	SiteID        string `json:"site_id"`
	ServiceID     string `json:"service_id"`
	StaffID       string `json:"staff_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	StartTime     string `json:"start_time"`
}

type cancelBookingRequest struct {
	SiteID        string `json:"site_id"`
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type statusChangeRequest struct {
	SiteID        string `json:"site_id"`
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	ServiceID     string `json:"service_id"`
	StaffID       string `json:"staff_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	siteID := strings.TrimSpace(q.Get("site_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	date := strings.TrimSpace(q.Get("date"))
	staffID := strings.TrimSpace(q.Get("staff_id"))
	if siteID == "" || serviceID == "" || date == "" {
		writeError(w, http.StatusBadRequest, "site_id, service_id and date are required")
		return
	}

	slots, err := h.engine.AvailableSlots(r.Context(), siteID, date, serviceID, staffID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StaffID:   s.StaffID,
			StartTime: s.StartTime.UTC().Format(time.RFC3339),
			EndTime:   s.EndTime.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	startTime, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_time")
		return
	}

	appt, err := h.engine.CreateAppointment(r.Context(), booking.CreateRequest{
		SiteID:         strings.TrimSpace(req.SiteID),
		ServiceID:      strings.TrimSpace(req.ServiceID),
		StaffID:        strings.TrimSpace(req.StaffID),
		CustomerName:   strings.TrimSpace(req.CustomerName),
		CustomerEmail:  strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:  strings.TrimSpace(req.CustomerPhone),
		StartTime:      startTime,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appointmentToItem(appt))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	appt, err := h.engine.CancelAppointment(r.Context(),
		strings.TrimSpace(req.SiteID), strings.TrimSpace(req.AppointmentID), strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentToItem(appt))
}

func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req statusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	appt, err := h.engine.UpdateAppointmentStatus(r.Context(),
		strings.TrimSpace(req.SiteID), strings.TrimSpace(req.AppointmentID), strings.TrimSpace(req.Status))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentToItem(appt))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	siteID := strings.TrimSpace(r.URL.Query().Get("site_id"))
	if siteID == "" {
		writeError(w, http.StatusBadRequest, "site_id required")
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.engine.ListAppointments(r.Context(), siteID, limit)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, appointmentToItem(a))
	}
	writeJSON(w, http.StatusOK, items)
}

// writeEngineError maps the error kind to a status. The body carries the
// engine's message only; any wrapped cause (driver errors included) stays in
// the log.
func (h *BookingHandler) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch booking.KindOf(err) {
	case booking.KindInvalidRequest:
		status = http.StatusBadRequest
	case booking.KindPolicyViolation:
		status = http.StatusUnprocessableEntity
	case booking.KindSlotUnavailable:
		status = http.StatusConflict
	case booking.KindNotFound:
		status = http.StatusNotFound
	case booking.KindStorageFailure:
		status = http.StatusServiceUnavailable
	}

	msg := "internal error"
	var be *booking.Error
	if errors.As(err, &be) {
		msg = be.Message
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("booking request failed", "err", err)
	}
	writeError(w, status, msg)
}

func appointmentToItem(a model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID: a.ID,
		ServiceID:     a.ServiceID,
		StaffID:       a.StaffID,
		StartTime:     a.StartTime.UTC().Format(time.RFC3339),
		EndTime:       a.EndTime.UTC().Format(time.RFC3339),
		Status:        a.Status,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.CancelledAt != nil {
		item.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
