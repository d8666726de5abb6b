package booking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dramac-main/dramac-booking/services/booking-service/internal/availability"
	"github.com/dramac-main/dramac-booking/services/booking-service/internal/model"
	"github.com/dramac-main/dramac-booking/services/booking-service/internal/outbox"
)

// Store is the storage contract the engine runs against. CreateAppointment
// must be atomic with the outbox write and must return ErrConflict when the
// staff + overlapping-buffered-window exclusion constraint rejects the row;
// that constraint is what makes two concurrent bookings of the same window
// resolve to exactly one winner. Cancel/UpdateStatus run their read-check-
// write under a row lock and call evt to build the outbox event from the
// final row.
type Store interface {
	SiteSettings(ctx context.Context, siteID string) (model.SiteSettings, error)
	GetService(ctx context.Context, siteID, serviceID string) (model.Service, error)
	GetStaff(ctx context.Context, siteID, staffID string) (model.Staff, error)
	ListServiceStaff(ctx context.Context, siteID, serviceID string) ([]model.Staff, error)
	ListRules(ctx context.Context, siteID string) ([]model.AvailabilityRule, error)
	ListActiveAppointments(ctx context.Context, siteID string, staffIDs []string, from, to time.Time) ([]model.Appointment, error)

	CreateAppointment(ctx context.Context, appt *model.Appointment, evt outbox.Event, idempotencyKey string) (id string, replayed bool, err error)
	GetAppointment(ctx context.Context, siteID, appointmentID string) (model.Appointment, error)
	CancelAppointment(ctx context.Context, siteID, appointmentID, reason string, evt func(model.Appointment) outbox.Event) (model.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, siteID, appointmentID, status string, evt func(model.Appointment) outbox.Event) (model.Appointment, error)
	ListAppointments(ctx context.Context, siteID string, limit int) ([]model.Appointment, error)
}

type Engine struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger, now: time.Now}
}

// WithClock overrides the engine's time source. Tests use it to pin "now".
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

type CreateRequest struct {
	SiteID         string
	ServiceID      string
	StaffID        string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	StartTime      time.Time
	IdempotencyKey string
}

// AvailableSlots lists the bookable start times for a site-local calendar
// date ("2006-01-02"). staffID may be empty: the slot then stays available as
// long as at least one qualifying staff member is free. An empty result is a
// valid answer, not an error.
func (e *Engine) AvailableSlots(ctx context.Context, siteID, date, serviceID, staffID string) ([]model.TimeSlot, error) {
	st, err := e.store.SiteSettings(ctx, siteID)
	if err != nil {
		return nil, wrapError(KindStorageFailure, "failed to load site settings", err)
	}
	loc := st.Location()

	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, newError(KindInvalidRequest, "date must be formatted as YYYY-MM-DD")
	}

	svc, pool, err := e.resolveParticipants(ctx, siteID, serviceID, staffID)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, nil
	}

	rules, err := e.store.ListRules(ctx, siteID)
	if err != nil {
		return nil, wrapError(KindStorageFailure, "failed to load availability rules", err)
	}

	members := e.resolveMembers(day, pool, serviceID, rules, st.SlotInterval(), svc.Duration())
	if len(members) == 0 {
		return nil, nil
	}

	cfg := availability.FilterConfig{
		Duration:     svc.Duration(),
		BufferBefore: svc.BufferBefore(),
		BufferAfter:  svc.BufferAfter(),
		MinNotice:    st.MinNotice(),
		MaxAdvance:   st.MaxAdvanceDays,
		Now:          e.now(),
		Loc:          loc,
	}

	first, last := members[0].cands[0], members[0].cands[len(members[0].cands)-1]
	for _, m := range members[1:] {
		if m.cands[0].Before(first) {
			first = m.cands[0]
		}
		if c := m.cands[len(m.cands)-1]; c.After(last) {
			last = c
		}
	}
	busy, err := e.loadBusy(ctx, siteID, pool, cfg.Buffered(first).Start, cfg.Buffered(last).End)
	if err != nil {
		return nil, err
	}

	var starts []time.Time
	for _, m := range members {
		starts = append(starts, availability.Filter(m.cands, []string{m.staffID}, busy, m.blocked, cfg)...)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	slots := make([]model.TimeSlot, 0, len(starts))
	for _, s := range starts {
		if n := len(slots); n > 0 && slots[n-1].StartTime.Equal(s.UTC()) {
			continue
		}
		slots = append(slots, model.TimeSlot{
			StaffID:   staffID,
			StartTime: s.UTC(),
			EndTime:   s.Add(svc.Duration()).UTC(),
		})
	}
	return slots, nil
}

// memberDay is one pool member's share of a date: their candidate grid after
// their own rule resolution, and their blocked carve-outs. Rules are resolved
// per member so staff-scoped rules bind the member they name; a member
// blocked by their own rule is not free even when the rest of the pool is.
type memberDay struct {
	staffID string
	blocked []availability.Window
	cands   []time.Time
}

func (e *Engine) resolveMembers(day time.Time, pool []string, serviceID string, rules []model.AvailabilityRule, step, duration time.Duration) []memberDay {
	members := make([]memberDay, 0, len(pool))
	for _, id := range pool {
		res := availability.ResolveDay(day, id, serviceID, rules, e.logger)
		cands := availability.Candidates(res.Open, step, duration)
		if len(cands) == 0 {
			continue
		}
		members = append(members, memberDay{staffID: id, blocked: res.Blocked, cands: cands})
	}
	return members
}

// CreateAppointment commits a customer's slot choice. It re-runs the full
// availability pipeline against fresh reads (the slot list the customer saw
// may be stale), resolves "any staff" to a concrete free staff member, and
// inserts under the storage exclusion constraint. A constraint violation at
// write time means a concurrent request won the slot: the caller gets
// KindSlotUnavailable and must pick another time.
func (e *Engine) CreateAppointment(ctx context.Context, req CreateRequest) (model.Appointment, error) {
	if req.SiteID == "" || req.ServiceID == "" || req.CustomerName == "" {
		return model.Appointment{}, newError(KindInvalidRequest, "site_id, service_id and customer_name are required")
	}
	if req.StartTime.IsZero() {
		return model.Appointment{}, newError(KindInvalidRequest, "start_time is required")
	}

	st, err := e.store.SiteSettings(ctx, req.SiteID)
	if err != nil {
		return model.Appointment{}, wrapError(KindStorageFailure, "failed to load site settings", err)
	}
	loc := st.Location()
	now := e.now()

	if req.StartTime.Before(now) {
		return model.Appointment{}, newError(KindInvalidRequest, "start_time is in the past")
	}

	svc, pool, err := e.resolveParticipants(ctx, req.SiteID, req.ServiceID, req.StaffID)
	if err != nil {
		return model.Appointment{}, err
	}
	if len(pool) == 0 {
		return model.Appointment{}, newError(KindSlotUnavailable, "no staff can take this service")
	}

	cfg := availability.FilterConfig{
		Duration:     svc.Duration(),
		BufferBefore: svc.BufferBefore(),
		BufferAfter:  svc.BufferAfter(),
		MinNotice:    st.MinNotice(),
		MaxAdvance:   st.MaxAdvanceDays,
		Now:          now,
		Loc:          loc,
	}
	if !cfg.AllowedByNotice(req.StartTime) {
		return model.Appointment{}, newError(KindPolicyViolation, "start_time is inside the minimum booking notice")
	}
	if !cfg.AllowedByAdvance(req.StartTime) {
		return model.Appointment{}, newError(KindPolicyViolation, "start_time is beyond the maximum booking advance")
	}

	rules, err := e.store.ListRules(ctx, req.SiteID)
	if err != nil {
		return model.Appointment{}, wrapError(KindStorageFailure, "failed to load availability rules", err)
	}

	startLocal := req.StartTime.In(loc)
	y, m, d := startLocal.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)

	members := e.resolveMembers(day, pool, req.ServiceID, rules, st.SlotInterval(), svc.Duration())

	buffered := cfg.Buffered(req.StartTime)
	busy, err := e.loadBusy(ctx, req.SiteID, pool, buffered.Start, buffered.End)
	if err != nil {
		return model.Appointment{}, err
	}

	// Assignment takes the first member, in pool order, whose own windows
	// admit the instant and whose busy windows are clear.
	onGrid := false
	var assignedStaff string
	for _, m := range members {
		if !containsInstant(m.cands, req.StartTime) {
			continue
		}
		onGrid = true
		if len(availability.FreeStaff(req.StartTime, []string{m.staffID}, busy, cfg)) > 0 {
			assignedStaff = m.staffID
			break
		}
	}
	if !onGrid {
		return model.Appointment{}, newError(KindSlotUnavailable, "requested time is not an open slot")
	}
	if assignedStaff == "" {
		return model.Appointment{}, newError(KindSlotUnavailable, "slot is no longer available")
	}

	status := model.StatusPending
	if st.AutoConfirm && !svc.RequireConfirmation {
		status = model.StatusConfirmed
	}

	appt := model.Appointment{
		ID:            uuid.NewString(),
		SiteID:        req.SiteID,
		ServiceID:     req.ServiceID,
		StaffID:       assignedStaff,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		StartTime:     req.StartTime.UTC(),
		EndTime:       req.StartTime.Add(svc.Duration()).UTC(),
		BufferedStart: buffered.Start.UTC(),
		BufferedEnd:   buffered.End.UTC(),
		Status:        status,
		CreatedAt:     now.UTC(),
	}

	id, replayed, err := e.store.CreateAppointment(ctx, &appt, bookedEvent(appt), req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return model.Appointment{}, wrapError(KindSlotUnavailable, "slot was just taken", err)
		}
		return model.Appointment{}, wrapError(KindStorageFailure, "failed to create appointment", err)
	}
	if replayed {
		existing, err := e.store.GetAppointment(ctx, req.SiteID, id)
		if err != nil {
			return model.Appointment{}, wrapError(KindStorageFailure, "failed to load replayed appointment", err)
		}
		return existing, nil
	}
	appt.ID = id
	return appt, nil
}

// CancelAppointment soft-cancels. Cancelling an already-cancelled appointment
// succeeds without effect; completed/no_show appointments cannot be cancelled.
func (e *Engine) CancelAppointment(ctx context.Context, siteID, appointmentID, reason string) (model.Appointment, error) {
	if siteID == "" || appointmentID == "" {
		return model.Appointment{}, newError(KindInvalidRequest, "site_id and appointment_id are required")
	}
	appt, err := e.store.CancelAppointment(ctx, siteID, appointmentID, reason, cancelledEvent(reason))
	if err != nil {
		return model.Appointment{}, mapStatusErr(err, "cancel")
	}
	return appt, nil
}

// UpdateAppointmentStatus applies an operator transition (confirm, complete,
// no_show). Cancellation goes through CancelAppointment so the reason and
// cancelled_at are recorded.
func (e *Engine) UpdateAppointmentStatus(ctx context.Context, siteID, appointmentID, status string) (model.Appointment, error) {
	if siteID == "" || appointmentID == "" {
		return model.Appointment{}, newError(KindInvalidRequest, "site_id and appointment_id are required")
	}
	if !model.ValidStatus(status) || status == model.StatusCancelled || status == model.StatusPending {
		return model.Appointment{}, newError(KindInvalidRequest, "unsupported target status")
	}
	appt, err := e.store.UpdateAppointmentStatus(ctx, siteID, appointmentID, status, statusChangedEvent(status))
	if err != nil {
		return model.Appointment{}, mapStatusErr(err, "update status of")
	}
	return appt, nil
}

func (e *Engine) ListAppointments(ctx context.Context, siteID string, limit int) ([]model.Appointment, error) {
	if siteID == "" {
		return nil, newError(KindInvalidRequest, "site_id is required")
	}
	appts, err := e.store.ListAppointments(ctx, siteID, limit)
	if err != nil {
		return nil, wrapError(KindStorageFailure, "failed to list appointments", err)
	}
	return appts, nil
}

// resolveParticipants loads the service and computes the staff pool: the
// single requested staff member when one was named, otherwise every active
// staff member assigned to the service who accepts online bookings.
func (e *Engine) resolveParticipants(ctx context.Context, siteID, serviceID, staffID string) (model.Service, []string, error) {
	svc, err := e.store.GetService(ctx, siteID, serviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Service{}, nil, newError(KindInvalidRequest, "unknown service")
		}
		return model.Service{}, nil, wrapError(KindStorageFailure, "failed to load service", err)
	}
	if !svc.Active {
		return model.Service{}, nil, newError(KindPolicyViolation, "service is not active")
	}
	if !svc.AllowOnline {
		return model.Service{}, nil, newError(KindPolicyViolation, "service does not allow online booking")
	}

	if staffID != "" {
		stf, err := e.store.GetStaff(ctx, siteID, staffID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return model.Service{}, nil, newError(KindInvalidRequest, "unknown staff")
			}
			return model.Service{}, nil, wrapError(KindStorageFailure, "failed to load staff", err)
		}
		if !stf.Active || !stf.AcceptsBookings {
			return model.Service{}, nil, newError(KindPolicyViolation, "staff member is not accepting bookings")
		}
		return svc, []string{staffID}, nil
	}

	staff, err := e.store.ListServiceStaff(ctx, siteID, serviceID)
	if err != nil {
		return model.Service{}, nil, wrapError(KindStorageFailure, "failed to load service staff", err)
	}
	var pool []string
	for _, s := range staff {
		if s.Active && s.AcceptsBookings {
			pool = append(pool, s.ID)
		}
	}
	return svc, pool, nil
}

func (e *Engine) loadBusy(ctx context.Context, siteID string, pool []string, from, to time.Time) ([]availability.Busy, error) {
	appts, err := e.store.ListActiveAppointments(ctx, siteID, pool, from, to)
	if err != nil {
		return nil, wrapError(KindStorageFailure, "failed to load existing appointments", err)
	}
	busy := make([]availability.Busy, 0, len(appts))
	for _, a := range appts {
		busy = append(busy, availability.Busy{
			StaffID: a.StaffID,
			Window:  availability.Window{Start: a.BufferedStart, End: a.BufferedEnd},
		})
	}
	return busy, nil
}

func containsInstant(cands []time.Time, t time.Time) bool {
	for _, c := range cands {
		if c.Equal(t) {
			return true
		}
	}
	return false
}

func mapStatusErr(err error, verb string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return wrapError(KindNotFound, "appointment not found", err)
	case errors.Is(err, ErrBadTransition):
		return wrapError(KindPolicyViolation, "cannot "+verb+" this appointment", err)
	default:
		return wrapError(KindStorageFailure, "failed to "+verb+" appointment", err)
	}
}

func bookedEvent(appt model.Appointment) outbox.Event {
	payload, _ := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"site_id":        appt.SiteID,
		"service_id":     appt.ServiceID,
		"staff_id":       appt.StaffID,
		"customer_name":  appt.CustomerName,
		"customer_email": appt.CustomerEmail,
		"customer_phone": appt.CustomerPhone,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"status":         appt.Status,
	})
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentBooked,
		Payload:       payload,
	}
}

func cancelledEvent(reason string) func(model.Appointment) outbox.Event {
	return func(appt model.Appointment) outbox.Event {
		payload, _ := json.Marshal(map[string]any{
			"appointment_id": appt.ID,
			"site_id":        appt.SiteID,
			"service_id":     appt.ServiceID,
			"staff_id":       appt.StaffID,
			"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
			"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
			"reason":         reason,
		})
		return outbox.Event{
			AggregateType: "appointment",
			AggregateID:   appt.ID,
			EventType:     outbox.EventAppointmentCancelled,
			Payload:       payload,
		}
	}
}

func statusChangedEvent(status string) func(model.Appointment) outbox.Event {
	return func(appt model.Appointment) outbox.Event {
		payload, _ := json.Marshal(map[string]any{
			"appointment_id": appt.ID,
			"site_id":        appt.SiteID,
			"status":         status,
		})
		return outbox.Event{
			AggregateType: "appointment",
			AggregateID:   appt.ID,
			EventType:     outbox.EventAppointmentStatusChanged,
			Payload:       payload,
		}
	}
}
