package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dramac-main/dramac-booking/services/booking-service/internal/model"
	"github.com/dramac-main/dramac-booking/services/booking-service/internal/outbox"
)

// fakeStore serves fixtures from memory and lets tests script the create path
// (forced conflicts, idempotent replays).
type fakeStore struct {
	settings     model.SiteSettings
	services     map[string]model.Service
	staff        map[string]model.Staff
	serviceStaff []model.Staff
	rules        []model.AvailabilityRule
	appointments map[string]model.Appointment

	createErr      error
	createAfter    int // fail with createErr after this many successful creates
	hideActive     bool
	replayID       string
	created        []model.Appointment
	createdEvents  []outbox.Event
	cancelEvents   []outbox.Event
	statusEvents   []outbox.Event
	listActiveFrom time.Time
	listActiveTo   time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings:     model.SiteSettings{SiteID: "site-1", Timezone: "UTC", SlotIntervalMins: 30},
		services:     map[string]model.Service{},
		staff:        map[string]model.Staff{},
		appointments: map[string]model.Appointment{},
	}
}

func (f *fakeStore) SiteSettings(ctx context.Context, siteID string) (model.SiteSettings, error) {
	return f.settings, nil
}

func (f *fakeStore) GetService(ctx context.Context, siteID, serviceID string) (model.Service, error) {
	svc, ok := f.services[serviceID]
	if !ok {
		return model.Service{}, ErrNotFound
	}
	return svc, nil
}

func (f *fakeStore) GetStaff(ctx context.Context, siteID, staffID string) (model.Staff, error) {
	s, ok := f.staff[staffID]
	if !ok {
		return model.Staff{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) ListServiceStaff(ctx context.Context, siteID, serviceID string) ([]model.Staff, error) {
	return f.serviceStaff, nil
}

func (f *fakeStore) ListRules(ctx context.Context, siteID string) ([]model.AvailabilityRule, error) {
	return f.rules, nil
}

func (f *fakeStore) ListActiveAppointments(ctx context.Context, siteID string, staffIDs []string, from, to time.Time) ([]model.Appointment, error) {
	f.listActiveFrom, f.listActiveTo = from, to
	if f.hideActive {
		return nil, nil
	}
	ids := make(map[string]bool, len(staffIDs))
	for _, id := range staffIDs {
		ids[id] = true
	}
	var out []model.Appointment
	for _, a := range f.appointments {
		if !a.Active() || !ids[a.StaffID] {
			continue
		}
		if a.BufferedStart.Before(to) && from.Before(a.BufferedEnd) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateAppointment(ctx context.Context, appt *model.Appointment, evt outbox.Event, idempotencyKey string) (string, bool, error) {
	if f.replayID != "" {
		return f.replayID, true, nil
	}
	if f.createErr != nil && len(f.created) >= f.createAfter {
		return "", false, f.createErr
	}
	f.created = append(f.created, *appt)
	f.createdEvents = append(f.createdEvents, evt)
	f.appointments[appt.ID] = *appt
	return appt.ID, false, nil
}

func (f *fakeStore) GetAppointment(ctx context.Context, siteID, appointmentID string) (model.Appointment, error) {
	a, ok := f.appointments[appointmentID]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) CancelAppointment(ctx context.Context, siteID, appointmentID, reason string, evt func(model.Appointment) outbox.Event) (model.Appointment, error) {
	a, ok := f.appointments[appointmentID]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	if a.Status == model.StatusCancelled {
		return a, nil
	}
	if !model.CanTransition(a.Status, model.StatusCancelled) {
		return model.Appointment{}, ErrBadTransition
	}
	now := time.Now().UTC()
	a.Status = model.StatusCancelled
	a.CancelledAt = &now
	a.CancelReason = reason
	f.appointments[appointmentID] = a
	f.cancelEvents = append(f.cancelEvents, evt(a))
	return a, nil
}

func (f *fakeStore) UpdateAppointmentStatus(ctx context.Context, siteID, appointmentID, status string, evt func(model.Appointment) outbox.Event) (model.Appointment, error) {
	a, ok := f.appointments[appointmentID]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	if !model.CanTransition(a.Status, status) {
		return model.Appointment{}, ErrBadTransition
	}
	a.Status = status
	f.appointments[appointmentID] = a
	f.statusEvents = append(f.statusEvents, evt(a))
	return a, nil
}

func (f *fakeStore) ListAppointments(ctx context.Context, siteID string, limit int) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appointments {
		out = append(out, a)
	}
	return out, nil
}

// Tuesday, 2026-03-03. The pinned "now" is midnight so notice checks stay out
// of the way unless a test opts in.
var tuesday = time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

func testEngine(t *testing.T, store *fakeStore) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(store, logger).WithClock(func() time.Time { return tuesday })
}

func seedCatalog(store *fakeStore) {
	store.services["svc-1"] = model.Service{
		ID: "svc-1", SiteID: "site-1", Name: "Consultation",
		DurationMins: 60, AllowOnline: true, Active: true,
	}
	store.staff["staff-1"] = model.Staff{ID: "staff-1", SiteID: "site-1", Active: true, AcceptsBookings: true}
	store.staff["staff-2"] = model.Staff{ID: "staff-2", SiteID: "site-1", Active: true, AcceptsBookings: true}
	store.serviceStaff = []model.Staff{store.staff["staff-1"], store.staff["staff-2"]}
}

func TestAvailableSlots_FallbackDay(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	eng := testEngine(t, store)

	slots, err := eng.AvailableSlots(context.Background(), "site-1", "2026-03-03", "svc-1", "staff-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 09:00-17:00 fallback, 60-minute service on a 30-minute grid: 09:00
	// through 16:00 inclusive.
	if len(slots) != 15 {
		t.Fatalf("got %d slots, want 15", len(slots))
	}
	if !slots[0].StartTime.Equal(tuesday.Add(9 * time.Hour)) {
		t.Fatalf("first slot %v, want 09:00", slots[0].StartTime)
	}
	if !slots[14].StartTime.Equal(tuesday.Add(16 * time.Hour)) {
		t.Fatalf("last slot %v, want 16:00", slots[14].StartTime)
	}
	if !slots[0].EndTime.Equal(slots[0].StartTime.Add(time.Hour)) {
		t.Fatalf("slot end %v does not reflect service duration", slots[0].EndTime)
	}
}

func TestAvailableSlots_IsReadOnly(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	eng := testEngine(t, store)

	for i := 0; i < 2; i++ {
		slots, err := eng.AvailableSlots(context.Background(), "site-1", "2026-03-03", "svc-1", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(slots) == 0 {
			t.Fatal("expected slots")
		}
	}
	if len(store.created) != 0 || len(store.appointments) != 0 {
		t.Fatal("slot listing must not write")
	}
}

func TestAvailableSlots_ExistingBookingHidesSlotForNamedStaff(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	store.appointments["appt-1"] = model.Appointment{
		ID: "appt-1", SiteID: "site-1", StaffID: "staff-1",
		StartTime:     tuesday.Add(10 * time.Hour),
		EndTime:       tuesday.Add(11 * time.Hour),
		BufferedStart: tuesday.Add(10 * time.Hour),
		BufferedEnd:   tuesday.Add(11 * time.Hour),
		Status:        model.StatusConfirmed,
	}
	eng := testEngine(t, store)

	slots, err := eng.AvailableSlots(context.Background(), "site-1", "2026-03-03", "svc-1", "staff-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range slots {
		if s.StartTime.Before(tuesday.Add(11*time.Hour)) && tuesday.Add(10*time.Hour).Before(s.EndTime) {
			t.Fatalf("slot %v overlaps the existing booking", s.StartTime)
		}
	}
}

func TestAvailableSlots_PoolStaysOpenWhileAnyStaffFree(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	store.appointments["appt-1"] = model.Appointment{
		ID: "appt-1", SiteID: "site-1", StaffID: "staff-1",
		StartTime:     tuesday.Add(10 * time.Hour),
		EndTime:       tuesday.Add(11 * time.Hour),
		BufferedStart: tuesday.Add(10 * time.Hour),
		BufferedEnd:   tuesday.Add(11 * time.Hour),
		Status:        model.StatusConfirmed,
	}
	eng := testEngine(t, store)

	slots, err := eng.AvailableSlots(context.Background(), "site-1", "2026-03-03", "svc-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, s := range slots {
		if s.StartTime.Equal(tuesday.Add(10 * time.Hour)) {
			found = true
			if s.StaffID != "" {
				t.Fatalf("pool-mode slot must not name a staff member, got %q", s.StaffID)
			}
		}
	}
	if !found {
		t.Fatal("10:00 must stay open while staff-2 is free")
	}
}

func TestAvailableSlots_CancelledBookingFreesSlot(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	cancelled := tuesday
	store.appointments["appt-1"] = model.Appointment{
		ID: "appt-1", SiteID: "site-1", StaffID: "staff-1",
		BufferedStart: tuesday.Add(10 * time.Hour),
		BufferedEnd:   tuesday.Add(11 * time.Hour),
		Status:        model.StatusCancelled,
		CancelledAt:   &cancelled,
	}
	eng := testEngine(t, store)

	slots, err := eng.AvailableSlots(context.Background(), "site-1", "2026-03-03", "svc-1", "staff-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, s := range slots {
		if s.StartTime.Equal(tuesday.Add(10 * time.Hour)) {
			found = true
		}
	}
	if !found {
		t.Fatal("cancelled appointment must not block 10:00")
	}
}

func TestAvailableSlots_BadDate(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	eng := testEngine(t, store)

	_, err := eng.AvailableSlots(context.Background(), "site-1", "03/03/2026", "svc-1", "")
	if KindOf(err) != KindInvalidRequest {
		t.Fatalf("got %v, want invalid_request", err)
	}
}

func TestAvailableSlots_NoQualifyingStaffIsEmptyNotError(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	store.serviceStaff = nil
	eng := testEngine(t, store)

	slots, err := eng.AvailableSlots(context.Background(), "site-1", "2026-03-03", "svc-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %v", slots)
	}
}

func createReq() CreateRequest {
	return CreateRequest{
		SiteID:       "site-1",
		ServiceID:    "svc-1",
		StaffID:      "staff-1",
		CustomerName: "Ada Lovelace",
		StartTime:    tuesday.Add(10 * time.Hour),
	}
}

func TestCreateAppointment_Succeeds(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	eng := testEngine(t, store)

	appt, err := eng.CreateAppointment(context.Background(), createReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.ID == "" {
		t.Fatal("appointment must get an id")
	}
	if appt.Status != model.StatusPending {
		t.Fatalf("status %q, want pending without auto-confirm", appt.Status)
	}
	if !appt.EndTime.Equal(appt.StartTime.Add(time.Hour)) {
		t.Fatalf("end time %v does not snapshot the duration", appt.EndTime)
	}
	if len(store.createdEvents) != 1 || store.createdEvents[0].EventType != outbox.EventAppointmentBooked {
		t.Fatalf("expected one booked event, got %v", store.createdEvents)
	}
}

func TestCreateAppointment_BufferedWindowSnapshot(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	svc := store.services["svc-1"]
	svc.BufferBeforeMins = 10
	svc.BufferAfterMins = 15
	store.services["svc-1"] = svc
	eng := testEngine(t, store)

	appt, err := eng.CreateAppointment(context.Background(), createReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !appt.BufferedStart.Equal(appt.StartTime.Add(-10 * time.Minute)) {
		t.Fatalf("buffered start %v, want start - 10m", appt.BufferedStart)
	}
	if !appt.BufferedEnd.Equal(appt.EndTime.Add(15 * time.Minute)) {
		t.Fatalf("buffered end %v, want end + 15m", appt.BufferedEnd)
	}
}

func TestCreateAppointment_AutoConfirmMatrix(t *testing.T) {
	cases := []struct {
		name        string
		autoConfirm bool
		requireConf bool
		want        string
	}{
		{"auto-confirm on", true, false, model.StatusConfirmed},
		{"auto-confirm off", false, false, model.StatusPending},
		{"service requires confirmation", true, true, model.StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			seedCatalog(store)
			store.settings.AutoConfirm = tc.autoConfirm
			svc := store.services["svc-1"]
			svc.RequireConfirmation = tc.requireConf
			store.services["svc-1"] = svc
			eng := testEngine(t, store)

			appt, err := eng.CreateAppointment(context.Background(), createReq())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if appt.Status != tc.want {
				t.Fatalf("status %q, want %q", appt.Status, tc.want)
			}
		})
	}
}

func TestCreateAppointment_ConflictAtWriteTime(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	store.createErr = ErrConflict
	eng := testEngine(t, store)

	_, err := eng.CreateAppointment(context.Background(), createReq())
	if KindOf(err) != KindSlotUnavailable {
		t.Fatalf("got %v, want slot_unavailable", err)
	}
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("conflict cause must stay wrapped, got %v", err)
	}
}

func TestCreateAppointment_ConcurrentRaceOneWinner(t *testing.T) {
	// Two requests for the same staff and slot, both validated against the
	// same stale reads. The fake admits the first insert and rejects the
	// second the way the storage exclusion constraint would.
	store := newFakeStore()
	seedCatalog(store)
	store.createErr = ErrConflict
	store.createAfter = 1
	store.hideActive = true
	eng := testEngine(t, store)

	if _, err := eng.CreateAppointment(context.Background(), createReq()); err != nil {
		t.Fatalf("first booking must win: %v", err)
	}
	_, err := eng.CreateAppointment(context.Background(), createReq())
	if KindOf(err) != KindSlotUnavailable {
		t.Fatalf("second booking must lose with slot_unavailable, got %v", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("exactly one row must land, got %d", len(store.created))
	}
}

func TestCreateAppointment_PoolReValidationCatchesBusySlot(t *testing.T) {
	// Both pool members already hold the window: re-validation rejects before
	// the insert is even attempted.
	store := newFakeStore()
	seedCatalog(store)
	for _, staffID := range []string{"staff-1", "staff-2"} {
		id := "appt-" + staffID
		store.appointments[id] = model.Appointment{
			ID: id, SiteID: "site-1", StaffID: staffID,
			BufferedStart: tuesday.Add(10 * time.Hour),
			BufferedEnd:   tuesday.Add(11 * time.Hour),
			Status:        model.StatusConfirmed,
		}
	}
	eng := testEngine(t, store)

	req := createReq()
	req.StaffID = ""
	_, err := eng.CreateAppointment(context.Background(), req)
	if KindOf(err) != KindSlotUnavailable {
		t.Fatalf("got %v, want slot_unavailable", err)
	}
	if len(store.created) != 0 {
		t.Fatal("no insert must be attempted")
	}
}

func TestCreateAppointment_PoolAssignsFirstFreeStaff(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	store.appointments["appt-1"] = model.Appointment{
		ID: "appt-1", SiteID: "site-1", StaffID: "staff-1",
		BufferedStart: tuesday.Add(10 * time.Hour),
		BufferedEnd:   tuesday.Add(11 * time.Hour),
		Status:        model.StatusConfirmed,
	}
	eng := testEngine(t, store)

	req := createReq()
	req.StaffID = ""
	appt, err := eng.CreateAppointment(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.StaffID != "staff-2" {
		t.Fatalf("assigned %q, want the free staff-2", appt.StaffID)
	}
}

func staffBlockedAllDay(staffID string) model.AvailabilityRule {
	wd := time.Tuesday
	return model.AvailabilityRule{
		ID:          "blocked-" + staffID,
		SiteID:      "site-1",
		StaffID:     staffID,
		Kind:        model.RuleBlocked,
		Weekday:     &wd,
		StartMinute: 0,
		EndMinute:   24 * 60,
	}
}

func TestCreateAppointment_PoolRespectsStaffBlockedRule(t *testing.T) {
	// Single-member pool, the member's own rule blocks the whole day. The
	// booking must be rejected, not assigned to them anyway.
	store := newFakeStore()
	seedCatalog(store)
	store.serviceStaff = []model.Staff{store.staff["staff-1"]}
	store.rules = []model.AvailabilityRule{staffBlockedAllDay("staff-1")}
	eng := testEngine(t, store)

	req := createReq()
	req.StaffID = ""
	_, err := eng.CreateAppointment(context.Background(), req)
	if KindOf(err) != KindSlotUnavailable {
		t.Fatalf("got %v, want slot_unavailable", err)
	}
	if len(store.created) != 0 {
		t.Fatal("booking must not land inside the member's blocked day")
	}
}

func TestCreateAppointment_PoolSkipsMemberBlockedByOwnRule(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	store.rules = []model.AvailabilityRule{staffBlockedAllDay("staff-1")}
	eng := testEngine(t, store)

	req := createReq()
	req.StaffID = ""
	appt, err := eng.CreateAppointment(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.StaffID != "staff-2" {
		t.Fatalf("assigned %q, want staff-2 while staff-1 is blocked", appt.StaffID)
	}
}

func TestAvailableSlots_PoolMemberBlockedRuleHidesTheirTime(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	store.serviceStaff = []model.Staff{store.staff["staff-1"]}
	store.rules = []model.AvailabilityRule{staffBlockedAllDay("staff-1")}
	eng := testEngine(t, store)

	slots, err := eng.AvailableSlots(context.Background(), "site-1", "2026-03-03", "svc-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("blocked member is the whole pool, want no slots, got %v", slots)
	}
}

func TestAvailableSlots_PoolSeesStaffScopedAvailability(t *testing.T) {
	// staff-1 works evenings by their own rule; staff-2 keeps the weekday
	// fallback. Pool availability is the union of both.
	wd := time.Tuesday
	store := newFakeStore()
	seedCatalog(store)
	store.rules = []model.AvailabilityRule{{
		ID:          "evening",
		SiteID:      "site-1",
		StaffID:     "staff-1",
		Kind:        model.RuleAvailable,
		Weekday:     &wd,
		StartMinute: 18 * 60,
		EndMinute:   20 * 60,
	}}
	eng := testEngine(t, store)

	slots, err := eng.AvailableSlots(context.Background(), "site-1", "2026-03-03", "svc-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 15 fallback starts (09:00-16:00) plus 18:00, 18:30, 19:00.
	if len(slots) != 18 {
		t.Fatalf("got %d slots, want 18: %v", len(slots), slots)
	}
	if !slots[0].StartTime.Equal(tuesday.Add(9 * time.Hour)) {
		t.Fatalf("first slot %v, want 09:00", slots[0].StartTime)
	}
	if !slots[17].StartTime.Equal(tuesday.Add(19 * time.Hour)) {
		t.Fatalf("last slot %v, want 19:00", slots[17].StartTime)
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i-1].StartTime.Before(slots[i].StartTime) {
			t.Fatalf("slots not strictly ascending at %d: %v", i, slots)
		}
	}
}

func TestCreateAppointment_IdempotencyReplay(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	store.appointments["existing-id"] = model.Appointment{
		ID: "existing-id", SiteID: "site-1", StaffID: "staff-1",
		Status: model.StatusConfirmed,
	}
	store.replayID = "existing-id"
	eng := testEngine(t, store)

	req := createReq()
	req.IdempotencyKey = "idem-1"
	appt, err := eng.CreateAppointment(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.ID != "existing-id" {
		t.Fatalf("replay must return the original appointment, got %q", appt.ID)
	}
	if len(store.created) != 0 {
		t.Fatal("replayed request must not insert")
	}
}

func TestCreateAppointment_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*fakeStore)
		req   func() CreateRequest
		want  Kind
	}{
		{
			"unknown service",
			func(s *fakeStore) {},
			func() CreateRequest { r := createReq(); r.ServiceID = "nope"; return r },
			KindInvalidRequest,
		},
		{
			"inactive service",
			func(s *fakeStore) {
				svc := s.services["svc-1"]
				svc.Active = false
				s.services["svc-1"] = svc
			},
			createReq,
			KindPolicyViolation,
		},
		{
			"service offline only",
			func(s *fakeStore) {
				svc := s.services["svc-1"]
				svc.AllowOnline = false
				s.services["svc-1"] = svc
			},
			createReq,
			KindPolicyViolation,
		},
		{
			"unknown staff",
			func(s *fakeStore) {},
			func() CreateRequest { r := createReq(); r.StaffID = "nope"; return r },
			KindInvalidRequest,
		},
		{
			"staff not accepting bookings",
			func(s *fakeStore) {
				st := s.staff["staff-1"]
				st.AcceptsBookings = false
				s.staff["staff-1"] = st
			},
			createReq,
			KindPolicyViolation,
		},
		{
			"start in the past",
			func(s *fakeStore) {},
			func() CreateRequest { r := createReq(); r.StartTime = tuesday.Add(-time.Hour); return r },
			KindInvalidRequest,
		},
		{
			"inside minimum notice",
			func(s *fakeStore) { s.settings.MinNoticeHours = 12 },
			createReq,
			KindPolicyViolation,
		},
		{
			"beyond maximum advance",
			func(s *fakeStore) { s.settings.MaxAdvanceDays = 7 },
			func() CreateRequest {
				r := createReq()
				r.StartTime = tuesday.AddDate(0, 0, 30).Add(10 * time.Hour)
				return r
			},
			KindPolicyViolation,
		},
		{
			"off the slot grid",
			func(s *fakeStore) {},
			func() CreateRequest {
				r := createReq()
				r.StartTime = tuesday.Add(10*time.Hour + 7*time.Minute)
				return r
			},
			KindSlotUnavailable,
		},
		{
			"outside open hours",
			func(s *fakeStore) {},
			func() CreateRequest { r := createReq(); r.StartTime = tuesday.Add(20 * time.Hour); return r },
			KindSlotUnavailable,
		},
		{
			"missing customer name",
			func(s *fakeStore) {},
			func() CreateRequest { r := createReq(); r.CustomerName = ""; return r },
			KindInvalidRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			seedCatalog(store)
			tc.setup(store)
			eng := testEngine(t, store)

			_, err := eng.CreateAppointment(context.Background(), tc.req())
			if KindOf(err) != tc.want {
				t.Fatalf("got %v (kind %q), want kind %q", err, KindOf(err), tc.want)
			}
			if len(store.created) != 0 {
				t.Fatal("rejected request must not insert")
			}
		})
	}
}

func TestCreateAppointment_NoticeBoundaryIsBookable(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	store.settings.MinNoticeHours = 10
	eng := testEngine(t, store)

	// now is midnight, so 10:00 is exactly now + notice.
	if _, err := eng.CreateAppointment(context.Background(), createReq()); err != nil {
		t.Fatalf("boundary slot must be bookable: %v", err)
	}
}

func TestCancelAppointment(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	eng := testEngine(t, store)

	appt, err := eng.CreateAppointment(context.Background(), createReq())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	got, err := eng.CancelAppointment(context.Background(), "site-1", appt.ID, "customer request")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != model.StatusCancelled || got.CancelledAt == nil || got.CancelReason != "customer request" {
		t.Fatalf("cancel not recorded: %+v", got)
	}
	if len(store.cancelEvents) != 1 || store.cancelEvents[0].EventType != outbox.EventAppointmentCancelled {
		t.Fatalf("expected one cancelled event, got %v", store.cancelEvents)
	}

	// Cancelling again succeeds without a second event.
	if _, err := eng.CancelAppointment(context.Background(), "site-1", appt.ID, "again"); err != nil {
		t.Fatalf("repeat cancel must be a no-op: %v", err)
	}
	if len(store.cancelEvents) != 1 {
		t.Fatalf("repeat cancel must not emit, got %d events", len(store.cancelEvents))
	}
}

func TestCancelAppointment_NotFound(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	eng := testEngine(t, store)

	_, err := eng.CancelAppointment(context.Background(), "site-1", "missing", "")
	if KindOf(err) != KindNotFound {
		t.Fatalf("got %v, want not_found", err)
	}
}

func TestCancelAppointment_CompletedIsTerminal(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	store.appointments["appt-1"] = model.Appointment{
		ID: "appt-1", SiteID: "site-1", StaffID: "staff-1",
		Status: model.StatusCompleted,
	}
	eng := testEngine(t, store)

	_, err := eng.CancelAppointment(context.Background(), "site-1", "appt-1", "")
	if KindOf(err) != KindPolicyViolation {
		t.Fatalf("got %v, want policy_violation", err)
	}
}

func TestUpdateAppointmentStatus(t *testing.T) {
	store := newFakeStore()
	seedCatalog(store)
	eng := testEngine(t, store)

	appt, err := eng.CreateAppointment(context.Background(), createReq())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	got, err := eng.UpdateAppointmentStatus(context.Background(), "site-1", appt.ID, model.StatusConfirmed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != model.StatusConfirmed {
		t.Fatalf("status %q, want confirmed", got.Status)
	}

	// Cancellation must go through CancelAppointment.
	_, err = eng.UpdateAppointmentStatus(context.Background(), "site-1", appt.ID, model.StatusCancelled)
	if KindOf(err) != KindInvalidRequest {
		t.Fatalf("got %v, want invalid_request", err)
	}

	// Confirmed -> pending is not a transition.
	_, err = eng.UpdateAppointmentStatus(context.Background(), "site-1", appt.ID, model.StatusPending)
	if KindOf(err) != KindInvalidRequest {
		t.Fatalf("got %v, want invalid_request", err)
	}
}
