// Package storage implements the engine's Store over Postgres. The
// appointments table must carry the exclusion constraint
//
//	EXCLUDE USING gist (staff_id WITH =, tstzrange(buffered_start, buffered_end) WITH &&)
//	WHERE (status <> 'cancelled')
//
// which is the single load-bearing guarantee against double-booking: of two
// concurrent inserts with overlapping buffered windows for the same staff,
// exactly one commits and the other sees SQLSTATE 23P01.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dramac-main/dramac-booking/libs/db"
	"github.com/dramac-main/dramac-booking/services/booking-service/internal/booking"
	"github.com/dramac-main/dramac-booking/services/booking-service/internal/model"
	"github.com/dramac-main/dramac-booking/services/booking-service/internal/outbox"
	"github.com/dramac-main/dramac-booking/services/booking-service/internal/settings"
)

// writeTimeout bounds the booking write path. A timed-out transaction is
// rolled back by Postgres; no partial appointment ever becomes visible.
const writeTimeout = 5 * time.Second

type Repository struct {
	pool          *db.Pool
	outboxRepo    *outbox.Repository
	settingsCache *settings.Cache
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository, settingsCache *settings.Cache) *Repository {
	return &Repository{pool: pool, outboxRepo: outboxRepo, settingsCache: settingsCache}
}

var _ booking.Store = (*Repository)(nil)

func (r *Repository) SiteSettings(ctx context.Context, siteID string) (model.SiteSettings, error) {
	if st, ok := r.settingsCache.Get(ctx, siteID); ok {
		return st, nil
	}

	st := model.SiteSettings{
		SiteID:           siteID,
		Timezone:         "UTC",
		SlotIntervalMins: 30,
	}
	err := r.pool.QueryRow(ctx, `
		SELECT timezone, slot_interval_minutes, min_booking_notice_hours, max_booking_advance_days, auto_confirm
		FROM site_settings
		WHERE site_id = $1
	`, siteID).Scan(&st.Timezone, &st.SlotIntervalMins, &st.MinNoticeHours, &st.MaxAdvanceDays, &st.AutoConfirm)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return model.SiteSettings{}, err
	}

	r.settingsCache.Put(ctx, st)
	return st, nil
}

// InvalidateSettings drops the cached settings for a site; the consumer calls
// it when a settings-updated event arrives.
func (r *Repository) InvalidateSettings(ctx context.Context, siteID string) error {
	return r.settingsCache.Invalidate(ctx, siteID)
}

func (r *Repository) GetService(ctx context.Context, siteID, serviceID string) (model.Service, error) {
	var s model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, site_id::text, name, duration_minutes, buffer_before_minutes, buffer_after_minutes,
			allow_online, require_confirmation, is_active
		FROM services
		WHERE site_id = $1 AND id = $2
	`, siteID, serviceID).Scan(&s.ID, &s.SiteID, &s.Name, &s.DurationMins, &s.BufferBeforeMins,
		&s.BufferAfterMins, &s.AllowOnline, &s.RequireConfirmation, &s.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, booking.ErrNotFound
	}
	if err != nil {
		return model.Service{}, err
	}
	return s, nil
}

func (r *Repository) GetStaff(ctx context.Context, siteID, staffID string) (model.Staff, error) {
	var s model.Staff
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, site_id::text, name, is_active, accepts_bookings, COALESCE(timezone, '')
		FROM staff
		WHERE site_id = $1 AND id = $2
	`, siteID, staffID).Scan(&s.ID, &s.SiteID, &s.Name, &s.Active, &s.AcceptsBookings, &s.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Staff{}, booking.ErrNotFound
	}
	if err != nil {
		return model.Staff{}, err
	}
	return s, nil
}

func (r *Repository) ListServiceStaff(ctx context.Context, siteID, serviceID string) ([]model.Staff, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id::text, s.site_id::text, s.name, s.is_active, s.accepts_bookings, COALESCE(s.timezone, '')
		FROM staff s
		JOIN service_staff a ON a.staff_id = s.id
		WHERE s.site_id = $1 AND a.service_id = $2
		ORDER BY s.id
	`, siteID, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Staff
	for rows.Next() {
		var s model.Staff
		if err := rows.Scan(&s.ID, &s.SiteID, &s.Name, &s.Active, &s.AcceptsBookings, &s.Timezone); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) ListRules(ctx context.Context, siteID string) ([]model.AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, site_id::text, COALESCE(staff_id::text, ''), COALESCE(service_id::text, ''),
			kind, weekday, rule_date, start_minute, end_minute, valid_from, valid_until, priority, COALESCE(label, '')
		FROM availability_rules
		WHERE site_id = $1
		ORDER BY priority DESC, start_minute ASC
	`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityRule
	for rows.Next() {
		var rule model.AvailabilityRule
		var weekday *int
		if err := rows.Scan(&rule.ID, &rule.SiteID, &rule.StaffID, &rule.ServiceID, &rule.Kind,
			&weekday, &rule.Date, &rule.StartMinute, &rule.EndMinute,
			&rule.ValidFrom, &rule.ValidUntil, &rule.Priority, &rule.Label); err != nil {
			return nil, err
		}
		if weekday != nil {
			wd := time.Weekday(*weekday)
			rule.Weekday = &wd
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *Repository) ListActiveAppointments(ctx context.Context, siteID string, staffIDs []string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE site_id = $1
			AND staff_id = ANY($2)
			AND status <> 'cancelled'
			AND buffered_start < $4
			AND buffered_end > $3
		ORDER BY start_time ASC
	`, siteID, staffIDs, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *Repository) CreateAppointment(ctx context.Context, appt *model.Appointment, evt outbox.Event, idempotencyKey string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if idempotencyKey != "" {
		existingID, err := r.lockIdempotencyKey(ctx, tx, appt.SiteID, idempotencyKey)
		if err != nil {
			return "", false, err
		}
		if existingID != "" {
			return existingID, true, tx.Commit(ctx)
		}
	}

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, site_id, service_id, staff_id, customer_name, customer_email, customer_phone,
			start_time, end_time, buffered_start, buffered_end, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id::text
	`, appt.ID, appt.SiteID, appt.ServiceID, appt.StaffID, appt.CustomerName, appt.CustomerEmail,
		appt.CustomerPhone, appt.StartTime, appt.EndTime, appt.BufferedStart, appt.BufferedEnd,
		appt.Status, appt.CreatedAt).Scan(&id)
	if err != nil {
		if isExclusionViolation(err) {
			return "", false, booking.ErrConflict
		}
		return "", false, err
	}

	if err := r.outboxRepo.Insert(ctx, tx, evt); err != nil {
		return "", false, err
	}

	if idempotencyKey != "" {
		if _, err := tx.Exec(ctx, `
			UPDATE booking_idempotency_keys
			SET appointment_id = $3
			WHERE site_id = $1 AND idempotency_key = $2
		`, appt.SiteID, idempotencyKey, id); err != nil {
			return "", false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, err
	}
	return id, false, nil
}

func (r *Repository) GetAppointment(ctx context.Context, siteID, appointmentID string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE site_id = $1 AND id = $2
	`, siteID, appointmentID)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, booking.ErrNotFound
	}
	return appt, err
}

func (r *Repository) CancelAppointment(ctx context.Context, siteID, appointmentID, reason string, evt func(model.Appointment) outbox.Event) (model.Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := r.getForUpdate(ctx, tx, siteID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}

	// Cancelling twice is a no-op, not an error.
	if appt.Status == model.StatusCancelled {
		return appt, tx.Commit(ctx)
	}
	if !model.CanTransition(appt.Status, model.StatusCancelled) {
		return model.Appointment{}, booking.ErrBadTransition
	}

	var cancelledAt time.Time
	err = tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $3
		WHERE site_id = $1 AND id = $2
		RETURNING cancelled_at
	`, siteID, appointmentID, reason).Scan(&cancelledAt)
	if err != nil {
		return model.Appointment{}, err
	}

	appt.Status = model.StatusCancelled
	appt.CancelledAt = &cancelledAt
	appt.CancelReason = reason

	if err := r.outboxRepo.Insert(ctx, tx, evt(appt)); err != nil {
		return model.Appointment{}, err
	}
	return appt, tx.Commit(ctx)
}

func (r *Repository) UpdateAppointmentStatus(ctx context.Context, siteID, appointmentID, status string, evt func(model.Appointment) outbox.Event) (model.Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := r.getForUpdate(ctx, tx, siteID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == status {
		return appt, tx.Commit(ctx)
	}
	if !model.CanTransition(appt.Status, status) {
		return model.Appointment{}, booking.ErrBadTransition
	}

	if _, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3
		WHERE site_id = $1 AND id = $2
	`, siteID, appointmentID, status); err != nil {
		return model.Appointment{}, err
	}

	appt.Status = status
	if err := r.outboxRepo.Insert(ctx, tx, evt(appt)); err != nil {
		return model.Appointment{}, err
	}
	return appt, tx.Commit(ctx)
}

func (r *Repository) ListAppointments(ctx context.Context, siteID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE site_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *Repository) getForUpdate(ctx context.Context, tx pgx.Tx, siteID, appointmentID string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE site_id = $1 AND id = $2
		FOR UPDATE
	`, siteID, appointmentID)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, booking.ErrNotFound
	}
	return appt, err
}

func (r *Repository) lockIdempotencyKey(ctx context.Context, tx pgx.Tx, siteID, key string) (string, error) {
	var apptID string
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(appointment_id::text, '')
		FROM booking_idempotency_keys
		WHERE site_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, siteID, key).Scan(&apptID)
	if err == nil {
		return apptID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (site_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (site_id, idempotency_key) DO NOTHING
	`, siteID, key); err != nil {
		return "", err
	}

	err = tx.QueryRow(ctx, `
		SELECT COALESCE(appointment_id::text, '')
		FROM booking_idempotency_keys
		WHERE site_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, siteID, key).Scan(&apptID)
	return apptID, err
}

const appointmentColumns = `id::text, site_id::text, service_id::text, staff_id::text,
	customer_name, customer_email, customer_phone,
	start_time, end_time, buffered_start, buffered_end,
	status, cancelled_at, COALESCE(cancellation_reason, ''), created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var cancelledAt *time.Time
	err := row.Scan(
		&a.ID,
		&a.SiteID,
		&a.ServiceID,
		&a.StaffID,
		&a.CustomerName,
		&a.CustomerEmail,
		&a.CustomerPhone,
		&a.StartTime,
		&a.EndTime,
		&a.BufferedStart,
		&a.BufferedEnd,
		&a.Status,
		&cancelledAt,
		&a.CancelReason,
		&a.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.CancelledAt = cancelledAt
	return a, nil
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}
