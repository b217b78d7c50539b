package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// storageErr folds backend failures into the opaque storage-unavailable
// condition. Not-found sentinels are mapped before this is reached.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

// Scan helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(&d.ID, &d.Name, &specialty, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, storageErr("scan doctor", err)
	}

	d.Specialty = specialty
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(&p.ID, &p.Name, &email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, storageErr("scan patient", err)
	}

	p.Email = email
	return &p, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var expiresAt *time.Time

	err := row.Scan(
		&b.ID,
		&b.DoctorID,
		&b.PatientID,
		&b.Start,
		&b.End,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, storageErr("scan booking", err)
	}

	b.ExpiresAt = expiresAt
	return &b, nil
}

const bookingColumns = `id, doctor_id, patient_id, start_time, end_time, status, created_at, updated_at, expires_at`

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetTemplate(ctx context.Context, doctorID uuid.UUID) (*AvailabilityTemplate, error) {
	var tpl AvailabilityTemplate
	var breakStart, breakDur, slotDur int

	row := r.pool.QueryRow(ctx, `
		SELECT doctor_id, break_start_minutes, break_duration_minutes, slot_duration_minutes, timezone, created_at, updated_at
		FROM availability_templates
		WHERE doctor_id = $1
	`, doctorID)
	err := row.Scan(&tpl.DoctorID, &breakStart, &breakDur, &slotDur, &tpl.Timezone, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, storageErr("get template", err)
	}

	tpl.BreakStart = TimeOfDay(breakStart)
	tpl.BreakDuration = time.Duration(breakDur) * time.Minute
	tpl.SlotDuration = time.Duration(slotDur) * time.Minute

	rows, err := r.pool.Query(ctx, `
		SELECT weekday, start_minutes, end_minutes
		FROM availability_rules
		WHERE doctor_id = $1
		ORDER BY weekday
	`, doctorID)
	if err != nil {
		return nil, storageErr("get availability rules", err)
	}
	defer rows.Close()

	for rows.Next() {
		var wd, start, end int
		if err := rows.Scan(&wd, &start, &end); err != nil {
			return nil, storageErr("scan availability rule", err)
		}
		tpl.Rules = append(tpl.Rules, WeekdayRule{
			Weekday: time.Weekday(wd),
			Start:   TimeOfDay(start),
			End:     TimeOfDay(end),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate availability rules", err)
	}

	return &tpl, nil
}

func (r *PgRepository) SaveTemplate(ctx context.Context, tpl *AvailabilityTemplate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin save template", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO availability_templates (doctor_id, break_start_minutes, break_duration_minutes, slot_duration_minutes, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (doctor_id) DO UPDATE SET
			break_start_minutes    = EXCLUDED.break_start_minutes,
			break_duration_minutes = EXCLUDED.break_duration_minutes,
			slot_duration_minutes  = EXCLUDED.slot_duration_minutes,
			timezone               = EXCLUDED.timezone,
			updated_at             = now()
	`, tpl.DoctorID, int(tpl.BreakStart), int(tpl.BreakDuration.Minutes()), int(tpl.SlotDuration.Minutes()), tpl.Timezone)
	if err != nil {
		return storageErr("upsert template", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM availability_rules WHERE doctor_id = $1`, tpl.DoctorID); err != nil {
		return storageErr("clear availability rules", err)
	}
	for _, rule := range tpl.Rules {
		_, err := tx.Exec(ctx, `
			INSERT INTO availability_rules (doctor_id, weekday, start_minutes, end_minutes)
			VALUES ($1, $2, $3, $4)
		`, tpl.DoctorID, int(rule.Weekday), int(rule.Start), int(rule.End))
		if err != nil {
			return storageErr("insert availability rule", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit save template", err)
	}
	return nil
}

func (r *PgRepository) GetExceptions(ctx context.Context, doctorID uuid.UUID, rng DateRange) ([]AvailabilityException, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, date, unavailable, start_minutes, end_minutes, reason, created_at
		FROM availability_exceptions
		WHERE doctor_id = $1
		  AND date >= $2::date
		  AND date <  $3::date
		ORDER BY date
	`, doctorID, rng.From.Format(dateLayout), rng.To.Format(dateLayout))
	if err != nil {
		return nil, storageErr("get exceptions", err)
	}
	defer rows.Close()

	var out []AvailabilityException
	for rows.Next() {
		var ex AvailabilityException
		var start, end *int
		if err := rows.Scan(&ex.ID, &ex.DoctorID, &ex.Date, &ex.Unavailable, &start, &end, &ex.Reason, &ex.CreatedAt); err != nil {
			return nil, storageErr("scan exception", err)
		}
		if start != nil {
			t := TimeOfDay(*start)
			ex.Start = &t
		}
		if end != nil {
			t := TimeOfDay(*end)
			ex.End = &t
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate exceptions", err)
	}

	return out, nil
}

func (r *PgRepository) SaveException(ctx context.Context, ex *AvailabilityException) error {
	var start, end *int
	if ex.Start != nil {
		v := int(*ex.Start)
		start = &v
	}
	if ex.End != nil {
		v := int(*ex.End)
		end = &v
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_exceptions (id, doctor_id, date, unavailable, start_minutes, end_minutes, reason, created_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, now())
		ON CONFLICT (doctor_id, date) DO UPDATE SET
			unavailable   = EXCLUDED.unavailable,
			start_minutes = EXCLUDED.start_minutes,
			end_minutes   = EXCLUDED.end_minutes,
			reason        = EXCLUDED.reason
	`, ex.ID, ex.DoctorID, ex.Date.Format(dateLayout), ex.Unavailable, start, end, ex.Reason)
	if err != nil {
		return storageErr("save exception", err)
	}
	return nil
}

func (r *PgRepository) GetBookings(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time   > $2
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, storageErr("get bookings", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate bookings", err)
	}

	return out, nil
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, status BookingStatus, limit, offset int) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE patient_id = $1
		  AND ($2 = '' OR status = $2)
		ORDER BY start_time DESC
		LIMIT $3 OFFSET $4
	`, patientID, string(status), limit, offset)
	if err != nil {
		return nil, storageErr("list bookings by patient", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate patient bookings", err)
	}

	return out, nil
}

func (r *PgRepository) InsertBooking(ctx context.Context, b *Booking) (*Booking, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO bookings (id, doctor_id, patient_id, start_time, end_time, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now(), $7)
		RETURNING `+bookingColumns+`
	`, b.ID, b.DoctorID, b.PatientID, b.Start, b.End, b.Status, b.ExpiresAt)

	return scanBooking(row)
}

func (r *PgRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns+`
	`, id, to, from)

	return scanBooking(row)
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
	`, now)
	if err != nil {
		return nil, storageErr("find expired pending", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate expired pending", err)
	}

	return out, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return storageErr("insert event log", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
