package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medilink/telemed-booking/internal/db"
	"github.com/medilink/telemed-booking/internal/scheduling"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := ensureSchema(context.Background(), pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	doctorIDs, err := seedDoctors(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedAvailability(context.Background(), pool, doctorIDs); err != nil {
		log.Fatalf("seed availability: %v", err)
	}

	log.Println("seed complete")
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS doctors (
			id         uuid PRIMARY KEY,
			name       text NOT NULL,
			specialty  text,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS patients (
			id         uuid PRIMARY KEY,
			name       text NOT NULL,
			email      text,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS availability_templates (
			doctor_id              uuid PRIMARY KEY REFERENCES doctors(id),
			break_start_minutes    int NOT NULL DEFAULT 0,
			break_duration_minutes int NOT NULL DEFAULT 0,
			slot_duration_minutes  int NOT NULL,
			timezone               text NOT NULL DEFAULT 'UTC',
			created_at             timestamptz NOT NULL DEFAULT now(),
			updated_at             timestamptz NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS availability_rules (
			doctor_id     uuid NOT NULL REFERENCES doctors(id),
			weekday       int NOT NULL CHECK (weekday BETWEEN 0 AND 6),
			start_minutes int NOT NULL,
			end_minutes   int NOT NULL,
			PRIMARY KEY (doctor_id, weekday)
		);

		CREATE TABLE IF NOT EXISTS availability_exceptions (
			id            uuid PRIMARY KEY,
			doctor_id     uuid NOT NULL REFERENCES doctors(id),
			date          date NOT NULL,
			unavailable   boolean NOT NULL DEFAULT false,
			start_minutes int,
			end_minutes   int,
			reason        text,
			created_at    timestamptz NOT NULL DEFAULT now(),
			UNIQUE (doctor_id, date)
		);

		CREATE TABLE IF NOT EXISTS bookings (
			id         uuid PRIMARY KEY,
			doctor_id  uuid NOT NULL REFERENCES doctors(id),
			patient_id uuid NOT NULL REFERENCES patients(id),
			start_time timestamptz NOT NULL,
			end_time   timestamptz NOT NULL,
			status     text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now(),
			expires_at timestamptz
		);
		CREATE INDEX IF NOT EXISTS bookings_doctor_range_idx ON bookings (doctor_id, start_time, end_time);
		CREATE INDEX IF NOT EXISTS bookings_patient_idx ON bookings (patient_id, start_time);

		CREATE TABLE IF NOT EXISTS event_logs (
			id         bigserial PRIMARY KEY,
			event_type text NOT NULL,
			booking_id uuid,
			payload    jsonb,
			created_at timestamptz NOT NULL DEFAULT now()
		);
	`)
	return err
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		email := gofakeit.Email()

		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, email)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// seedAvailability writes a weekly template for every doctor: the
// common case is Mon-Fri 09:00-17:00 with a 60 minute lunch break at
// 12:00 and 30 minute slots, with some variation in slot length and
// working days. A few doctors also get a day off next week.
func seedAvailability(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	log.Printf("seeding availability for %d doctors", len(doctorIDs))

	repo := scheduling.NewPgRepository(pool)
	timezones := []string{"UTC", "America/New_York", "Europe/Berlin", "Asia/Kolkata"}
	slotDurations := []time.Duration{15 * time.Minute, 20 * time.Minute, 30 * time.Minute}

	for _, id := range doctorIDs {
		workStart, _ := scheduling.ParseTimeOfDay("09:00")
		workEnd, _ := scheduling.ParseTimeOfDay("17:00")
		breakStart, _ := scheduling.ParseTimeOfDay("12:00")

		weekdays := []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		}
		if gofakeit.Bool() {
			weekdays = append(weekdays, time.Saturday)
		}

		tpl := scheduling.AvailabilityTemplate{
			DoctorID:      id,
			BreakStart:    breakStart,
			BreakDuration: 60 * time.Minute,
			SlotDuration:  slotDurations[gofakeit.Number(0, len(slotDurations)-1)],
			Timezone:      timezones[gofakeit.Number(0, len(timezones)-1)],
		}
		for _, wd := range weekdays {
			tpl.Rules = append(tpl.Rules, scheduling.WeekdayRule{
				Weekday: wd,
				Start:   workStart,
				End:     workEnd,
			})
		}

		if err := tpl.Validate(); err != nil {
			return err
		}
		if err := repo.SaveTemplate(ctx, &tpl); err != nil {
			return err
		}

		// Roughly one doctor in five takes a day off next week.
		if gofakeit.Number(0, 4) == 0 {
			reason := "time off"
			ex := scheduling.AvailabilityException{
				ID:          uuid.New(),
				DoctorID:    id,
				Date:        time.Now().AddDate(0, 0, gofakeit.Number(1, 7)),
				Unavailable: true,
				Reason:      &reason,
			}
			if err := repo.SaveException(ctx, &ex); err != nil {
				return err
			}
		}
	}

	return nil
}
