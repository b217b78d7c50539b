package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medilink/telemed-booking/internal/config"
)

// mutexLocker serializes critical sections per doctor in-process. It
// stands in for the Redis locker in unit tests.
type mutexLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newMutexLocker() *mutexLocker {
	return &mutexLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *mutexLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[doctorID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[doctorID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

func newTestService(t *testing.T) (*Service, *MemoryRepository, uuid.UUID, uuid.UUID) {
	t.Helper()

	repo := NewMemoryRepository()
	doctorID := uuid.New()
	patientID := uuid.New()
	repo.AddDoctor(Doctor{ID: doctorID, Name: "Dr. Reyes"})
	repo.AddPatient(Patient{ID: patientID, Name: "Sam Fields"})

	tpl := weekdayTemplate(t, doctorID, "UTC")
	require.NoError(t, repo.SaveTemplate(context.Background(), &tpl))

	cfg := config.Config{PendingTTL: time.Minute, LockTTL: 5 * time.Second}
	svc := NewService(repo, newMutexLocker(), cfg, zap.NewNop())
	return svc, repo, doctorID, patientID
}

func hasEvent(events []EventLog, eventType string) bool {
	for _, ev := range events {
		if ev.EventType == eventType {
			return true
		}
	}
	return false
}

func TestListAvailableSlots(t *testing.T) {
	ctx := context.Background()

	t.Run("standard Monday lists 14 slots", func(t *testing.T) {
		svc, _, doctorID, _ := newTestService(t)

		slots, err := svc.ListAvailableSlots(ctx, doctorID, DateRange{From: monday, To: tuesday})
		require.NoError(t, err)
		require.Len(t, slots, 14)
		assert.True(t, slots[0].Start.Equal(monday.Add(9*time.Hour)))
		assert.True(t, slots[13].End.Equal(monday.Add(17*time.Hour)))
	})

	t.Run("full-day exception empties the date", func(t *testing.T) {
		svc, _, doctorID, _ := newTestService(t)

		require.NoError(t, svc.AddException(ctx, &AvailabilityException{
			DoctorID:    doctorID,
			Date:        monday,
			Unavailable: true,
		}))

		slots, err := svc.ListAvailableSlots(ctx, doctorID, DateRange{From: monday, To: tuesday})
		require.NoError(t, err)
		assert.Empty(t, slots)
	})

	t.Run("unknown doctor fails", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.ListAvailableSlots(ctx, uuid.New(), DateRange{From: monday, To: tuesday})
		assert.ErrorIs(t, err, ErrDoctorNotFound)
	})

	t.Run("doctor without a template fails", func(t *testing.T) {
		svc, repo, _, _ := newTestService(t)
		bare := uuid.New()
		repo.AddDoctor(Doctor{ID: bare, Name: "Dr. Blank"})

		_, err := svc.ListAvailableSlots(ctx, bare, DateRange{From: monday, To: tuesday})
		assert.ErrorIs(t, err, ErrTemplateNotFound)
	})
}

func TestRequestBooking(t *testing.T) {
	ctx := context.Background()
	slotStart := monday.Add(10 * time.Hour)
	slotEnd := slotStart.Add(30 * time.Minute)

	t.Run("books a free slot as confirmed", func(t *testing.T) {
		svc, repo, doctorID, patientID := newTestService(t)

		b, err := svc.RequestBooking(ctx, doctorID, patientID, slotStart, slotEnd)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, b.Status)
		assert.Equal(t, doctorID, b.DoctorID)
		assert.Equal(t, patientID, b.PatientID)

		events := repo.Events()
		assert.True(t, hasEvent(events, EventBookingRequested))
		assert.True(t, hasEvent(events, EventBookingConfirmed))
	})

	t.Run("booked slot disappears from the listing", func(t *testing.T) {
		svc, _, doctorID, patientID := newTestService(t)

		_, err := svc.RequestBooking(ctx, doctorID, patientID, slotStart, slotEnd)
		require.NoError(t, err)

		slots, err := svc.ListAvailableSlots(ctx, doctorID, DateRange{From: monday, To: tuesday})
		require.NoError(t, err)
		require.Len(t, slots, 13)
		for _, s := range slots {
			assert.False(t, s.Start.Equal(slotStart))
		}
	})

	t.Run("double booking fails, adjacent slot still books", func(t *testing.T) {
		svc, _, doctorID, patientID := newTestService(t)

		_, err := svc.RequestBooking(ctx, doctorID, patientID, slotStart, slotEnd)
		require.NoError(t, err)

		_, err = svc.RequestBooking(ctx, doctorID, patientID, slotStart, slotEnd)
		assert.ErrorIs(t, err, ErrSlotNoLongerAvailable)

		next, err := svc.RequestBooking(ctx, doctorID, patientID, slotEnd, slotEnd.Add(30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, next.Status)
	})

	t.Run("range not matching the slot grid fails", func(t *testing.T) {
		svc, _, doctorID, patientID := newTestService(t)

		misaligned := monday.Add(10*time.Hour + 15*time.Minute)
		_, err := svc.RequestBooking(ctx, doctorID, patientID, misaligned, misaligned.Add(30*time.Minute))
		assert.ErrorIs(t, err, ErrSlotNoLongerAvailable)
	})

	t.Run("start must precede end", func(t *testing.T) {
		svc, _, doctorID, patientID := newTestService(t)

		_, err := svc.RequestBooking(ctx, doctorID, patientID, slotEnd, slotStart)
		assert.ErrorIs(t, err, ErrInvalidSlotRange)
	})

	t.Run("unknown patient or doctor fails", func(t *testing.T) {
		svc, _, doctorID, patientID := newTestService(t)

		_, err := svc.RequestBooking(ctx, doctorID, uuid.New(), slotStart, slotEnd)
		assert.ErrorIs(t, err, ErrPatientNotFound)

		_, err = svc.RequestBooking(ctx, uuid.New(), patientID, slotStart, slotEnd)
		assert.ErrorIs(t, err, ErrDoctorNotFound)
	})

	t.Run("failed request leaves no active booking", func(t *testing.T) {
		svc, _, doctorID, patientID := newTestService(t)

		misaligned := monday.Add(10*time.Hour + 5*time.Minute)
		_, err := svc.RequestBooking(ctx, doctorID, patientID, misaligned, misaligned.Add(30*time.Minute))
		require.ErrorIs(t, err, ErrSlotNoLongerAvailable)

		slots, err := svc.ListAvailableSlots(ctx, doctorID, DateRange{From: monday, To: tuesday})
		require.NoError(t, err)
		assert.Len(t, slots, 14)
	})
}

func TestRequestBookingRace(t *testing.T) {
	ctx := context.Background()
	svc, repo, doctorID, _ := newTestService(t)

	slotStart := monday.Add(14 * time.Hour)
	slotEnd := slotStart.Add(30 * time.Minute)

	const racers = 16
	patients := make([]uuid.UUID, racers)
	for i := range patients {
		patients[i] = uuid.New()
		repo.AddPatient(Patient{ID: patients[i], Name: "Racer"})
	}

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RequestBooking(ctx, doctorID, patients[i], slotStart, slotEnd)
		}(i)
	}
	wg.Wait()

	var winners, losers int
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		default:
			require.ErrorIs(t, err, ErrSlotNoLongerAvailable)
			losers++
		}
	}

	assert.Equal(t, 1, winners, "exactly one racer may confirm")
	assert.Equal(t, racers-1, losers)
}

func TestCancelBooking(t *testing.T) {
	ctx := context.Background()
	slotStart := monday.Add(11 * time.Hour)
	slotEnd := slotStart.Add(30 * time.Minute)

	t.Run("cancel is idempotent", func(t *testing.T) {
		svc, repo, doctorID, patientID := newTestService(t)

		b, err := svc.RequestBooking(ctx, doctorID, patientID, slotStart, slotEnd)
		require.NoError(t, err)

		first, err := svc.CancelBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, first.Status)

		second, err := svc.CancelBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, second.Status)

		assert.True(t, hasEvent(repo.Events(), EventBookingCancelled))
	})

	t.Run("cancelling frees the slot", func(t *testing.T) {
		svc, _, doctorID, patientID := newTestService(t)

		b, err := svc.RequestBooking(ctx, doctorID, patientID, slotStart, slotEnd)
		require.NoError(t, err)
		_, err = svc.CancelBooking(ctx, b.ID)
		require.NoError(t, err)

		slots, err := svc.ListAvailableSlots(ctx, doctorID, DateRange{From: monday, To: tuesday})
		require.NoError(t, err)
		assert.Len(t, slots, 14)
	})

	t.Run("unknown booking fails", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.CancelBooking(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrBookingNotFound)
	})

	t.Run("completed booking cannot be cancelled", func(t *testing.T) {
		svc, _, doctorID, patientID := newTestService(t)

		b, err := svc.RequestBooking(ctx, doctorID, patientID, slotStart, slotEnd)
		require.NoError(t, err)
		_, err = svc.CompleteBooking(ctx, b.ID)
		require.NoError(t, err)

		_, err = svc.CancelBooking(ctx, b.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestCompleteBooking(t *testing.T) {
	ctx := context.Background()
	slotStart := monday.Add(15 * time.Hour)
	slotEnd := slotStart.Add(30 * time.Minute)

	t.Run("confirmed booking completes", func(t *testing.T) {
		svc, repo, doctorID, patientID := newTestService(t)

		b, err := svc.RequestBooking(ctx, doctorID, patientID, slotStart, slotEnd)
		require.NoError(t, err)

		done, err := svc.CompleteBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, done.Status)
		assert.True(t, hasEvent(repo.Events(), EventBookingCompleted))
	})

	t.Run("terminal states reject completion", func(t *testing.T) {
		svc, _, doctorID, patientID := newTestService(t)

		b, err := svc.RequestBooking(ctx, doctorID, patientID, slotStart, slotEnd)
		require.NoError(t, err)
		_, err = svc.CompleteBooking(ctx, b.ID)
		require.NoError(t, err)

		_, err = svc.CompleteBooking(ctx, b.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("pending booking cannot complete", func(t *testing.T) {
		svc, repo, doctorID, patientID := newTestService(t)

		expires := time.Now().Add(time.Minute)
		pending, err := repo.InsertBooking(ctx, &Booking{
			DoctorID:  doctorID,
			PatientID: patientID,
			Start:     slotStart,
			End:       slotEnd,
			Status:    StatusPending,
			ExpiresAt: &expires,
		})
		require.NoError(t, err)

		_, err = svc.CompleteBooking(ctx, pending.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestExpireStalePending(t *testing.T) {
	ctx := context.Background()
	svc, repo, doctorID, patientID := newTestService(t)

	stale := time.Now().Add(-time.Minute)
	fresh := time.Now().Add(time.Hour)

	old, err := repo.InsertBooking(ctx, &Booking{
		DoctorID:  doctorID,
		PatientID: patientID,
		Start:     monday.Add(9 * time.Hour),
		End:       monday.Add(9*time.Hour + 30*time.Minute),
		Status:    StatusPending,
		ExpiresAt: &stale,
	})
	require.NoError(t, err)

	held, err := repo.InsertBooking(ctx, &Booking{
		DoctorID:  doctorID,
		PatientID: patientID,
		Start:     monday.Add(10 * time.Hour),
		End:       monday.Add(10*time.Hour + 30*time.Minute),
		Status:    StatusPending,
		ExpiresAt: &fresh,
	})
	require.NoError(t, err)

	require.NoError(t, svc.ExpireStalePending(ctx))

	expired, err := repo.GetBookingByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, expired.Status)

	kept, err := repo.GetBookingByID(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, kept.Status)

	assert.True(t, hasEvent(repo.Events(), EventBookingExpired))
}

func TestUpsertAvailability(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a valid template", func(t *testing.T) {
		svc, repo, doctorID, _ := newTestService(t)

		tpl := weekdayTemplate(t, doctorID, "Europe/Berlin")
		tpl.SlotDuration = 20 * time.Minute
		require.NoError(t, svc.UpsertAvailability(ctx, &tpl))

		stored, err := repo.GetTemplate(ctx, doctorID)
		require.NoError(t, err)
		assert.Equal(t, 20*time.Minute, stored.SlotDuration)
		assert.Equal(t, "Europe/Berlin", stored.Timezone)
	})

	t.Run("rejects invalid templates", func(t *testing.T) {
		svc, _, doctorID, _ := newTestService(t)

		tpl := weekdayTemplate(t, doctorID, "UTC")
		tpl.Rules[0].Start = tpl.Rules[0].End
		assert.ErrorIs(t, svc.UpsertAvailability(ctx, &tpl), ErrInvalidTemplate)
	})

	t.Run("rejects unknown doctor", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		tpl := weekdayTemplate(t, uuid.New(), "UTC")
		assert.ErrorIs(t, svc.UpsertAvailability(ctx, &tpl), ErrDoctorNotFound)
	})
}

func TestAddException(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects custom interval without bounds", func(t *testing.T) {
		svc, _, doctorID, _ := newTestService(t)

		err := svc.AddException(ctx, &AvailabilityException{DoctorID: doctorID, Date: monday})
		assert.ErrorIs(t, err, ErrInvalidException)
	})

	t.Run("rejects inverted custom interval", func(t *testing.T) {
		svc, _, doctorID, _ := newTestService(t)

		start := mustTimeOfDay(t, "14:00")
		end := mustTimeOfDay(t, "10:00")
		err := svc.AddException(ctx, &AvailabilityException{
			DoctorID: doctorID, Date: monday, Start: &start, End: &end,
		})
		assert.ErrorIs(t, err, ErrInvalidException)
	})

	t.Run("custom interval reshapes the listing", func(t *testing.T) {
		svc, _, doctorID, _ := newTestService(t)

		start := mustTimeOfDay(t, "10:00")
		end := mustTimeOfDay(t, "12:00")
		require.NoError(t, svc.AddException(ctx, &AvailabilityException{
			DoctorID: doctorID, Date: monday, Start: &start, End: &end,
		}))

		slots, err := svc.ListAvailableSlots(ctx, doctorID, DateRange{From: monday, To: tuesday})
		require.NoError(t, err)
		require.Len(t, slots, 4) // 10:00-12:00 in half-hour slots
		assert.True(t, slots[0].Start.Equal(monday.Add(10*time.Hour)))
	})
}
