package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medilink/telemed-booking/internal/config"
	redisclient "github.com/medilink/telemed-booking/internal/redis"
)

const (
	EventBookingRequested = "BOOKING_REQUESTED"
	EventBookingConfirmed = "BOOKING_CONFIRMED"
	EventBookingCancelled = "BOOKING_CANCELLED"
	EventBookingCompleted = "BOOKING_COMPLETED"
	EventBookingExpired   = "BOOKING_EXPIRED"
)

var (
	// ErrSlotNoLongerAvailable means the requested range does not match
	// a currently free slot: either it never lined up with the slot
	// grid, or another booking won the race. Retryable — the caller
	// should re-query available slots and pick another.
	ErrSlotNoLongerAvailable = errors.New("slot no longer available")

	// ErrInvalidSlotRange marks a booking request with start >= end.
	ErrInvalidSlotRange = errors.New("invalid slot range")

	// ErrInvalidTransition marks a status change the booking state
	// machine forbids. Always a caller or logic bug, never retried.
	ErrInvalidTransition = errors.New("invalid booking status transition")

	// ErrInvalidException marks a malformed date-specific override.
	ErrInvalidException = errors.New("invalid availability exception")
)

// Service is the booking coordinator. It is the only component that
// mutates booking state; slot derivation underneath it is pure.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	log    *zap.Logger
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log,
	}
}

// ListAvailableSlots derives the bookable slots for one doctor over a
// half-open civil date range, from the weekly template, date exceptions
// and currently active bookings.
func (s *Service) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, rng DateRange) ([]Slot, error) {
	if err := rng.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSlotRange, err)
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	tpl, err := s.repo.GetTemplate(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}

	return s.deriveSlots(ctx, tpl, rng)
}

// deriveSlots runs the resolver and slot generator over fresh storage
// reads. Shared by the query path and the commit-time re-validation.
func (s *Service) deriveSlots(ctx context.Context, tpl *AvailabilityTemplate, rng DateRange) ([]Slot, error) {
	loc, err := tpl.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidTemplate, tpl.Timezone, err)
	}

	exceptions, err := s.repo.GetExceptions(ctx, tpl.DoctorID, rng)
	if err != nil {
		return nil, fmt.Errorf("load exceptions: %w", err)
	}

	from := civilDate(rng.From, loc)
	to := civilDate(rng.To, loc)
	bookings, err := s.repo.GetBookings(ctx, tpl.DoctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}

	intervals, err := ResolveOpenIntervals(*tpl, exceptions, rng)
	if err != nil {
		return nil, err
	}

	return GenerateSlots(intervals, tpl.SlotDuration, bookings)
}

// RequestBooking books the [start,end) slot for a patient. The range
// must exactly match a slot the generator would currently produce; the
// service re-derives slots inside a per-doctor lock rather than trust
// the caller, so two requests racing for overlapping ranges cannot both
// commit. The winner's booking comes back confirmed; the loser gets
// ErrSlotNoLongerAvailable.
func (s *Service) RequestBooking(ctx context.Context, doctorID, patientID uuid.UUID, start, end time.Time) (*Booking, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start %s not before end %s", ErrInvalidSlotRange, start, end)
	}

	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	var booked *Booking

	err := s.locker.WithDoctorLock(ctx, doctorID, func(lockCtx context.Context) error {
		tpl, err := s.repo.GetTemplate(lockCtx, doctorID)
		if err != nil {
			return fmt.Errorf("load template: %w", err)
		}
		loc, err := tpl.Location()
		if err != nil {
			return fmt.Errorf("%w: timezone %q: %v", ErrInvalidTemplate, tpl.Timezone, err)
		}

		rng := DateRange{
			From: civilDate(start.In(loc), loc),
			To:   civilDate(end.In(loc), loc).AddDate(0, 0, 1),
		}

		slots, err := s.deriveSlots(lockCtx, tpl, rng)
		if err != nil {
			return err
		}
		if !slotExists(slots, start, end) {
			return ErrSlotNoLongerAvailable
		}

		expiresAt := time.Now().Add(s.cfg.PendingTTL)
		pending, err := s.repo.InsertBooking(lockCtx, &Booking{
			ID:        uuid.New(),
			DoctorID:  doctorID,
			PatientID: patientID,
			Start:     start,
			End:       end,
			Status:    StatusPending,
			ExpiresAt: &expiresAt,
		})
		if err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}

		s.logEvent(lockCtx, pending.ID, EventBookingRequested, map[string]any{
			"doctor_id":  doctorID.String(),
			"patient_id": patientID.String(),
			"start":      start,
			"end":        end,
		})

		confirmed, err := s.repo.UpdateBookingStatus(lockCtx, pending.ID, StatusPending, StatusConfirmed)
		if err != nil {
			// Leave no half-committed hold behind; the expiry worker
			// catches anything this compensation misses.
			if _, cErr := s.repo.UpdateBookingStatus(lockCtx, pending.ID, StatusPending, StatusCancelled); cErr != nil {
				s.log.Warn("compensating cancel failed",
					zap.String("booking_id", pending.ID.String()), zap.Error(cErr))
			}
			return fmt.Errorf("confirm booking: %w", err)
		}

		s.logEvent(lockCtx, confirmed.ID, EventBookingConfirmed, map[string]any{})
		booked = confirmed
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			// Lock wait exhausted while someone else was committing;
			// same retryable condition as losing the race outright.
			return nil, fmt.Errorf("doctor commit lock contended: %w", ErrSlotNoLongerAvailable)
		}
		return nil, err
	}

	return booked, nil
}

func slotExists(slots []Slot, start, end time.Time) bool {
	for _, sl := range slots {
		if sl.Start.Equal(start) && sl.End.Equal(end) {
			return true
		}
	}
	return false
}

// CancelBooking moves a pending or confirmed booking to cancelled.
// Cancelling an already-cancelled booking is a no-op success.
func (s *Service) CancelBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}

	switch b.Status {
	case StatusCancelled:
		return b, nil
	case StatusCompleted:
		return nil, fmt.Errorf("%w: cannot cancel a completed booking", ErrInvalidTransition)
	}

	updated, err := s.repo.UpdateBookingStatus(ctx, id, b.Status, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			// CAS lost to a concurrent transition; re-read to keep
			// cancellation idempotent.
			cur, rErr := s.repo.GetBookingByID(ctx, id)
			if rErr == nil && cur.Status == StatusCancelled {
				return cur, nil
			}
			return nil, fmt.Errorf("%w: booking changed status during cancel", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventBookingCancelled, map[string]any{})
	return updated, nil
}

// CompleteBooking moves a confirmed booking to completed. Any other
// starting status is an invalid transition.
func (s *Service) CompleteBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if b.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: cannot complete booking in status %s", ErrInvalidTransition, b.Status)
	}

	updated, err := s.repo.UpdateBookingStatus(ctx, id, StatusConfirmed, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, fmt.Errorf("%w: booking changed status during complete", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("complete booking: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventBookingCompleted, map[string]any{})
	return updated, nil
}

// GetBooking retrieves one booking by id.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// ListBookingsByPatient lists a patient's bookings, newest first,
// optionally filtered by status.
func (s *Service) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, status BookingStatus, limit, offset int) ([]Booking, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	bookings, err := s.repo.ListBookingsByPatient(ctx, patientID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings by patient: %w", err)
	}
	return bookings, nil
}

// UpsertAvailability validates and stores a doctor's weekly template.
func (s *Service) UpsertAvailability(ctx context.Context, tpl *AvailabilityTemplate) error {
	if err := tpl.Validate(); err != nil {
		return err
	}
	if _, err := s.repo.GetDoctorByID(ctx, tpl.DoctorID); err != nil {
		return fmt.Errorf("load doctor: %w", err)
	}
	if err := s.repo.SaveTemplate(ctx, tpl); err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

// AddException stores a date-specific override for a doctor.
func (s *Service) AddException(ctx context.Context, ex *AvailabilityException) error {
	if ex.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidException)
	}
	if !ex.Unavailable {
		if ex.Start == nil || ex.End == nil {
			return fmt.Errorf("%w: custom interval needs start and end", ErrInvalidException)
		}
		if *ex.Start >= *ex.End {
			return fmt.Errorf("%w: start %s not before end %s", ErrInvalidException, *ex.Start, *ex.End)
		}
	}
	if _, err := s.repo.GetDoctorByID(ctx, ex.DoctorID); err != nil {
		return fmt.Errorf("load doctor: %w", err)
	}
	if ex.ID == uuid.Nil {
		ex.ID = uuid.New()
	}
	if err := s.repo.SaveException(ctx, ex); err != nil {
		return fmt.Errorf("save exception: %w", err)
	}
	return nil
}

// ExpireStalePending cancels pending bookings whose hold elapsed.
// Intended to be called periodically by the expiry worker; it covers
// holds orphaned by a crash inside the commit window.
func (s *Service) ExpireStalePending(ctx context.Context) error {
	now := time.Now()
	stale, err := s.repo.FindExpiredPending(ctx, now)
	if err != nil {
		return fmt.Errorf("find expired pending bookings: %w", err)
	}

	for _, b := range stale {
		if _, err := s.repo.UpdateBookingStatus(ctx, b.ID, StatusPending, StatusCancelled); err != nil {
			if !errors.Is(err, ErrBookingNotFound) {
				s.log.Warn("failed to expire booking",
					zap.String("booking_id", b.ID.String()), zap.Error(err))
			}
			continue
		}
		s.logEvent(ctx, b.ID, EventBookingExpired, map[string]any{
			"reason": "pending hold elapsed",
		})
	}

	return nil
}

func (s *Service) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload",
			zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	id := bookingID
	ev := EventLog{
		EventType: eventType,
		BookingID: &id,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("booking_id", bookingID.String()),
			zap.Error(err))
	}
}
