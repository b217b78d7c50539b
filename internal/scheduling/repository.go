package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound   = errors.New("doctor not found")
	ErrPatientNotFound  = errors.New("patient not found")
	ErrTemplateNotFound = errors.New("availability template not found")
	ErrBookingNotFound  = errors.New("booking not found")

	// ErrStorageUnavailable wraps connectivity and query failures from
	// the storage backend. The engine never retries these internally;
	// retry policy belongs to the caller.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Repository is the storage collaborator the engine reads availability
// and bookings from and writes booking records to.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	GetTemplate(ctx context.Context, doctorID uuid.UUID) (*AvailabilityTemplate, error)
	SaveTemplate(ctx context.Context, tpl *AvailabilityTemplate) error
	GetExceptions(ctx context.Context, doctorID uuid.UUID, rng DateRange) ([]AvailabilityException, error)
	SaveException(ctx context.Context, ex *AvailabilityException) error

	// GetBookings returns every booking (any status) for the doctor
	// whose range intersects the half-open instant range [from,to).
	GetBookings(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Booking, error)
	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, status BookingStatus, limit, offset int) ([]Booking, error)

	InsertBooking(ctx context.Context, b *Booking) (*Booking, error)
	// UpdateBookingStatus transitions id from one status to another with
	// compare-and-set semantics: it fails with ErrBookingNotFound when
	// the booking is missing or no longer in the expected status.
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error)

	// FindExpiredPending returns pending bookings whose hold elapsed
	// before now. Used by the expiry worker.
	FindExpiredPending(ctx context.Context, now time.Time) ([]Booking, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
