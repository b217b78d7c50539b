package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTemplate marks availability templates that violate their
// invariant (bad weekday rule, break outside working hours, unknown
// timezone). Callers should treat it as a data bug, not retry.
var ErrInvalidTemplate = errors.New("invalid availability template")

const dateLayout = "2006-01-02"

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

// Active reports whether a booking in this status blocks its time range.
// Cancelled and completed bookings free the range for re-booking.
func (s BookingStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Terminal reports whether no further status transitions are allowed.
func (s BookingStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (24h clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return TimeOfDay(hh*60 + mm), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// At anchors the wall-clock time on the civil date of day in loc.
func (t TimeOfDay) At(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(t)/60, int(t)%60, 0, 0, loc)
}

// WeekdayRule opens a recurring [Start,End) working window on one weekday.
type WeekdayRule struct {
	Weekday time.Weekday
	Start   TimeOfDay
	End     TimeOfDay
}

// AvailabilityTemplate is a doctor's weekly recurring availability:
// per-weekday working windows, an optional daily break, and the
// duration slots are cut into. All wall-clock values are interpreted
// in the template's IANA timezone.
type AvailabilityTemplate struct {
	DoctorID      uuid.UUID
	Rules         []WeekdayRule
	BreakStart    TimeOfDay
	BreakDuration time.Duration
	SlotDuration  time.Duration
	Timezone      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks the template invariant: every rule has start < end,
// at most one rule per weekday, the break window (when set) fits inside
// each rule's window, slot duration is positive and the timezone loads.
func (t AvailabilityTemplate) Validate() error {
	if len(t.Rules) == 0 {
		return fmt.Errorf("%w: no weekday rules", ErrInvalidTemplate)
	}
	if t.SlotDuration <= 0 {
		return fmt.Errorf("%w: slot duration %s must be positive", ErrInvalidTemplate, t.SlotDuration)
	}
	if t.BreakDuration < 0 {
		return fmt.Errorf("%w: break duration %s is negative", ErrInvalidTemplate, t.BreakDuration)
	}
	if _, err := t.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidTemplate, t.Timezone, err)
	}

	seen := make(map[time.Weekday]bool, len(t.Rules))
	for _, r := range t.Rules {
		if seen[r.Weekday] {
			return fmt.Errorf("%w: duplicate rule for %s", ErrInvalidTemplate, r.Weekday)
		}
		seen[r.Weekday] = true

		if r.Start >= r.End {
			return fmt.Errorf("%w: rule for %s has start %s >= end %s",
				ErrInvalidTemplate, r.Weekday, r.Start, r.End)
		}
		if t.BreakDuration > 0 {
			breakEnd := TimeOfDay(int(t.BreakStart) + int(t.BreakDuration.Minutes()))
			if t.BreakStart < r.Start || breakEnd > r.End {
				return fmt.Errorf("%w: break %s+%s outside working window %s-%s on %s",
					ErrInvalidTemplate, t.BreakStart, t.BreakDuration, r.Start, r.End, r.Weekday)
			}
		}
	}
	return nil
}

// Location resolves the template's timezone, defaulting to UTC when unset.
func (t AvailabilityTemplate) Location() (*time.Location, error) {
	if t.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(t.Timezone)
}

// RuleFor returns the rule for the given weekday, if any.
func (t AvailabilityTemplate) RuleFor(wd time.Weekday) (WeekdayRule, bool) {
	for _, r := range t.Rules {
		if r.Weekday == wd {
			return r, true
		}
	}
	return WeekdayRule{}, false
}

// AvailabilityException overrides the weekly template on a single civil
// date: either the doctor is fully unavailable, or a custom [Start,End)
// window replaces the weekday rule.
type AvailabilityException struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	Date        time.Time // civil date; only year/month/day are meaningful
	Unavailable bool
	Start       *TimeOfDay
	End         *TimeOfDay
	Reason      *string
	CreatedAt   time.Time
}

// DateKey returns the civil date as YYYY-MM-DD for map lookups.
func (e AvailabilityException) DateKey() string {
	return e.Date.Format(dateLayout)
}

// DateRange is a half-open [From,To) range of civil dates. Only the
// year/month/day components of From and To are used.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) Validate() error {
	if r.To.Before(r.From) {
		return fmt.Errorf("date range end %s before start %s",
			r.To.Format(dateLayout), r.From.Format(dateLayout))
	}
	return nil
}

// OpenInterval is one contiguous stretch of bookable time on a single
// date, after exceptions and breaks have been applied. Never persisted.
type OpenInterval struct {
	DoctorID uuid.UUID
	Date     time.Time // civil date in the doctor's timezone
	Start    time.Time
	End      time.Time
}

// Slot is a candidate bookable unit cut from an open interval. Slots
// are derived on demand and never stored.
type Slot struct {
	DoctorID uuid.UUID
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// Booking is a persisted reservation of one slot by one patient.
// For a fixed doctor, no two bookings with an active status may have
// overlapping [Start,End) ranges.
type Booking struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Start     time.Time
	End       time.Time
	Status    BookingStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time // set while pending; ignored after confirm
}

// Overlaps reports whether the booking's range intersects [start,end),
// half-open on both sides.
func (b Booking) Overlaps(start, end time.Time) bool {
	return b.Start.Before(end) && start.Before(b.End)
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
