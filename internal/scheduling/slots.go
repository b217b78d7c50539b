package scheduling

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDuration marks a non-positive slot duration. Always a
// caller bug, surfaced immediately.
var ErrInvalidDuration = errors.New("invalid slot duration")

// GenerateSlots slices open intervals into consecutive slots of exactly
// slotDuration, starting at each interval's start. A trailing remainder
// shorter than slotDuration is discarded. Slots overlapping a pending
// or confirmed booking are excluded; cancelled and completed bookings
// do not block. Pure, deterministic and idempotent.
func GenerateSlots(intervals []OpenInterval, slotDuration time.Duration, bookings []Booking) ([]Slot, error) {
	if slotDuration <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDuration, slotDuration)
	}

	var active []Booking
	for _, b := range bookings {
		if b.Status.Active() {
			active = append(active, b)
		}
	}

	var out []Slot
	for _, iv := range intervals {
		for start := iv.Start; !start.Add(slotDuration).After(iv.End); start = start.Add(slotDuration) {
			end := start.Add(slotDuration)
			if overlapsAny(active, start, end) {
				continue
			}
			out = append(out, Slot{
				DoctorID: iv.DoctorID,
				Start:    start,
				End:      end,
				Duration: slotDuration,
			})
		}
	}

	return out, nil
}

func overlapsAny(bookings []Booking, start, end time.Time) bool {
	for _, b := range bookings {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}
