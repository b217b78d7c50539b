package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateBookingRequest struct {
	DoctorID  string    `json:"doctor_id"`
	PatientID string    `json:"patient_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

type BookingResponse struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	PatientID uuid.UUID  `json:"patient_id"`
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type SlotResponse struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

type WeekdayRuleRequest struct {
	Weekday int    `json:"weekday"` // 0 = Sunday .. 6 = Saturday
	Start   string `json:"start"`   // HH:MM
	End     string `json:"end"`     // HH:MM
}

type AvailabilityRequest struct {
	Rules                []WeekdayRuleRequest `json:"rules"`
	BreakStart           string               `json:"break_start,omitempty"`
	BreakDurationMinutes int                  `json:"break_duration_minutes,omitempty"`
	SlotDurationMinutes  int                  `json:"slot_duration_minutes"`
	Timezone             string               `json:"timezone,omitempty"`
}

type ExceptionRequest struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	Unavailable bool    `json:"unavailable"`
	Start       *string `json:"start,omitempty"` // HH:MM
	End         *string `json:"end,omitempty"`   // HH:MM
	Reason      *string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
