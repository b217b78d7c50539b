package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medilink/telemed-booking/internal/scheduling"
)

const dateLayout = "2006-01-02"

func listSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		fromStr := r.URL.Query().Get("from")
		toStr := r.URL.Query().Get("to")
		if fromStr == "" || toStr == "" {
			writeError(w, http.StatusBadRequest, "missing_date_range", "from and to query parameters are required (YYYY-MM-DD)")
			return
		}

		from, err := time.Parse(dateLayout, fromStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from_date", "from must be YYYY-MM-DD")
			return
		}
		to, err := time.Parse(dateLayout, toStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to_date", "to must be YYYY-MM-DD")
			return
		}

		slots, err := svc.ListAvailableSlots(r.Context(), doctorID, scheduling.DateRange{From: from, To: to})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, SlotResponse{
				DoctorID:        s.DoctorID,
				Start:           s.Start,
				End:             s.End,
				DurationMinutes: int(s.Duration.Minutes()),
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func createBookingHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		booking, err := svc.RequestBooking(r.Context(), doctorID, patientID, req.Start, req.End)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(booking))
	}
}

func cancelBookingHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		booking, err := svc.CancelBooking(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(booking))
	}
}

func completeBookingHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		booking, err := svc.CompleteBooking(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(booking))
	}
}

func getBookingHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		booking, err := svc.GetBooking(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(booking))
	}
}

func listBookingsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(r.URL.Query().Get("patient_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		status := scheduling.BookingStatus(r.URL.Query().Get("status"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		bookings, err := svc.ListBookingsByPatient(r.Context(), patientID, status, limit, offset)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]BookingResponse, 0, len(bookings))
		for i := range bookings {
			resp = append(resp, toBookingResponse(&bookings[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func putAvailabilityHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		var req AvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		tpl := scheduling.AvailabilityTemplate{
			DoctorID:      doctorID,
			SlotDuration:  time.Duration(req.SlotDurationMinutes) * time.Minute,
			BreakDuration: time.Duration(req.BreakDurationMinutes) * time.Minute,
			Timezone:      req.Timezone,
		}

		if req.BreakStart != "" {
			bs, err := scheduling.ParseTimeOfDay(req.BreakStart)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_break_start", err.Error())
				return
			}
			tpl.BreakStart = bs
		}

		for _, rule := range req.Rules {
			if rule.Weekday < 0 || rule.Weekday > 6 {
				writeError(w, http.StatusBadRequest, "invalid_weekday", "weekday must be 0 (Sunday) to 6 (Saturday)")
				return
			}
			start, err := scheduling.ParseTimeOfDay(rule.Start)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_rule_start", err.Error())
				return
			}
			end, err := scheduling.ParseTimeOfDay(rule.End)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_rule_end", err.Error())
				return
			}
			tpl.Rules = append(tpl.Rules, scheduling.WeekdayRule{
				Weekday: time.Weekday(rule.Weekday),
				Start:   start,
				End:     end,
			})
		}

		if err := svc.UpsertAvailability(r.Context(), &tpl); err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, req)
	}
}

func createExceptionHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		var req ExceptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		date, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		ex := scheduling.AvailabilityException{
			DoctorID:    doctorID,
			Date:        date,
			Unavailable: req.Unavailable,
			Reason:      req.Reason,
		}
		if req.Start != nil {
			start, err := scheduling.ParseTimeOfDay(*req.Start)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_start", err.Error())
				return
			}
			ex.Start = &start
		}
		if req.End != nil {
			end, err := scheduling.ParseTimeOfDay(*req.End)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_end", err.Error())
				return
			}
			ex.End = &end
		}

		if err := svc.AddException(r.Context(), &ex); err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"id": ex.ID.String()})
	}
}

func toBookingResponse(b *scheduling.Booking) BookingResponse {
	return BookingResponse{
		ID:        b.ID,
		DoctorID:  b.DoctorID,
		PatientID: b.PatientID,
		Start:     b.Start,
		End:       b.End,
		Status:    string(b.Status),
		ExpiresAt: b.ExpiresAt,
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, "availability_not_configured", err.Error())
	case errors.Is(err, scheduling.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, scheduling.ErrInvalidSlotRange),
		errors.Is(err, scheduling.ErrInvalidTemplate),
		errors.Is(err, scheduling.ErrInvalidDuration),
		errors.Is(err, scheduling.ErrInvalidException):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, scheduling.ErrSlotNoLongerAvailable):
		writeError(w, http.StatusConflict, "slot_no_longer_available", "slot is no longer available, re-query available slots and retry")
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage backend unavailable, retry later")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
