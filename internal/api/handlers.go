package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-booking/internal/booking"
	redisclient "github.com/clinicdesk/clinic-booking/internal/redis"
)

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func appointmentID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func bookAppointmentHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		serviceID, err := uuid.Parse(req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}
		specialistID, err := uuid.Parse(req.SpecialistID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_specialist_id", "specialist_id must be a valid UUID")
			return
		}
		date, err := parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		slot, err := booking.ParseTimeOfDay(req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
			return
		}

		patientID := actor.ID
		if req.PatientID != "" {
			patientID, err = uuid.Parse(req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
		}

		appt, err := svc.Book(r.Context(), actor, booking.BookingRequest{
			PatientID:    patientID,
			ServiceID:    serviceID,
			SpecialistID: specialistID,
			Date:         date,
			Time:         slot,
		})
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := appointmentID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponse(detail))
	}
}

func myAppointmentsHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		list, err := svc.MyAppointments(r.Context(), actor)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponses(list))
	}
}

func confirmAppointmentHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return transitionHandler(svc, logger, func(svc BookingService, r *http.Request, actor booking.Actor, id uuid.UUID) (*booking.TransitionResult, error) {
		return svc.Confirm(r.Context(), actor, id)
	})
}

func cancelAppointmentHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return transitionHandler(svc, logger, func(svc BookingService, r *http.Request, actor booking.Actor, id uuid.UUID) (*booking.TransitionResult, error) {
		return svc.Cancel(r.Context(), actor, id)
	})
}

func markAttendedHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return transitionHandler(svc, logger, func(svc BookingService, r *http.Request, actor booking.Actor, id uuid.UUID) (*booking.TransitionResult, error) {
		return svc.MarkAttended(r.Context(), actor, id)
	})
}

func transitionHandler(svc BookingService, logger *zap.Logger, do func(BookingService, *http.Request, booking.Actor, uuid.UUID) (*booking.TransitionResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		id, err := appointmentID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		res, err := do(svc, r, actor, id)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toTransitionResponse(res))
	}
}

func rescheduleAppointmentHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		id, err := appointmentID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		date, err := parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		slot, err := booking.ParseTimeOfDay(req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
			return
		}

		appt, err := svc.Reschedule(r.Context(), actor, id, date, slot)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func chargeAppointmentHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		id, err := appointmentID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req ChargeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Charge(r.Context(), actor, id, req.Amount)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func quoteHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := appointmentID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		quote, err := svc.EstimatePrice(r.Context(), id)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, QuoteResponse{
			AppointmentID:  quote.AppointmentID,
			BasePrice:      quote.BasePrice.StringFixed(2),
			DiscountRate:   quote.DiscountRate.StringFixed(2),
			DiscountAmount: quote.DiscountAmount.StringFixed(2),
			FinalPrice:     quote.FinalPrice.StringFixed(2),
		})
	}
}

// availabilityHandler answers the slot query the booking UI polls. Per
// its contract it always returns a JSON array of "HH:MM" strings; any
// input or lookup failure is an empty array, never an error status.
func availabilityHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		empty := []string{}

		specialistID, err := uuid.Parse(r.URL.Query().Get("specialist_id"))
		if err != nil {
			writeJSON(w, http.StatusOK, empty)
			return
		}
		date, err := parseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeJSON(w, http.StatusOK, empty)
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), specialistID, date)
		if err != nil {
			logger.Error("availability query failed",
				zap.String("specialist_id", specialistID.String()),
				zap.Error(err))
			writeJSON(w, http.StatusOK, empty)
			return
		}

		out := make([]string, 0, len(slots))
		for _, s := range slots {
			out = append(out, s.String())
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func deskBoardHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		var onDate *time.Time
		if raw := r.URL.Query().Get("date"); raw != "" {
			d, err := parseDate(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			onDate = &d
		}

		list, err := svc.DeskBoard(r.Context(), actor, onDate)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponses(list))
	}
}

func specialistDayHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		date := time.Now().UTC().Truncate(24 * time.Hour)
		if raw := r.URL.Query().Get("date"); raw != "" {
			d, err := parseDate(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			date = d
		}

		list, err := svc.SpecialistDay(r.Context(), actor, date)
		if err != nil {
			handleServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponses(list))
	}
}

func handleServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, booking.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", err.Error())
	case errors.Is(err, booking.ErrSpecialistNotFound):
		writeError(w, http.StatusNotFound, "specialist_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_profile_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, booking.ErrAlreadyPaid):
		writeError(w, http.StatusConflict, "already_paid", err.Error())
	case errors.Is(err, booking.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, booking.ErrPastDate):
		writeError(w, http.StatusBadRequest, "past_date", err.Error())
	case errors.Is(err, booking.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	default:
		logger.Error("unhandled service error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}
