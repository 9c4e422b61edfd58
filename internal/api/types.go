package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic-booking/internal/booking"
)

type BookAppointmentRequest struct {
	// PatientID is only honored for desk bookings; patients always book
	// for themselves.
	PatientID    string `json:"patient_id,omitempty"`
	ServiceID    string `json:"service_id"`
	SpecialistID string `json:"specialist_id"`
	Date         string `json:"date"` // YYYY-MM-DD
	Time         string `json:"time"` // HH:MM
}

type RescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type ChargeRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type AppointmentResponse struct {
	ID           uuid.UUID `json:"id"`
	PatientID    uuid.UUID `json:"patient_id"`
	ServiceID    uuid.UUID `json:"service_id"`
	SpecialistID uuid.UUID `json:"specialist_id"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	Status       string    `json:"status"`
	IsPaid       bool      `json:"is_paid"`
	FinalPrice   string    `json:"final_price,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	ServiceName    string `json:"service_name"`
	SpecialistName string `json:"specialist_name"`
	PatientName    string `json:"patient_name,omitempty"`
}

// TransitionResponse reports a lifecycle transition. Warning is set
// when the transition was a no-op because the appointment had already
// settled.
type TransitionResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Applied     bool                `json:"applied"`
	Warning     string              `json:"warning,omitempty"`
}

type QuoteResponse struct {
	AppointmentID  uuid.UUID `json:"appointment_id"`
	BasePrice      string    `json:"base_price"`
	DiscountRate   string    `json:"discount_rate"`
	DiscountAmount string    `json:"discount_amount"`
	FinalPrice     string    `json:"final_price"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		ServiceID:    a.ServiceID,
		SpecialistID: a.SpecialistID,
		Date:         a.Date.Format("2006-01-02"),
		Time:         a.Time.String(),
		Status:       string(a.Status),
		IsPaid:       a.IsPaid,
		CreatedAt:    a.CreatedAt,
	}
	if a.FinalPrice != nil {
		resp.FinalPrice = a.FinalPrice.StringFixed(2)
	}
	return resp
}

func toDetailResponse(d *booking.AppointmentDetail) AppointmentDetailResponse {
	return AppointmentDetailResponse{
		AppointmentResponse: toAppointmentResponse(&d.Appointment),
		ServiceName:         d.ServiceName,
		SpecialistName:      d.SpecialistName,
		PatientName:         d.PatientName,
	}
}

func toDetailResponses(ds []booking.AppointmentDetail) []AppointmentDetailResponse {
	out := make([]AppointmentDetailResponse, 0, len(ds))
	for i := range ds {
		out = append(out, toDetailResponse(&ds[i]))
	}
	return out
}

func toTransitionResponse(res *booking.TransitionResult) TransitionResponse {
	return TransitionResponse{
		Appointment: toAppointmentResponse(res.Appointment),
		Applied:     res.Outcome == booking.OutcomeApplied,
		Warning:     res.Reason,
	}
}
