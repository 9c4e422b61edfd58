package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic-booking/internal/booking"
)

// stubService lets each test script the service methods it touches.
type stubService struct {
	book                 func(actor booking.Actor, req booking.BookingRequest) (*booking.Appointment, error)
	confirm              func(actor booking.Actor, id uuid.UUID) (*booking.TransitionResult, error)
	cancel               func(actor booking.Actor, id uuid.UUID) (*booking.TransitionResult, error)
	reschedule           func(actor booking.Actor, id uuid.UUID, d time.Time, t booking.TimeOfDay) (*booking.Appointment, error)
	markAttended         func(actor booking.Actor, id uuid.UUID) (*booking.TransitionResult, error)
	charge               func(actor booking.Actor, id uuid.UUID, amount decimal.Decimal) (*booking.Appointment, error)
	estimatePrice        func(id uuid.UUID) (*booking.PriceQuote, error)
	availableSlots       func(specialistID uuid.UUID, date time.Time) ([]booking.TimeOfDay, error)
	getAppointment       func(id uuid.UUID) (*booking.AppointmentDetail, error)
	myAppointments       func(actor booking.Actor) ([]booking.AppointmentDetail, error)
	deskBoard            func(actor booking.Actor, onDate *time.Time) ([]booking.AppointmentDetail, error)
	specialistDay        func(actor booking.Actor, date time.Time) ([]booking.AppointmentDetail, error)
	specialistForAccount func(accountID uuid.UUID) (*booking.Specialist, error)
}

func (s *stubService) Book(_ context.Context, actor booking.Actor, req booking.BookingRequest) (*booking.Appointment, error) {
	return s.book(actor, req)
}

func (s *stubService) Confirm(_ context.Context, actor booking.Actor, id uuid.UUID) (*booking.TransitionResult, error) {
	return s.confirm(actor, id)
}

func (s *stubService) Cancel(_ context.Context, actor booking.Actor, id uuid.UUID) (*booking.TransitionResult, error) {
	return s.cancel(actor, id)
}

func (s *stubService) Reschedule(_ context.Context, actor booking.Actor, id uuid.UUID, d time.Time, t booking.TimeOfDay) (*booking.Appointment, error) {
	return s.reschedule(actor, id, d, t)
}

func (s *stubService) MarkAttended(_ context.Context, actor booking.Actor, id uuid.UUID) (*booking.TransitionResult, error) {
	return s.markAttended(actor, id)
}

func (s *stubService) Charge(_ context.Context, actor booking.Actor, id uuid.UUID, amount decimal.Decimal) (*booking.Appointment, error) {
	return s.charge(actor, id, amount)
}

func (s *stubService) EstimatePrice(_ context.Context, id uuid.UUID) (*booking.PriceQuote, error) {
	return s.estimatePrice(id)
}

func (s *stubService) AvailableSlots(_ context.Context, specialistID uuid.UUID, date time.Time) ([]booking.TimeOfDay, error) {
	return s.availableSlots(specialistID, date)
}

func (s *stubService) GetAppointment(_ context.Context, id uuid.UUID) (*booking.AppointmentDetail, error) {
	return s.getAppointment(id)
}

func (s *stubService) MyAppointments(_ context.Context, actor booking.Actor) ([]booking.AppointmentDetail, error) {
	return s.myAppointments(actor)
}

func (s *stubService) DeskBoard(_ context.Context, actor booking.Actor, onDate *time.Time) ([]booking.AppointmentDetail, error) {
	return s.deskBoard(actor, onDate)
}

func (s *stubService) SpecialistDay(_ context.Context, actor booking.Actor, date time.Time) ([]booking.AppointmentDetail, error) {
	return s.specialistDay(actor, date)
}

func (s *stubService) SpecialistForAccount(_ context.Context, accountID uuid.UUID) (*booking.Specialist, error) {
	return s.specialistForAccount(accountID)
}

func newTestRouter(svc BookingService) http.Handler {
	return NewRouter(RouterConfig{Service: svc})
}

func asPatient(r *http.Request, patientID uuid.UUID) *http.Request {
	r.Header.Set("X-Actor-ID", patientID.String())
	r.Header.Set("X-Actor-Role", "patient")
	return r
}

func asStaff(r *http.Request) *http.Request {
	r.Header.Set("X-Actor-ID", uuid.NewString())
	r.Header.Set("X-Actor-Role", "staff")
	return r
}

func sampleAppointment(patientID uuid.UUID) *booking.Appointment {
	return &booking.Appointment{
		ID:           uuid.New(),
		PatientID:    patientID,
		ServiceID:    uuid.New(),
		SpecialistID: uuid.New(),
		Date:         time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		Time:         booking.NewTimeOfDay(10, 0),
		Status:       booking.StatusPending,
		CreatedAt:    time.Now(),
	}
}

func TestRequestsWithoutIdentityAreRejected(t *testing.T) {
	router := newTestRouter(&stubService{})

	req := httptest.NewRequest(http.MethodGet, "/appointments/mine", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/appointments/mine", nil)
	req.Header.Set("X-Actor-ID", uuid.NewString())
	req.Header.Set("X-Actor-Role", "superuser")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBookAppointmentCreated(t *testing.T) {
	patientID := uuid.New()
	var gotReq booking.BookingRequest

	svc := &stubService{
		book: func(actor booking.Actor, req booking.BookingRequest) (*booking.Appointment, error) {
			gotReq = req
			appt := sampleAppointment(req.PatientID)
			appt.ServiceID = req.ServiceID
			appt.SpecialistID = req.SpecialistID
			return appt, nil
		},
	}
	router := newTestRouter(svc)

	body := fmt.Sprintf(`{"service_id":%q,"specialist_id":%q,"date":"2026-03-12","time":"10:00"}`,
		uuid.NewString(), uuid.NewString())
	req := asPatient(httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString(body)), patientID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	// With no patient_id in the body the booking is for the actor.
	assert.Equal(t, patientID, gotReq.PatientID)
	assert.Equal(t, booking.NewTimeOfDay(10, 0), gotReq.Time)

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "2026-03-12", resp.Date)
	assert.Equal(t, "10:00", resp.Time)
}

func TestBookAppointmentValidation(t *testing.T) {
	router := newTestRouter(&stubService{})

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"bad service id", `{"service_id":"nope","specialist_id":"` + uuid.NewString() + `","date":"2026-03-12","time":"10:00"}`},
		{"bad date", `{"service_id":"` + uuid.NewString() + `","specialist_id":"` + uuid.NewString() + `","date":"12/03/2026","time":"10:00"}`},
		{"bad time", `{"service_id":"` + uuid.NewString() + `","specialist_id":"` + uuid.NewString() + `","date":"2026-03-12","time":"late"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := asPatient(httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString(tc.body)), uuid.New())
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestBookAppointmentSlotTakenConflict(t *testing.T) {
	svc := &stubService{
		book: func(booking.Actor, booking.BookingRequest) (*booking.Appointment, error) {
			return nil, booking.ErrSlotTaken
		},
	}
	router := newTestRouter(svc)

	body := fmt.Sprintf(`{"service_id":%q,"specialist_id":%q,"date":"2026-03-12","time":"10:00"}`,
		uuid.NewString(), uuid.NewString())
	req := asPatient(httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString(body)), uuid.New())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "slot_taken", resp.Error)
}

func TestConfirmAppliedAndSkipped(t *testing.T) {
	appt := sampleAppointment(uuid.New())

	svc := &stubService{
		confirm: func(actor booking.Actor, id uuid.UUID) (*booking.TransitionResult, error) {
			confirmed := *appt
			confirmed.Status = booking.StatusConfirmed
			return &booking.TransitionResult{Appointment: &confirmed, Outcome: booking.OutcomeApplied}, nil
		},
	}
	router := newTestRouter(svc)

	req := asStaff(httptest.NewRequest(http.MethodPost, "/appointments/"+appt.ID.String()+"/confirm", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TransitionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Applied)
	assert.Empty(t, resp.Warning)

	// Already-settled transitions come back 200 with a warning.
	svc.confirm = func(actor booking.Actor, id uuid.UUID) (*booking.TransitionResult, error) {
		settled := *appt
		settled.Status = booking.StatusCancelled
		return &booking.TransitionResult{
			Appointment: &settled,
			Outcome:     booking.OutcomeSkipped,
			Reason:      "appointment is already cancelled",
		}, nil
	}
	req = asStaff(httptest.NewRequest(http.MethodPost, "/appointments/"+appt.ID.String()+"/confirm", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Applied)
	assert.Contains(t, resp.Warning, "cancelled")
}

func TestChargeErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{booking.ErrInvalidAmount, http.StatusBadRequest},
		{booking.ErrAlreadyPaid, http.StatusConflict},
		{booking.ErrInvalidTransition, http.StatusConflict},
		{booking.ErrUnauthorized, http.StatusForbidden},
		{booking.ErrAppointmentNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		svc := &stubService{
			charge: func(booking.Actor, uuid.UUID, decimal.Decimal) (*booking.Appointment, error) {
				return nil, tc.err
			},
		}
		router := newTestRouter(svc)

		req := asStaff(httptest.NewRequest(http.MethodPost,
			"/appointments/"+uuid.NewString()+"/charge",
			bytes.NewBufferString(`{"amount":"25.00"}`)))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, tc.code, rec.Code, "error %v", tc.err)
	}
}

func TestChargeSuccess(t *testing.T) {
	var gotAmount decimal.Decimal
	svc := &stubService{
		charge: func(_ booking.Actor, id uuid.UUID, amount decimal.Decimal) (*booking.Appointment, error) {
			gotAmount = amount
			appt := sampleAppointment(uuid.New())
			appt.Status = booking.StatusFinalized
			appt.IsPaid = true
			appt.FinalPrice = &amount
			return appt, nil
		},
	}
	router := newTestRouter(svc)

	req := asStaff(httptest.NewRequest(http.MethodPost,
		"/appointments/"+uuid.NewString()+"/charge",
		bytes.NewBufferString(`{"amount":"45.50"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gotAmount.Equal(decimal.RequireFromString("45.50")))

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsPaid)
	assert.Equal(t, "45.50", resp.FinalPrice)
}

func TestAvailabilityAlwaysAnswers(t *testing.T) {
	svc := &stubService{
		availableSlots: func(uuid.UUID, time.Time) ([]booking.TimeOfDay, error) {
			return []booking.TimeOfDay{booking.NewTimeOfDay(9, 0), booking.NewTimeOfDay(11, 0)}, nil
		},
	}
	router := newTestRouter(svc)

	// Happy path.
	req := asPatient(httptest.NewRequest(http.MethodGet,
		"/availability?specialist_id="+uuid.NewString()+"&date=2026-03-12", nil), uuid.New())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var slots []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slots))
	assert.Equal(t, []string{"09:00", "11:00"}, slots)

	// Malformed input still answers 200 with an empty array.
	for _, target := range []string{
		"/availability",
		"/availability?specialist_id=nope&date=2026-03-12",
		"/availability?specialist_id=" + uuid.NewString() + "&date=tomorrow",
	} {
		req := asPatient(httptest.NewRequest(http.MethodGet, target, nil), uuid.New())
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, target)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slots))
		assert.Empty(t, slots, target)
	}

	// Store failures degrade to empty, not 500.
	svc.availableSlots = func(uuid.UUID, time.Time) ([]booking.TimeOfDay, error) {
		return nil, fmt.Errorf("connection refused")
	}
	req = asPatient(httptest.NewRequest(http.MethodGet,
		"/availability?specialist_id="+uuid.NewString()+"&date=2026-03-12", nil), uuid.New())
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slots))
	assert.Empty(t, slots)
}

func TestQuoteResponseShape(t *testing.T) {
	apptID := uuid.New()
	svc := &stubService{
		estimatePrice: func(id uuid.UUID) (*booking.PriceQuote, error) {
			return &booking.PriceQuote{
				AppointmentID:  id,
				BasePrice:      decimal.RequireFromString("50"),
				DiscountRate:   decimal.RequireFromString("0.2"),
				DiscountAmount: decimal.RequireFromString("10"),
				FinalPrice:     decimal.RequireFromString("40"),
			}, nil
		},
	}
	router := newTestRouter(svc)

	req := asStaff(httptest.NewRequest(http.MethodGet, "/appointments/"+apptID.String()+"/quote", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp QuoteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "50.00", resp.BasePrice)
	assert.Equal(t, "0.20", resp.DiscountRate)
	assert.Equal(t, "10.00", resp.DiscountAmount)
	assert.Equal(t, "40.00", resp.FinalPrice)
}

func TestSpecialistIdentityFallback(t *testing.T) {
	accountID := uuid.New()
	specialistID := uuid.New()

	var gotActor booking.Actor
	svc := &stubService{
		specialistForAccount: func(id uuid.UUID) (*booking.Specialist, error) {
			assert.Equal(t, accountID, id)
			return &booking.Specialist{ID: specialistID}, nil
		},
		specialistDay: func(actor booking.Actor, date time.Time) ([]booking.AppointmentDetail, error) {
			gotActor = actor
			return nil, nil
		},
	}
	router := newTestRouter(svc)

	// No X-Specialist-ID header: resolved through the account binding.
	req := httptest.NewRequest(http.MethodGet, "/specialist/appointments?date=2026-03-12", nil)
	req.Header.Set("X-Actor-ID", accountID.String())
	req.Header.Set("X-Actor-Role", "specialist")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, specialistID, gotActor.SpecialistID)
}

func TestSpecialistNotLinkedIsForbidden(t *testing.T) {
	svc := &stubService{
		specialistForAccount: func(uuid.UUID) (*booking.Specialist, error) {
			return nil, booking.ErrSpecialistNotFound
		},
	}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/specialist/appointments", nil)
	req.Header.Set("X-Actor-ID", uuid.NewString())
	req.Header.Set("X-Actor-Role", "specialist")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "specialist_not_linked", resp.Error)
}

func TestDeskBoardDateFilter(t *testing.T) {
	var gotDate *time.Time
	svc := &stubService{
		deskBoard: func(_ booking.Actor, onDate *time.Time) ([]booking.AppointmentDetail, error) {
			gotDate = onDate
			return []booking.AppointmentDetail{}, nil
		},
	}
	router := newTestRouter(svc)

	req := asStaff(httptest.NewRequest(http.MethodGet, "/desk/appointments?date=2026-03-12", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotDate)
	assert.Equal(t, "2026-03-12", gotDate.Format("2006-01-02"))

	req = asStaff(httptest.NewRequest(http.MethodGet, "/desk/appointments?date=soon", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnexpectedErrorsAreNotLeaked(t *testing.T) {
	svc := &stubService{
		getAppointment: func(uuid.UUID) (*booking.AppointmentDetail, error) {
			return nil, fmt.Errorf("pq: deadlock detected on relation appointments")
		},
	}
	router := newTestRouter(svc)

	req := asStaff(httptest.NewRequest(http.MethodGet, "/appointments/"+uuid.NewString(), nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal_error", resp.Error)
	assert.NotContains(t, resp.Details, "deadlock")
}

func TestRequestIDHeaderEchoed(t *testing.T) {
	svc := &stubService{
		myAppointments: func(booking.Actor) ([]booking.AppointmentDetail, error) {
			return nil, nil
		},
	}
	router := newTestRouter(svc)

	req := asPatient(httptest.NewRequest(http.MethodGet, "/appointments/mine", nil), uuid.New())
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
