package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	redisclient "github.com/clinicdesk/clinic-booking/internal/redis"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentAttended    = "APPOINTMENT_ATTENDED"
	EventAppointmentCharged     = "APPOINTMENT_CHARGED"
	EventAppointmentLapsed      = "APPOINTMENT_LAPSED"
)

var (
	ErrSlotBeingBooked   = errors.New("slot is currently being booked, please retry")
	ErrUnauthorized      = errors.New("actor is not allowed to perform this action")
	ErrInvalidTransition = errors.New("appointment state does not allow this action")
	ErrAlreadyPaid       = errors.New("appointment is already paid")
	ErrInvalidAmount     = errors.New("amount must not be negative")
	ErrPastDate          = errors.New("new date is in the past")
)

// TransitionOutcome tags the result of a lifecycle transition. A
// transition attempted from a state that already settled it is a
// benign no-op reported back to the user, not an error.
type TransitionOutcome string

const (
	OutcomeApplied TransitionOutcome = "applied"
	OutcomeSkipped TransitionOutcome = "skipped"
)

type TransitionResult struct {
	Appointment *Appointment
	Outcome     TransitionOutcome
	Reason      string // set when skipped, names the current status
}

func skipped(appt *Appointment) *TransitionResult {
	return &TransitionResult{
		Appointment: appt,
		Outcome:     OutcomeSkipped,
		Reason:      fmt.Sprintf("appointment is already %s", appt.Status),
	}
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	template DayTemplate
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, template DayTemplate, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		template: template,
		logger:   logger,
		now:      time.Now,
	}
}

type BookingRequest struct {
	PatientID    uuid.UUID
	ServiceID    uuid.UUID
	SpecialistID uuid.UUID
	Date         time.Time
	Time         TimeOfDay
}

// Book reserves a slot for a patient. A per-slot Redis lock keeps
// concurrent requests for the same slot from racing; the partial unique
// index on active appointments is the final arbiter either way.
func (s *Service) Book(ctx context.Context, actor Actor, req BookingRequest) (*Appointment, error) {
	switch actor.Role {
	case RolePatient:
		if req.PatientID != actor.ID {
			return nil, ErrUnauthorized
		}
	case RoleStaff, RoleAdmin:
		// front desk may book on behalf of any patient
	default:
		return nil, ErrUnauthorized
	}

	if _, err := s.repo.GetService(ctx, req.ServiceID); err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load service: %w", err)
	}
	if _, err := s.repo.GetSpecialist(ctx, req.SpecialistID); err != nil {
		if errors.Is(err, ErrSpecialistNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load specialist: %w", err)
	}

	var created *Appointment

	err := s.locker.WithSlotLock(ctx, slotKey(req.SpecialistID, req.Date, req.Time), func(lockCtx context.Context) error {
		appt, err := s.repo.CreateAppointment(lockCtx, CreateParams{
			PatientID:    req.PatientID,
			ServiceID:    req.ServiceID,
			SpecialistID: req.SpecialistID,
			Date:         req.Date,
			Time:         req.Time,
		})
		if err != nil {
			return err
		}
		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentBooked, map[string]any{
			"patient_id":    req.PatientID.String(),
			"specialist_id": req.SpecialistID.String(),
			"date":          req.Date.Format("2006-01-02"),
			"time":          req.Time.String(),
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.logger.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("specialist_id", req.SpecialistID.String()),
		zap.String("slot", req.Date.Format("2006-01-02")+" "+req.Time.String()))

	return created, nil
}

// Confirm moves a pending appointment to confirmed. Re-confirming is a
// benign user action and reports the current status instead of failing.
func (s *Service) Confirm(ctx context.Context, actor Actor, id uuid.UUID) (*TransitionResult, error) {
	if !actor.isDesk() {
		return nil, ErrUnauthorized
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusPending {
		return skipped(appt), nil
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, []Status{StatusPending}, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return s.reloadSkipped(ctx, id)
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentConfirmed, map[string]any{})
	return &TransitionResult{Appointment: updated, Outcome: OutcomeApplied}, nil
}

// Cancel frees the slot. Front desk may cancel any non-terminal
// appointment; a patient only their own unconfirmed booking. Cancelled
// rows stay in place for audit history.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*TransitionResult, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeManage(actor, appt); err != nil {
		return nil, err
	}
	if appt.Status == StatusCancelled || appt.Status == StatusFinalized {
		return skipped(appt), nil
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, []Status{StatusPending, StatusConfirmed}, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return s.reloadSkipped(ctx, id)
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"by_role": string(actor.Role),
	})
	return &TransitionResult{Appointment: updated, Outcome: OutcomeApplied}, nil
}

// Reschedule moves an appointment to a new slot, status unchanged.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, newDate time.Time, newTime TimeOfDay) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeManage(actor, appt); err != nil {
		return nil, err
	}
	if appt.Status == StatusCancelled || appt.Status == StatusFinalized {
		return nil, ErrInvalidTransition
	}
	if newDate.Before(today(s.now())) {
		return nil, ErrPastDate
	}

	oldDate, oldTime := appt.Date, appt.Time

	var updated *Appointment
	err = s.locker.WithSlotLock(ctx, slotKey(appt.SpecialistID, newDate, newTime), func(lockCtx context.Context) error {
		var uerr error
		updated, uerr = s.repo.UpdateAppointmentSlot(lockCtx, id, newDate, newTime, []Status{StatusPending, StatusConfirmed})
		return uerr
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		if errors.Is(err, ErrAppointmentNotFound) {
			// The guarded UPDATE matched no row: the appointment left the
			// movable statuses between load and write. Re-read to report
			// the right reason.
			cur, gerr := s.repo.GetAppointmentByID(ctx, id)
			if gerr != nil {
				return nil, gerr
			}
			if cur.Status == StatusCancelled || cur.Status == StatusFinalized {
				return nil, ErrInvalidTransition
			}
			return nil, err
		}
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentRescheduled, map[string]any{
		"from": oldDate.Format("2006-01-02") + " " + oldTime.String(),
		"to":   newDate.Format("2006-01-02") + " " + newTime.String(),
	})
	return updated, nil
}

// MarkAttended finalizes an appointment; only the assigned specialist
// may do it. A walk-in may be finalized without ever being confirmed.
func (s *Service) MarkAttended(ctx context.Context, actor Actor, id uuid.UUID) (*TransitionResult, error) {
	if actor.Role != RoleSpecialist || actor.SpecialistID == uuid.Nil {
		return nil, ErrUnauthorized
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.SpecialistID != actor.SpecialistID {
		return nil, ErrUnauthorized
	}
	if appt.Status == StatusFinalized || appt.Status == StatusCancelled {
		return skipped(appt), nil
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, []Status{StatusPending, StatusConfirmed}, StatusFinalized)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return s.reloadSkipped(ctx, id)
		}
		return nil, fmt.Errorf("mark attended: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentAttended, map[string]any{
		"specialist_id": actor.SpecialistID.String(),
	})
	return &TransitionResult{Appointment: updated, Outcome: OutcomeApplied}, nil
}

// Charge records the tendered amount against a confirmed or finalized
// appointment and finalizes it. The amount is what the desk actually
// collected; EstimatePrice pre-fills it but does not bind it.
func (s *Service) Charge(ctx context.Context, actor Actor, id uuid.UUID, amount decimal.Decimal) (*Appointment, error) {
	if !actor.isDesk() {
		return nil, ErrUnauthorized
	}
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.IsPaid {
		return nil, ErrAlreadyPaid
	}
	if appt.Status != StatusConfirmed && appt.Status != StatusFinalized {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.RecordPayment(ctx, id, amount)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// The guarded UPDATE matched no row: the appointment changed
			// between load and write. Re-read to report the right reason.
			cur, gerr := s.repo.GetAppointmentByID(ctx, id)
			if gerr != nil {
				return nil, gerr
			}
			if cur.IsPaid {
				return nil, ErrAlreadyPaid
			}
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("record payment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCharged, map[string]any{
		"amount": amount.StringFixed(2),
	})
	s.logger.Info("appointment charged",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("amount", amount.StringFixed(2)))

	return updated, nil
}

// GetAppointment retrieves a fully hydrated appointment by ID.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// MyAppointments lists the acting patient's bookings, newest first.
func (s *Service) MyAppointments(ctx context.Context, actor Actor) ([]AppointmentDetail, error) {
	return s.repo.ListByPatient(ctx, actor.ID)
}

// DeskBoard lists upcoming pending/confirmed appointments for the front
// desk, optionally narrowed to a single date.
func (s *Service) DeskBoard(ctx context.Context, actor Actor, onDate *time.Time) ([]AppointmentDetail, error) {
	if !actor.isDesk() {
		return nil, ErrUnauthorized
	}
	return s.repo.ListUpcoming(ctx, today(s.now()), onDate)
}

// SpecialistDay lists the acting specialist's open appointments for one
// date.
func (s *Service) SpecialistDay(ctx context.Context, actor Actor, date time.Time) ([]AppointmentDetail, error) {
	if actor.Role != RoleSpecialist || actor.SpecialistID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	return s.repo.ListSpecialistDay(ctx, actor.SpecialistID, date)
}

// SpecialistForAccount resolves the account/specialist binding for the
// identity layer.
func (s *Service) SpecialistForAccount(ctx context.Context, accountID uuid.UUID) (*Specialist, error) {
	return s.repo.GetSpecialistByAccount(ctx, accountID)
}

// CancelStaleBookings cancels pending appointments whose date has
// passed. Called periodically by the sweeper.
func (s *Service) CancelStaleBookings(ctx context.Context) (int, error) {
	ids, err := s.repo.CancelStalePending(ctx, today(s.now()))
	if err != nil {
		return 0, fmt.Errorf("cancel stale pending: %w", err)
	}
	for _, id := range ids {
		s.logEvent(ctx, id, EventAppointmentLapsed, map[string]any{
			"reason": "date passed while pending",
		})
	}
	return len(ids), nil
}

// authorizeManage applies the shared cancel/reschedule actor rule:
// desk roles manage any appointment, a patient only their own pending
// booking.
func authorizeManage(actor Actor, appt *Appointment) error {
	if actor.isDesk() {
		return nil
	}
	if actor.Role == RolePatient && appt.PatientID == actor.ID && appt.Status == StatusPending {
		return nil
	}
	return ErrUnauthorized
}

func (s *Service) reloadSkipped(ctx context.Context, id uuid.UUID) (*TransitionResult, error) {
	cur, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return skipped(cur), nil
}

func slotKey(specialistID uuid.UUID, date time.Time, t TimeOfDay) string {
	return fmt.Sprintf("%s:%s:%s", specialistID, date.Format("2006-01-02"), t)
}

func today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("insert event log",
			zap.String("event", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}
}
