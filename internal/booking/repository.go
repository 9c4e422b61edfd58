package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrServiceNotFound     = errors.New("service not found")
	ErrSpecialistNotFound  = errors.New("specialist not found")
	ErrPatientNotFound     = errors.New("patient profile not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken is returned when (specialist, date, time) already has
	// a non-cancelled appointment.
	ErrSlotTaken = errors.New("slot already has an active appointment")
)

// CreateParams describes a new pending booking.
type CreateParams struct {
	PatientID    uuid.UUID
	ServiceID    uuid.UUID
	SpecialistID uuid.UUID
	Date         time.Time
	Time         TimeOfDay
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetService(ctx context.Context, id uuid.UUID) (*ClinicService, error)
	GetSpecialist(ctx context.Context, id uuid.UUID) (*Specialist, error)
	GetSpecialistByAccount(ctx context.Context, accountID uuid.UUID) (*Specialist, error)
	GetPatientProfile(ctx context.Context, patientID uuid.UUID) (*PatientProfile, error)

	// CreateAppointment inserts a pending appointment. The existence
	// check and the insert are a single statement; a concurrent booking
	// of the same slot surfaces as ErrSlotTaken.
	CreateAppointment(ctx context.Context, p CreateParams) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)

	// UpdateAppointmentStatus is a compare-and-swap: the row is updated
	// only while its status is one of from. ErrAppointmentNotFound means
	// no row matched.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Appointment, error)

	// UpdateAppointmentSlot moves an appointment to a new (date, time)
	// while its status is still one of from. A concurrent transition out
	// of those statuses surfaces as ErrAppointmentNotFound; an occupied
	// target slot as ErrSlotTaken.
	UpdateAppointmentSlot(ctx context.Context, id uuid.UUID, date time.Time, t TimeOfDay, from []Status) (*Appointment, error)

	// RecordPayment marks the appointment paid with the tendered amount
	// and finalizes it. The guard conditions are part of the statement.
	RecordPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Appointment, error)

	// BookedTimes lists slot times held by appointments in the given
	// statuses for one specialist and date, in ascending order.
	BookedTimes(ctx context.Context, specialistID uuid.UUID, date time.Time, statuses []Status) ([]TimeOfDay, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error)
	ListUpcoming(ctx context.Context, from time.Time, onDate *time.Time) ([]AppointmentDetail, error)
	ListSpecialistDay(ctx context.Context, specialistID uuid.UUID, date time.Time) ([]AppointmentDetail, error)

	// Sweeper
	CancelStalePending(ctx context.Context, before time.Time) ([]uuid.UUID, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
