package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusFinalized Status = "finalized"
)

// ActiveStatuses are the statuses that occupy a slot. A cancelled
// appointment frees its slot; everything else holds it.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusFinalized}

type Role string

const (
	RolePatient    Role = "patient"
	RoleStaff      Role = "staff"
	RoleAdmin      Role = "admin"
	RoleSpecialist Role = "specialist"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleStaff, RoleAdmin, RoleSpecialist:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is the authenticated caller, resolved once per request by the
// identity layer. SpecialistID is set only for specialist accounts.
type Actor struct {
	ID           uuid.UUID
	Role         Role
	SpecialistID uuid.UUID
}

func (a Actor) isDesk() bool {
	return a.Role == RoleStaff || a.Role == RoleAdmin
}

// TimeOfDay is a wall-clock slot time with minute precision, stored as
// minutes since midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay accepts "HH:MM" (and "HH:MM:SS", seconds ignored).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
			return 0, fmt.Errorf("parse time of day %q: %w", s, err)
		}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return NewTimeOfDay(h, m), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// ClinicService is a bookable catalog entry with its list price.
type ClinicService struct {
	ID          uuid.UUID
	Name        string
	Description string
	Price       decimal.Decimal
}

type Specialist struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Specialty string
	Email     string
	// AccountID binds the specialist to its auth account. Resolved at
	// login, not re-derived per request.
	AccountID *uuid.UUID
}

func (s Specialist) FullName() string {
	return s.FirstName + " " + s.LastName
}

type PatientProfile struct {
	PatientID   uuid.UUID
	Name        string
	Email       string
	DateOfBirth *time.Time
}

type Appointment struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	ServiceID    uuid.UUID
	SpecialistID uuid.UUID
	Date         time.Time // calendar date, midnight UTC
	Time         TimeOfDay
	Status       Status
	IsPaid       bool
	FinalPrice   *decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AppointmentDetail hydrates an appointment with the names the panels
// display.
type AppointmentDetail struct {
	Appointment
	ServiceName    string
	SpecialistName string
	PatientName    string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// PriceQuote is the charge preview for an appointment.
type PriceQuote struct {
	AppointmentID  uuid.UUID
	BasePrice      decimal.Decimal
	DiscountRate   decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalPrice     decimal.Decimal
}
