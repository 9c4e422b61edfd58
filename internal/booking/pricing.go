package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Patients get a flat 20% off when charged on their birthday.
var birthdayDiscountRate = decimal.RequireFromString("0.20")

// birthdayRate returns the discount rate for a profile on a given day.
// A missing profile or date of birth means no discount, never an error.
func birthdayRate(profile *PatientProfile, todayDate time.Time) decimal.Decimal {
	if profile == nil || profile.DateOfBirth == nil {
		return decimal.Zero
	}
	dob := *profile.DateOfBirth
	if dob.Month() == todayDate.Month() && dob.Day() == todayDate.Day() {
		return birthdayDiscountRate
	}
	return decimal.Zero
}

// EstimatePrice previews the charge for an appointment: base price from
// the service, birthday discount from the patient profile. Pure
// computation, no mutation; the desk uses it to pre-fill the charge
// form.
func (s *Service) EstimatePrice(ctx context.Context, id uuid.UUID) (*PriceQuote, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	svc, err := s.repo.GetService(ctx, appt.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	profile, err := s.repo.GetPatientProfile(ctx, appt.PatientID)
	if err != nil && !errors.Is(err, ErrPatientNotFound) {
		return nil, fmt.Errorf("load patient profile: %w", err)
	}

	rate := birthdayRate(profile, today(s.now()))
	discount := svc.Price.Mul(rate).Round(2)

	return &PriceQuote{
		AppointmentID:  appt.ID,
		BasePrice:      svc.Price,
		DiscountRate:   rate,
		DiscountAmount: discount,
		FinalPrice:     svc.Price.Sub(discount),
	}, nil
}
