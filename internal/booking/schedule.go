package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DayTemplate is the fixed daily grid of candidate slots. End is
// inclusive: the default clinic day offers hourly slots from 09:00
// through 17:00.
type DayTemplate struct {
	Start TimeOfDay
	End   TimeOfDay
	Step  time.Duration
}

func DefaultTemplate() DayTemplate {
	return DayTemplate{
		Start: NewTimeOfDay(9, 0),
		End:   NewTimeOfDay(17, 0),
		Step:  time.Hour,
	}
}

// NewDayTemplate builds a template from configured "HH:MM" bounds, so
// every binary derives its schedule the same way.
func NewDayTemplate(start, end string, step time.Duration) (DayTemplate, error) {
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return DayTemplate{}, fmt.Errorf("day start: %w", err)
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return DayTemplate{}, fmt.Errorf("day end: %w", err)
	}
	return DayTemplate{Start: s, End: e, Step: step}, nil
}

// Slots expands the template into its ordered candidate times.
func (t DayTemplate) Slots() []TimeOfDay {
	step := TimeOfDay(t.Step / time.Minute)
	if step <= 0 {
		step = 60
	}

	var slots []TimeOfDay
	for cur := t.Start; cur <= t.End; cur += step {
		slots = append(slots, cur)
	}
	return slots
}

// AvailableSlots returns the template slots not held by an active
// appointment for the specialist on the given date, in template order.
// An unknown specialist yields an empty set: no availability is a valid
// answer, not a failure. The result is a snapshot; the create-time
// uniqueness constraint is what actually prevents double booking.
func (s *Service) AvailableSlots(ctx context.Context, specialistID uuid.UUID, date time.Time) ([]TimeOfDay, error) {
	if _, err := s.repo.GetSpecialist(ctx, specialistID); err != nil {
		if errors.Is(err, ErrSpecialistNotFound) {
			return []TimeOfDay{}, nil
		}
		return nil, fmt.Errorf("load specialist: %w", err)
	}

	booked, err := s.repo.BookedTimes(ctx, specialistID, date, ActiveStatuses)
	if err != nil {
		return nil, fmt.Errorf("booked times: %w", err)
	}

	taken := make(map[TimeOfDay]struct{}, len(booked))
	for _, t := range booked {
		taken[t] = struct{}{}
	}

	open := make([]TimeOfDay, 0)
	for _, slot := range s.template.Slots() {
		if _, ok := taken[slot]; !ok {
			open = append(open, slot)
		}
	}
	return open, nil
}
