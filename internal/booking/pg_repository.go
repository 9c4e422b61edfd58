package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// pgDB is the subset of pgxpool.Pool the repository uses. Tests inject
// a pgxmock pool through it.
type pgDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db pgDB
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool}
}

// NewPgRepositoryWithDB allows injecting mocks for tests.
func NewPgRepositoryWithDB(db pgDB) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `
	id, patient_id, service_id, specialist_id,
	slot_date, to_char(slot_time, 'HH24:MI'),
	status, is_paid, final_price::text, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var slotTime string
	var finalPrice *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ServiceID,
		&a.SpecialistID,
		&a.Date,
		&slotTime,
		&a.Status,
		&a.IsPaid,
		&finalPrice,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if a.Time, err = ParseTimeOfDay(slotTime); err != nil {
		return nil, fmt.Errorf("slot time: %w", err)
	}
	if finalPrice != nil {
		p, err := decimal.NewFromString(*finalPrice)
		if err != nil {
			return nil, fmt.Errorf("final price: %w", err)
		}
		a.FinalPrice = &p
	}
	return &a, nil
}

func scanDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	var slotTime string
	var finalPrice *string

	err := row.Scan(
		&d.ID,
		&d.PatientID,
		&d.ServiceID,
		&d.SpecialistID,
		&d.Date,
		&slotTime,
		&d.Status,
		&d.IsPaid,
		&finalPrice,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.ServiceName,
		&d.SpecialistName,
		&d.PatientName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if d.Time, err = ParseTimeOfDay(slotTime); err != nil {
		return nil, fmt.Errorf("slot time: %w", err)
	}
	if finalPrice != nil {
		p, err := decimal.NewFromString(*finalPrice)
		if err != nil {
			return nil, fmt.Errorf("final price: %w", err)
		}
		d.FinalPrice = &p
	}
	return &d, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// mapPgError translates constraint violations into domain errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique_violation on the active-slot index
		return ErrSlotTaken
	case "23503": // foreign_key_violation
		switch {
		case strings.Contains(pgErr.ConstraintName, "service"):
			return ErrServiceNotFound
		case strings.Contains(pgErr.ConstraintName, "specialist"):
			return ErrSpecialistNotFound
		case strings.Contains(pgErr.ConstraintName, "patient"):
			return ErrPatientNotFound
		}
	}
	return err
}

// Interface methods

func (r *PgRepository) GetService(ctx context.Context, id uuid.UUID) (*ClinicService, error) {
	var s ClinicService
	var price string
	err := r.db.QueryRow(ctx, `
		SELECT id, name, description, price::text
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Description, &price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	if s.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("service price: %w", err)
	}
	return &s, nil
}

func scanSpecialist(row pgx.Row) (*Specialist, error) {
	var sp Specialist
	var accountID *uuid.UUID
	err := row.Scan(&sp.ID, &sp.FirstName, &sp.LastName, &sp.Specialty, &sp.Email, &accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSpecialistNotFound
		}
		return nil, err
	}
	sp.AccountID = accountID
	return &sp, nil
}

func (r *PgRepository) GetSpecialist(ctx context.Context, id uuid.UUID) (*Specialist, error) {
	return scanSpecialist(r.db.QueryRow(ctx, `
		SELECT id, first_name, last_name, specialty, email, account_id
		FROM specialists
		WHERE id = $1
	`, id))
}

func (r *PgRepository) GetSpecialistByAccount(ctx context.Context, accountID uuid.UUID) (*Specialist, error) {
	return scanSpecialist(r.db.QueryRow(ctx, `
		SELECT id, first_name, last_name, specialty, email, account_id
		FROM specialists
		WHERE account_id = $1
	`, accountID))
}

func (r *PgRepository) GetPatientProfile(ctx context.Context, patientID uuid.UUID) (*PatientProfile, error) {
	var p PatientProfile
	var dob *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT patient_id, name, email, date_of_birth
		FROM patient_profiles
		WHERE patient_id = $1
	`, patientID).Scan(&p.PatientID, &p.Name, &p.Email, &dob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	p.DateOfBirth = dob
	return &p, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, p CreateParams) (*Appointment, error) {
	id := uuid.New()

	appt, err := scanAppointment(r.db.QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, service_id, specialist_id, slot_date, slot_time, status, is_paid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', false, now(), now())
		RETURNING`+appointmentColumns,
		id, p.PatientID, p.ServiceID, p.SpecialistID, p.Date, p.Time.String()))
	if err != nil {
		return nil, mapPgError(err)
	}
	return appt, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.db.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	return scanDetail(r.db.QueryRow(ctx, detailQuery+` WHERE a.id = $1`, id))
}

const detailQuery = `
	SELECT a.id, a.patient_id, a.service_id, a.specialist_id,
	       a.slot_date, to_char(a.slot_time, 'HH24:MI'),
	       a.status, a.is_paid, a.final_price::text, a.created_at, a.updated_at,
	       s.name,
	       sp.first_name || ' ' || sp.last_name,
	       COALESCE(pp.name, '')
	FROM appointments a
	JOIN services s ON s.id = a.service_id
	JOIN specialists sp ON sp.id = a.specialist_id
	LEFT JOIN patient_profiles pp ON pp.patient_id = a.patient_id`

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Appointment, error) {
	return scanAppointment(r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING`+appointmentColumns,
		id, string(to), statusStrings(from)))
}

func (r *PgRepository) UpdateAppointmentSlot(ctx context.Context, id uuid.UUID, date time.Time, t TimeOfDay, from []Status) (*Appointment, error) {
	appt, err := scanAppointment(r.db.QueryRow(ctx, `
		UPDATE appointments
		SET slot_date = $2,
		    slot_time = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($4)
		RETURNING`+appointmentColumns,
		id, date, t.String(), statusStrings(from)))
	if err != nil {
		return nil, mapPgError(err)
	}
	return appt, nil
}

func (r *PgRepository) RecordPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Appointment, error) {
	return scanAppointment(r.db.QueryRow(ctx, `
		UPDATE appointments
		SET is_paid = true,
		    final_price = $2,
		    status = 'finalized',
		    updated_at = now()
		WHERE id = $1
		  AND NOT is_paid
		  AND status IN ('confirmed', 'finalized')
		RETURNING`+appointmentColumns,
		id, amount.StringFixed(2)))
}

func (r *PgRepository) BookedTimes(ctx context.Context, specialistID uuid.UUID, date time.Time, statuses []Status) ([]TimeOfDay, error) {
	rows, err := r.db.Query(ctx, `
		SELECT to_char(slot_time, 'HH24:MI')
		FROM appointments
		WHERE specialist_id = $1
		  AND slot_date = $2
		  AND status = ANY($3)
		ORDER BY slot_time
	`, specialistID, date, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TimeOfDay
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		t, err := ParseTimeOfDay(s)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	return r.listDetails(ctx, detailQuery+`
		WHERE a.patient_id = $1
		ORDER BY a.slot_date DESC, a.slot_time DESC
	`, patientID)
}

func (r *PgRepository) ListUpcoming(ctx context.Context, from time.Time, onDate *time.Time) ([]AppointmentDetail, error) {
	if onDate != nil {
		return r.listDetails(ctx, detailQuery+`
			WHERE a.slot_date = $1
			  AND a.status IN ('pending', 'confirmed')
			ORDER BY a.slot_date, a.slot_time, sp.last_name
		`, *onDate)
	}
	return r.listDetails(ctx, detailQuery+`
		WHERE a.slot_date >= $1
		  AND a.status IN ('pending', 'confirmed')
		ORDER BY a.slot_date, a.slot_time, sp.last_name
	`, from)
}

func (r *PgRepository) ListSpecialistDay(ctx context.Context, specialistID uuid.UUID, date time.Time) ([]AppointmentDetail, error) {
	return r.listDetails(ctx, detailQuery+`
		WHERE a.specialist_id = $1
		  AND a.slot_date = $2
		  AND a.status IN ('pending', 'confirmed')
		ORDER BY a.slot_time
	`, specialistID, date)
}

func (r *PgRepository) listDetails(ctx context.Context, query string, args ...any) ([]AppointmentDetail, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *PgRepository) CancelStalePending(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    updated_at = now()
		WHERE status = 'pending'
		  AND slot_date < $1
		RETURNING id
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
