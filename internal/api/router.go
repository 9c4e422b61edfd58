package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-booking/internal/booking"
)

// BookingService is the slice of the lifecycle manager the HTTP layer
// depends on.
type BookingService interface {
	Book(ctx context.Context, actor booking.Actor, req booking.BookingRequest) (*booking.Appointment, error)
	Confirm(ctx context.Context, actor booking.Actor, id uuid.UUID) (*booking.TransitionResult, error)
	Cancel(ctx context.Context, actor booking.Actor, id uuid.UUID) (*booking.TransitionResult, error)
	Reschedule(ctx context.Context, actor booking.Actor, id uuid.UUID, newDate time.Time, newTime booking.TimeOfDay) (*booking.Appointment, error)
	MarkAttended(ctx context.Context, actor booking.Actor, id uuid.UUID) (*booking.TransitionResult, error)
	Charge(ctx context.Context, actor booking.Actor, id uuid.UUID, amount decimal.Decimal) (*booking.Appointment, error)
	EstimatePrice(ctx context.Context, id uuid.UUID) (*booking.PriceQuote, error)
	AvailableSlots(ctx context.Context, specialistID uuid.UUID, date time.Time) ([]booking.TimeOfDay, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*booking.AppointmentDetail, error)
	MyAppointments(ctx context.Context, actor booking.Actor) ([]booking.AppointmentDetail, error)
	DeskBoard(ctx context.Context, actor booking.Actor, onDate *time.Time) ([]booking.AppointmentDetail, error)
	SpecialistDay(ctx context.Context, actor booking.Actor, date time.Time) ([]booking.AppointmentDetail, error)
	SpecialistForAccount(ctx context.Context, accountID uuid.UUID) (*booking.Specialist, error)
}

type RouterConfig struct {
	Service BookingService
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Everything else requires a resolved actor
	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware(cfg.Service))

		r.Get("/availability", availabilityHandler(cfg.Service, logger))

		r.Post("/appointments", bookAppointmentHandler(cfg.Service, logger))
		r.Get("/appointments/mine", myAppointmentsHandler(cfg.Service, logger))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service, logger))
		r.Get("/appointments/{id}/quote", quoteHandler(cfg.Service, logger))
		r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Service, logger))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service, logger))
		r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service, logger))
		r.Post("/appointments/{id}/attend", markAttendedHandler(cfg.Service, logger))
		r.Post("/appointments/{id}/charge", chargeAppointmentHandler(cfg.Service, logger))

		r.Get("/desk/appointments", deskBoardHandler(cfg.Service, logger))
		r.Get("/specialist/appointments", specialistDayHandler(cfg.Service, logger))
	})

	return r
}
