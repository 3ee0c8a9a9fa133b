package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carelink/scheduling/internal/booking"
	"github.com/carelink/scheduling/internal/metrics"
	"github.com/carelink/scheduling/internal/schedule"
	"github.com/carelink/scheduling/internal/wallclock"
)

// ScheduleService is the availability surface the handlers need.
type ScheduleService interface {
	SetWeeklyRule(ctx context.Context, doctorID uuid.UUID, dayOfWeek int, start, end wallclock.TimeOfDay, slotMinutes int) (*schedule.WeeklyRule, error)
	ListRules(ctx context.Context, doctorID uuid.UUID) ([]schedule.WeeklyRule, error)
	DeactivateRule(ctx context.Context, doctorID, ruleID uuid.UUID) error
	SetException(ctx context.Context, exc schedule.DateException) (*schedule.DateException, error)
	DeleteException(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) error
	GenerateSlots(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) ([]schedule.Slot, error)
}

// BookingService is the ledger surface the handlers need.
type BookingService interface {
	Hold(ctx context.Context, doctorID uuid.UUID, date wallclock.Date, start wallclock.TimeOfDay, holderID uuid.UUID) (*booking.SlotHold, error)
	Book(ctx context.Context, p booking.BookParams) (*booking.Appointment, error)
	Cancel(ctx context.Context, apptID, actorID uuid.UUID, reason string) (*booking.Appointment, error)
	SettlePayment(ctx context.Context, orderRef, signature string) (*booking.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]booking.Appointment, error)
}

type RouterConfig struct {
	Schedule ScheduleService
	Booking  BookingService
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	// Health and metrics endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	// Public slot discovery
	r.Get("/doctors/{id}/slots", getSlotsHandler(cfg.Schedule))

	// Payment provider callback
	r.Post("/payments/webhook", paymentWebhookHandler(cfg.Booking))

	// Authenticated surface
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)

		// Doctor availability management
		r.Put("/doctors/{id}/availability", setAvailabilityHandler(cfg.Schedule))
		r.Get("/doctors/{id}/availability", listAvailabilityHandler(cfg.Schedule))
		r.Delete("/doctors/{id}/availability/{ruleId}", deactivateRuleHandler(cfg.Schedule))
		r.Post("/doctors/{id}/availability/exceptions", setExceptionHandler(cfg.Schedule))
		r.Delete("/doctors/{id}/availability/exceptions/{date}", deleteExceptionHandler(cfg.Schedule))

		// Booking
		r.Post("/appointments/hold", holdHandler(cfg.Booking))
		r.Post("/appointments/book", bookHandler(cfg.Booking))
		r.Put("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Booking))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Booking))
		r.Get("/patients/{id}/appointments", listPatientAppointmentsHandler(cfg.Booking))
	})

	return r
}
