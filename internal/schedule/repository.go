package schedule

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/carelink/scheduling/internal/wallclock"
)

var (
	ErrDoctorNotFound    = errors.New("doctor not found")
	ErrRuleNotFound      = errors.New("availability rule not found")
	ErrExceptionNotFound = errors.New("date exception not found")
)

// Repository contains all DB interactions needed by the schedule service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	InsertRule(ctx context.Context, rule WeeklyRule) (*WeeklyRule, error)
	ListRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error)
	ListActiveRulesForDay(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]WeeklyRule, error)
	DeactivateRule(ctx context.Context, doctorID, ruleID uuid.UUID) error

	// UpsertException replaces any prior exception for (doctorID, date).
	UpsertException(ctx context.Context, exc DateException) (*DateException, error)
	GetException(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) (*DateException, error)
	DeleteException(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) error
}

// OccupancySource answers which slot start times are already taken on a date.
// The booking ledger implements this; the generator only subtracts the set.
type OccupancySource interface {
	OccupiedStarts(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) ([]wallclock.TimeOfDay, error)
}
