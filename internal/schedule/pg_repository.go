package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/scheduling/internal/wallclock"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanRule(row pgx.Row) (*WeeklyRule, error) {
	var r WeeklyRule
	var start, end int

	err := row.Scan(
		&r.ID,
		&r.DoctorID,
		&r.DayOfWeek,
		&start,
		&end,
		&r.SlotMinutes,
		&r.Active,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}

	r.Start = wallclock.TimeOfDay(start)
	r.End = wallclock.TimeOfDay(end)
	return &r, nil
}

func scanException(row pgx.Row) (*DateException, error) {
	var e DateException
	var day time.Time
	var start, end, slotMinutes *int

	err := row.Scan(
		&e.DoctorID,
		&day,
		&e.Available,
		&start,
		&end,
		&slotMinutes,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExceptionNotFound
		}
		return nil, err
	}

	e.Date = wallclock.DateOf(day)
	if start != nil {
		t := wallclock.TimeOfDay(*start)
		e.Start = &t
	}
	if end != nil {
		t := wallclock.TimeOfDay(*end)
		e.End = &t
	}
	e.SlotMinutes = slotMinutes
	return &e, nil
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) InsertRule(ctx context.Context, rule WeeklyRule) (*WeeklyRule, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO weekly_rules (id, doctor_id, day_of_week, start_min, end_min, slot_minutes, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, now(), now())
		RETURNING id, doctor_id, day_of_week, start_min, end_min, slot_minutes, active, created_at, updated_at
	`, id, rule.DoctorID, rule.DayOfWeek, int(rule.Start), int(rule.End), rule.SlotMinutes)

	return scanRule(row)
}

func (r *PgRepository) ListRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_min, end_min, slot_minutes, active, created_at, updated_at
		FROM weekly_rules
		WHERE doctor_id = $1
		ORDER BY day_of_week, start_min
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRules(rows)
}

func (r *PgRepository) ListActiveRulesForDay(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]WeeklyRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_min, end_min, slot_minutes, active, created_at, updated_at
		FROM weekly_rules
		WHERE doctor_id = $1
		  AND day_of_week = $2
		  AND active
		ORDER BY start_min
	`, doctorID, dayOfWeek)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRules(rows)
}

func collectRules(rows pgx.Rows) ([]WeeklyRule, error) {
	var result []WeeklyRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) DeactivateRule(ctx context.Context, doctorID, ruleID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE weekly_rules
		SET active = false,
		    updated_at = now()
		WHERE id = $1
		  AND doctor_id = $2
		  AND active
	`, ruleID, doctorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *PgRepository) UpsertException(ctx context.Context, exc DateException) (*DateException, error) {
	var start, end *int
	if exc.Start != nil {
		v := int(*exc.Start)
		start = &v
	}
	if exc.End != nil {
		v := int(*exc.End)
		end = &v
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO date_exceptions (doctor_id, day, available, start_min, end_min, slot_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (doctor_id, day) DO UPDATE
		SET available    = EXCLUDED.available,
		    start_min    = EXCLUDED.start_min,
		    end_min      = EXCLUDED.end_min,
		    slot_minutes = EXCLUDED.slot_minutes,
		    updated_at   = now()
		RETURNING doctor_id, day, available, start_min, end_min, slot_minutes, created_at, updated_at
	`, exc.DoctorID, exc.Date.Time(), exc.Available, start, end, exc.SlotMinutes)

	return scanException(row)
}

func (r *PgRepository) GetException(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) (*DateException, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT doctor_id, day, available, start_min, end_min, slot_minutes, created_at, updated_at
		FROM date_exceptions
		WHERE doctor_id = $1
		  AND day = $2
	`, doctorID, date.Time())
	return scanException(row)
}

func (r *PgRepository) DeleteException(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM date_exceptions
		WHERE doctor_id = $1
		  AND day = $2
	`, doctorID, date.Time())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExceptionNotFound
	}
	return nil
}
