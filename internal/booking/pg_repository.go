package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/scheduling/internal/wallclock"
)

// PgRepository enforces the one-winner-per-slot invariant with the
// slot_claims primary key: every hold or appointment first inserts the
// (doctor_id, slot_date, start_min) claim row inside its transaction, so the
// database decides the race, not application code.
type PgRepository struct {
	pool *pgxpool.Pool

	// now is swapped out in tests so expiry comparisons run on a fixed clock.
	now func() time.Time
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, now: time.Now}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Helpers

func scanHold(row pgx.Row) (*SlotHold, error) {
	var h SlotHold
	var day time.Time
	var start, end int

	err := row.Scan(
		&h.ID,
		&h.DoctorID,
		&day,
		&start,
		&end,
		&h.HolderID,
		&h.ExpiresAt,
		&h.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHoldNotFound
		}
		return nil, err
	}

	h.Date = wallclock.DateOf(day)
	h.Start = wallclock.TimeOfDay(start)
	h.End = wallclock.TimeOfDay(end)
	return &h, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var day time.Time
	var start, end int
	var paymentRef, cancelReason *string
	var expiresAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&day,
		&start,
		&end,
		&a.Status,
		&a.Type,
		&paymentRef,
		&cancelReason,
		&expiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = wallclock.DateOf(day)
	a.Start = wallclock.TimeOfDay(start)
	a.End = wallclock.TimeOfDay(end)
	a.PaymentRef = paymentRef
	a.CancelReason = cancelReason
	a.ExpiresAt = expiresAt
	return &a, nil
}

const appointmentColumns = `id, patient_id, doctor_id, slot_date, start_min, end_min, status, consultation_type, payment_ref, cancel_reason, expires_at, created_at, updated_at`

// purgeExpiredHold lazily removes a dead hold squatting on the key so the
// claim can be retaken in the same transaction.
func purgeExpiredHold(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID, date wallclock.Date, start wallclock.TimeOfDay, now time.Time) error {
	_, err := tx.Exec(ctx, `
		WITH purged AS (
			DELETE FROM slot_holds
			WHERE doctor_id = $1
			  AND slot_date = $2
			  AND start_min = $3
			  AND expires_at <= $4
			RETURNING doctor_id, slot_date, start_min
		)
		DELETE FROM slot_claims c
		USING purged p
		WHERE c.doctor_id = p.doctor_id
		  AND c.slot_date = p.slot_date
		  AND c.start_min = p.start_min
	`, doctorID, date.Time(), int(start), now)
	if err != nil {
		return fmt.Errorf("purge expired hold: %w", err)
	}
	return nil
}

func claimSlot(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID, date wallclock.Date, start wallclock.TimeOfDay) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO slot_claims (doctor_id, slot_date, start_min)
		VALUES ($1, $2, $3)
	`, doctorID, date.Time(), int(start))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("claim slot: %w", err)
	}
	return nil
}

func releaseSlotClaim(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID, date wallclock.Date, start wallclock.TimeOfDay) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM slot_claims
		WHERE doctor_id = $1
		  AND slot_date = $2
		  AND start_min = $3
	`, doctorID, date.Time(), int(start))
	if err != nil {
		return fmt.Errorf("release slot claim: %w", err)
	}
	return nil
}

// Interface methods

func (r *PgRepository) InsertHold(ctx context.Context, hold SlotHold) (*SlotHold, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := purgeExpiredHold(ctx, tx, hold.DoctorID, hold.Date, hold.Start, r.now()); err != nil {
		return nil, err
	}
	if err := claimSlot(ctx, tx, hold.DoctorID, hold.Date, hold.Start); err != nil {
		return nil, err
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO slot_holds (id, doctor_id, slot_date, start_min, end_min, holder_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING id, doctor_id, slot_date, start_min, end_min, holder_id, expires_at, created_at
	`, id, hold.DoctorID, hold.Date.Time(), int(hold.Start), int(hold.End), hold.HolderID, hold.ExpiresAt)

	created, err := scanHold(row)
	if err != nil {
		return nil, fmt.Errorf("insert hold: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetHold(ctx context.Context, id uuid.UUID) (*SlotHold, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, slot_date, start_min, end_min, holder_id, expires_at, created_at
		FROM slot_holds
		WHERE id = $1
	`, id)
	return scanHold(row)
}

func (r *PgRepository) ConvertHold(ctx context.Context, holdID uuid.UUID, appt Appointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, doctor_id, slot_date, start_min, end_min, holder_id, expires_at, created_at
		FROM slot_holds
		WHERE id = $1
		FOR UPDATE
	`, holdID)

	hold, err := scanHold(row)
	if err != nil {
		return nil, err
	}

	now := r.now()
	if hold.ExpiredAt(now) {
		// Dead hold: free the key here rather than leaving it to the sweep.
		if _, err := tx.Exec(ctx, `DELETE FROM slot_holds WHERE id = $1`, holdID); err != nil {
			return nil, fmt.Errorf("drop expired hold: %w", err)
		}
		if err := releaseSlotClaim(ctx, tx, hold.DoctorID, hold.Date, hold.Start); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return nil, ErrHoldExpired
	}

	if _, err := tx.Exec(ctx, `DELETE FROM slot_holds WHERE id = $1`, holdID); err != nil {
		return nil, fmt.Errorf("consume hold: %w", err)
	}

	created, err := insertAppointmentRow(ctx, tx, appt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) InsertAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := purgeExpiredHold(ctx, tx, appt.DoctorID, appt.Date, appt.Start, r.now()); err != nil {
		return nil, err
	}
	if err := claimSlot(ctx, tx, appt.DoctorID, appt.Date, appt.Start); err != nil {
		return nil, err
	}

	created, err := insertAppointmentRow(ctx, tx, appt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func insertAppointmentRow(ctx context.Context, tx pgx.Tx, appt Appointment) (*Appointment, error) {
	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_date, start_min, end_min, status, consultation_type, payment_ref, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, appt.PatientID, appt.DoctorID, appt.Date.Time(), int(appt.Start), int(appt.End), appt.Status, appt.Type, appt.PaymentRef, appt.ExpiresAt)

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByPaymentRef(ctx context.Context, ref string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE payment_ref = $1
	`, ref)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY slot_date DESC, start_min DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string, releaseSlot bool) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status        = $2,
		    cancel_reason = COALESCE($4, cancel_reason),
		    updated_at    = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from, reason)

	updated, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	if releaseSlot {
		if err := releaseSlotClaim(ctx, tx, updated.DoctorID, updated.Date, updated.Start); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending_payment'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) FindElapsedConfirmed(ctx context.Context, now time.Time) ([]Appointment, error) {
	// end_min is minutes past the slot_date's midnight.
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND slot_date + make_interval(mins => end_min) < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		WITH purged AS (
			DELETE FROM slot_holds
			WHERE expires_at <= $1
			RETURNING doctor_id, slot_date, start_min
		)
		DELETE FROM slot_claims c
		USING purged p
		WHERE c.doctor_id = p.doctor_id
		  AND c.slot_date = p.slot_date
		  AND c.start_min = p.start_min
	`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired holds: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) OccupiedStarts(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) ([]wallclock.TimeOfDay, error) {
	// A claim is live unless its only backer is an expired hold.
	rows, err := r.pool.Query(ctx, `
		SELECT c.start_min
		FROM slot_claims c
		LEFT JOIN slot_holds h
		       ON h.doctor_id = c.doctor_id
		      AND h.slot_date = c.slot_date
		      AND h.start_min = c.start_min
		WHERE c.doctor_id = $1
		  AND c.slot_date = $2
		  AND (h.expires_at IS NULL OR h.expires_at > $3)
		ORDER BY c.start_min
	`, doctorID, date.Time(), r.now())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []wallclock.TimeOfDay
	for rows.Next() {
		var start int
		if err := rows.Scan(&start); err != nil {
			return nil, err
		}
		result = append(result, wallclock.TimeOfDay(start))
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
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
