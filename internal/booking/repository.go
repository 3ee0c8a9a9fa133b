package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/scheduling/internal/wallclock"
)

var (
	// ErrSlotTaken is the routine outcome of losing the claim race: another
	// hold or live appointment owns the (doctor, date, start) key.
	ErrSlotTaken = errors.New("slot already taken")

	ErrHoldNotFound        = errors.New("hold not found")
	ErrHoldExpired         = errors.New("hold has expired")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository is the ledger's storage contract. Claiming a slot must be a
// single database-enforced operation: implementations insert into the shared
// claims key under a uniqueness constraint and report ErrSlotTaken on
// conflict, never check-then-insert.
type Repository interface {
	// InsertHold claims the slot key and records the hold in one
	// transaction. An expired hold squatting on the key is purged inside
	// the same transaction before the claim is attempted.
	InsertHold(ctx context.Context, hold SlotHold) (*SlotHold, error)
	GetHold(ctx context.Context, id uuid.UUID) (*SlotHold, error)

	// ConvertHold atomically deletes the hold and inserts the appointment
	// over the same claim. ErrHoldNotFound if the hold row is gone.
	ConvertHold(ctx context.Context, holdID uuid.UUID, appt Appointment) (*Appointment, error)

	// InsertAppointment claims the slot key directly (no prior hold).
	InsertAppointment(ctx context.Context, appt Appointment) (*Appointment, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByPaymentRef(ctx context.Context, ref string) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// UpdateStatus is a compare-and-set on the status column. releaseSlot
	// additionally frees the claim key in the same transaction.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string, releaseSlot bool) (*Appointment, error)

	// Sweeps.
	FindExpiredPending(ctx context.Context, now time.Time) ([]Appointment, error)
	FindElapsedConfirmed(ctx context.Context, now time.Time) ([]Appointment, error)
	DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error)

	// OccupiedStarts feeds the slot generator: start times held by live
	// appointments or non-expired holds.
	OccupiedStarts(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) ([]wallclock.TimeOfDay, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
