package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/carelink/scheduling/internal/wallclock"
)

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusConfirmed      Status = "confirmed"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
)

// Live reports whether the status still occupies its slot. Cancelled and
// expired appointments release the slot; completed ones keep it, the time
// has passed anyway.
func (s Status) Live() bool {
	switch s {
	case StatusPendingPayment, StatusConfirmed, StatusCompleted:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

type ConsultationType string

const (
	ConsultationFree ConsultationType = "free"
	ConsultationPaid ConsultationType = "paid"
)

func (t ConsultationType) Valid() bool {
	return t == ConsultationFree || t == ConsultationPaid
}

type Appointment struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	Date         wallclock.Date
	Start        wallclock.TimeOfDay
	End          wallclock.TimeOfDay
	Status       Status
	Type         ConsultationType
	PaymentRef   *string
	CancelReason *string
	// ExpiresAt bounds the pending_payment state. It is kept on the row
	// after confirmation; only status gates whether it is consulted.
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SlotHold is the short-lived reservation taken while a paid booking goes
// through checkout. A hold past ExpiresAt is dead the moment any reader
// looks at it; rows are physically removed lazily.
type SlotHold struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      wallclock.Date
	Start     wallclock.TimeOfDay
	End       wallclock.TimeOfDay
	HolderID  uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (h SlotHold) ExpiredAt(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
