package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/carelink/scheduling/internal/schedule"
	"github.com/carelink/scheduling/internal/wallclock"
)

type SetAvailabilityRequest struct {
	DayOfWeek           int                 `json:"day_of_week"`
	StartTime           wallclock.TimeOfDay `json:"start_time"`
	EndTime             wallclock.TimeOfDay `json:"end_time"`
	SlotDurationMinutes int                 `json:"slot_duration_minutes"`
}

type RuleResponse struct {
	ID                  uuid.UUID           `json:"id"`
	DoctorID            uuid.UUID           `json:"doctor_id"`
	DayOfWeek           int                 `json:"day_of_week"`
	StartTime           wallclock.TimeOfDay `json:"start_time"`
	EndTime             wallclock.TimeOfDay `json:"end_time"`
	SlotDurationMinutes int                 `json:"slot_duration_minutes"`
	Active              bool                `json:"active"`
}

func ruleResponse(r schedule.WeeklyRule) RuleResponse {
	return RuleResponse{
		ID:                  r.ID,
		DoctorID:            r.DoctorID,
		DayOfWeek:           r.DayOfWeek,
		StartTime:           r.Start,
		EndTime:             r.End,
		SlotDurationMinutes: r.SlotMinutes,
		Active:              r.Active,
	}
}

type ExceptionRequest struct {
	Date                wallclock.Date       `json:"date"`
	IsAvailable         bool                 `json:"is_available"`
	StartTime           *wallclock.TimeOfDay `json:"start_time,omitempty"`
	EndTime             *wallclock.TimeOfDay `json:"end_time,omitempty"`
	SlotDurationMinutes *int                 `json:"slot_duration_minutes,omitempty"`
}

type ExceptionResponse struct {
	DoctorID            uuid.UUID            `json:"doctor_id"`
	Date                wallclock.Date       `json:"date"`
	IsAvailable         bool                 `json:"is_available"`
	StartTime           *wallclock.TimeOfDay `json:"start_time,omitempty"`
	EndTime             *wallclock.TimeOfDay `json:"end_time,omitempty"`
	SlotDurationMinutes *int                 `json:"slot_duration_minutes,omitempty"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID       `json:"doctor_id"`
	Date     wallclock.Date  `json:"date"`
	Slots    []schedule.Slot `json:"slots"`
}

type HoldRequest struct {
	DoctorID  string              `json:"doctor_id"`
	Date      wallclock.Date      `json:"date"`
	StartTime wallclock.TimeOfDay `json:"start_time"`
}

type HoldResponse struct {
	HoldID    uuid.UUID `json:"hold_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type BookRequest struct {
	DoctorID         string              `json:"doctor_id"`
	Date             wallclock.Date      `json:"date"`
	StartTime        wallclock.TimeOfDay `json:"start_time"`
	ConsultationType string              `json:"consultation_type"`
	HoldID           *string             `json:"hold_id,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type PaymentWebhookRequest struct {
	OrderRef  string `json:"order_ref"`
	Signature string `json:"signature"`
}

type AppointmentResponse struct {
	ID               uuid.UUID           `json:"id"`
	PatientID        uuid.UUID           `json:"patient_id"`
	DoctorID         uuid.UUID           `json:"doctor_id"`
	Date             wallclock.Date      `json:"date"`
	StartTime        wallclock.TimeOfDay `json:"start_time"`
	EndTime          wallclock.TimeOfDay `json:"end_time"`
	Status           string              `json:"status"`
	ConsultationType string              `json:"consultation_type"`
	PaymentRef       *string             `json:"payment_ref,omitempty"`
	ExpiresAt        *time.Time          `json:"expires_at,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
