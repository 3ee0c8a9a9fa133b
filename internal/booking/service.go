package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/scheduling/internal/cache"
	"github.com/carelink/scheduling/internal/metrics"
	"github.com/carelink/scheduling/internal/schedule"
	"github.com/carelink/scheduling/internal/wallclock"
)

const (
	EventHoldPlaced           = "HOLD_PLACED"
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentExpired   = "APPOINTMENT_EXPIRED"
	EventPaymentFailed        = "PAYMENT_FAILED"
)

var (
	ErrPastSlot            = errors.New("slot is in the past")
	ErrHoldRequired        = errors.New("paid booking requires a hold")
	ErrHoldNotOwned        = errors.New("hold belongs to another patient")
	ErrHoldMismatch        = errors.New("hold does not match the requested slot")
	ErrBadConsultationType = errors.New("consultation type must be free or paid")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrCancellationWindow  = errors.New("cancellation window has closed")
	ErrCancelNotAllowed    = errors.New("only the patient or the doctor may cancel")
	ErrPaymentWindowClosed = errors.New("payment arrived after the hold window closed")
	ErrPaymentNotExpected  = errors.New("appointment is not awaiting payment")
)

// SlotSource answers which slots are currently offered. The ledger consults
// it so a hold or direct booking can only target a slot the generator would
// actually hand out.
type SlotSource interface {
	GenerateSlots(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) ([]schedule.Slot, error)
}

type Config struct {
	HoldTTL            time.Duration
	CancellationWindow time.Duration
	ConsultationFee    int64
}

type Service struct {
	repo    Repository
	slots   SlotSource
	gate    PaymentGate
	notify  NotificationTrigger
	cache   cache.SlotCache
	metrics *metrics.Metrics
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, slots SlotSource, gate PaymentGate, notify NotificationTrigger, slotCache cache.SlotCache, m *metrics.Metrics, cfg Config, log zerolog.Logger) *Service {
	if slotCache == nil {
		slotCache = cache.Noop{}
	}
	return &Service{
		repo:    repo,
		slots:   slots,
		gate:    gate,
		notify:  notify,
		cache:   slotCache,
		metrics: m,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Hold reserves a slot for the hold TTL while a paid booking goes through
// checkout. The claim itself is decided by the database constraint; losing
// the race surfaces as ErrSlotTaken.
func (s *Service) Hold(ctx context.Context, doctorID uuid.UUID, date wallclock.Date, start wallclock.TimeOfDay, holderID uuid.UUID) (*SlotHold, error) {
	slot, err := s.offeredSlot(ctx, doctorID, date, start)
	if err != nil {
		return nil, err
	}

	hold := SlotHold{
		DoctorID:  doctorID,
		Date:      date,
		Start:     slot.Start,
		End:       slot.End,
		HolderID:  holderID,
		ExpiresAt: s.now().Add(s.cfg.HoldTTL),
	}

	created, err := s.repo.InsertHold(ctx, hold)
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			s.metrics.BookingOutcome("hold", "lost_race")
			return nil, err
		}
		return nil, fmt.Errorf("insert hold: %w", err)
	}
	s.metrics.BookingOutcome("hold", "won")

	s.cache.Invalidate(ctx, doctorID)
	s.logEvent(ctx, nil, EventHoldPlaced, map[string]any{
		"hold_id":    created.ID.String(),
		"doctor_id":  doctorID.String(),
		"date":       date.String(),
		"start":      start.String(),
		"expires_at": created.ExpiresAt,
	})

	return created, nil
}

type BookParams struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      wallclock.Date
	Start     wallclock.TimeOfDay
	Type      ConsultationType
	HoldID    *uuid.UUID
}

// Book turns a free slot (or a live hold on one) into an appointment.
// Free consultations confirm immediately; paid ones start in pending_payment
// until the payment gate's callback lands.
func (s *Service) Book(ctx context.Context, p BookParams) (*Appointment, error) {
	if !p.Type.Valid() {
		return nil, ErrBadConsultationType
	}

	if p.HoldID == nil {
		return s.bookDirect(ctx, p)
	}
	return s.bookFromHold(ctx, p, *p.HoldID)
}

func (s *Service) bookDirect(ctx context.Context, p BookParams) (*Appointment, error) {
	if p.Type == ConsultationPaid {
		// The hold is the checkout window; a paid booking cannot skip it.
		return nil, ErrHoldRequired
	}

	slot, err := s.offeredSlot(ctx, p.DoctorID, p.Date, p.Start)
	if err != nil {
		return nil, err
	}

	appt := Appointment{
		PatientID: p.PatientID,
		DoctorID:  p.DoctorID,
		Date:      p.Date,
		Start:     slot.Start,
		End:       slot.End,
		Status:    StatusConfirmed,
		Type:      ConsultationFree,
	}

	created, err := s.repo.InsertAppointment(ctx, appt)
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			s.metrics.BookingOutcome("book", "lost_race")
			return nil, err
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	s.metrics.BookingOutcome("book", "won")

	s.cache.Invalidate(ctx, p.DoctorID)
	s.logEvent(ctx, &created.ID, EventAppointmentConfirmed, map[string]any{
		"patient_id": p.PatientID.String(),
		"type":       string(ConsultationFree),
	})
	s.fireConfirmed(ctx, *created)

	return created, nil
}

func (s *Service) bookFromHold(ctx context.Context, p BookParams, holdID uuid.UUID) (*Appointment, error) {
	hold, err := s.repo.GetHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if hold.HolderID != p.PatientID {
		return nil, ErrHoldNotOwned
	}
	if hold.DoctorID != p.DoctorID || hold.Date != p.Date || hold.Start != p.Start {
		return nil, ErrHoldMismatch
	}
	if hold.ExpiredAt(s.now()) {
		return nil, ErrHoldExpired
	}

	appt := Appointment{
		PatientID: p.PatientID,
		DoctorID:  hold.DoctorID,
		Date:      hold.Date,
		Start:     hold.Start,
		End:       hold.End,
		Type:      p.Type,
	}

	if p.Type == ConsultationPaid {
		orderRef, err := s.gate.CreateOrder(ctx, s.cfg.ConsultationFee)
		if err != nil {
			return nil, fmt.Errorf("create payment order: %w", err)
		}
		expiresAt := hold.ExpiresAt
		appt.Status = StatusPendingPayment
		appt.PaymentRef = &orderRef
		appt.ExpiresAt = &expiresAt
	} else {
		appt.Status = StatusConfirmed
	}

	created, err := s.repo.ConvertHold(ctx, holdID, appt)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, p.DoctorID)
	s.logEvent(ctx, &created.ID, EventAppointmentCreated, map[string]any{
		"patient_id": p.PatientID.String(),
		"type":       string(p.Type),
		"status":     string(created.Status),
	})

	if created.Status == StatusConfirmed {
		s.logEvent(ctx, &created.ID, EventAppointmentConfirmed, nil)
		s.fireConfirmed(ctx, *created)
	}

	return created, nil
}

// SettlePayment lands the payment gate's verdict for a pending_payment
// appointment. Verification failure expires the appointment and frees the
// slot; success past the payment window does the same.
func (s *Service) SettlePayment(ctx context.Context, orderRef, signature string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByPaymentRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusPendingPayment {
		return nil, ErrPaymentNotExpected
	}

	ok, err := s.gate.Verify(ctx, orderRef, signature)
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	if !ok {
		expired, err := s.expirePending(ctx, *appt, "payment_failed")
		if err != nil {
			return nil, err
		}
		s.logEvent(ctx, &appt.ID, EventPaymentFailed, map[string]any{"order_ref": orderRef})
		return expired, nil
	}

	if appt.ExpiresAt != nil && appt.ExpiresAt.Before(s.now()) {
		if _, err := s.expirePending(ctx, *appt, "payment_after_window"); err != nil {
			return nil, err
		}
		return nil, ErrPaymentWindowClosed
	}

	confirmed, err := s.repo.UpdateStatus(ctx, appt.ID, StatusPendingPayment, StatusConfirmed, nil, false)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.logEvent(ctx, &confirmed.ID, EventAppointmentConfirmed, map[string]any{"order_ref": orderRef})
	s.fireConfirmed(ctx, *confirmed)

	return confirmed, nil
}

// Cancel moves a confirmed appointment to cancelled, provided the caller
// owns it and the cancellation window is still open. The slot becomes
// bookable again immediately.
func (s *Service) Cancel(ctx context.Context, apptID, actorID uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if actorID != appt.PatientID && actorID != appt.DoctorID {
		return nil, ErrCancelNotAllowed
	}
	if appt.Status != StatusConfirmed {
		return nil, ErrInvalidTransition
	}

	deadline := appt.Date.At(appt.Start).Add(-s.cfg.CancellationWindow)
	if !s.now().Before(deadline) {
		return nil, ErrCancellationWindow
	}

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}

	cancelled, err := s.repo.UpdateStatus(ctx, apptID, StatusConfirmed, StatusCancelled, reasonPtr, true)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a CAS race with another transition.
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.cache.Invalidate(ctx, appt.DoctorID)
	s.logEvent(ctx, &cancelled.ID, EventAppointmentCancelled, map[string]any{
		"actor_id": actorID.String(),
		"reason":   reason,
	})
	if err := s.notify.OnCancelled(ctx, *cancelled); err != nil {
		s.log.Warn().Err(err).Stringer("appointment_id", cancelled.ID).Msg("cancel notification failed")
	}

	return cancelled, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointment(ctx, id)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

// ExpireStalePending is a sweeper pass: pending_payment appointments whose
// payment window elapsed move to expired and release their slots.
func (s *Service) ExpireStalePending(ctx context.Context) error {
	stale, err := s.repo.FindExpiredPending(ctx, s.now())
	if err != nil {
		return fmt.Errorf("find expired pending: %w", err)
	}

	for _, appt := range stale {
		if _, err := s.expirePending(ctx, appt, "sweep"); err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			s.log.Error().Err(err).Stringer("appointment_id", appt.ID).Msg("expire pending failed")
		}
	}

	s.metrics.SweepRows("expire_pending", int64(len(stale)))
	return nil
}

// CompleteElapsed is a sweeper pass: confirmed appointments whose end time
// has passed move to completed.
func (s *Service) CompleteElapsed(ctx context.Context) error {
	elapsed, err := s.repo.FindElapsedConfirmed(ctx, s.now())
	if err != nil {
		return fmt.Errorf("find elapsed confirmed: %w", err)
	}

	for _, appt := range elapsed {
		_, err := s.repo.UpdateStatus(ctx, appt.ID, StatusConfirmed, StatusCompleted, nil, false)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			s.log.Error().Err(err).Stringer("appointment_id", appt.ID).Msg("complete appointment failed")
			continue
		}
		s.logEvent(ctx, &appt.ID, EventAppointmentCompleted, nil)
	}

	s.metrics.SweepRows("complete_elapsed", int64(len(elapsed)))
	return nil
}

// PurgeExpiredHolds bounds hold row growth. Read paths already ignore
// expired holds, so this pass is housekeeping, not correctness.
func (s *Service) PurgeExpiredHolds(ctx context.Context) error {
	n, err := s.repo.DeleteExpiredHolds(ctx, s.now())
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info().Int64("purged", n).Msg("expired holds purged")
	}
	s.metrics.SweepRows("purge_holds", n)
	return nil
}

func (s *Service) expirePending(ctx context.Context, appt Appointment, reason string) (*Appointment, error) {
	expired, err := s.repo.UpdateStatus(ctx, appt.ID, StatusPendingPayment, StatusExpired, nil, true)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, appt.DoctorID)
	s.logEvent(ctx, &appt.ID, EventAppointmentExpired, map[string]any{"reason": reason})
	return expired, nil
}

// offeredSlot checks the requested start against the freshly generated set
// and returns the matching slot with its end time.
func (s *Service) offeredSlot(ctx context.Context, doctorID uuid.UUID, date wallclock.Date, start wallclock.TimeOfDay) (*schedule.Slot, error) {
	if date.At(start).Before(s.now()) {
		return nil, ErrPastSlot
	}

	offered, err := s.slots.GenerateSlots(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	for _, slot := range offered {
		if slot.Start == start {
			return &slot, nil
		}
	}
	return nil, ErrSlotTaken
}

func (s *Service) fireConfirmed(ctx context.Context, appt Appointment) {
	if err := s.notify.OnConfirmed(ctx, appt); err != nil {
		s.log.Warn().Err(err).Stringer("appointment_id", appt.ID).Msg("confirm notification failed")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			s.log.Error().Err(err).Str("event", eventType).Msg("marshal event payload failed")
			data = nil
		}
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("insert event log failed")
	}
}
