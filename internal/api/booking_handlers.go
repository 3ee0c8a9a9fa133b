package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carelink/scheduling/internal/booking"
	"github.com/carelink/scheduling/internal/schedule"
	"github.com/carelink/scheduling/internal/wallclock"
)

func holdHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req HoldRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		if req.Date.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid_date", "date is required")
			return
		}

		hold, err := svc.Hold(r.Context(), doctorID, req.Date, req.StartTime, GetUserID(r.Context()))
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, HoldResponse{HoldID: hold.ID, ExpiresAt: hold.ExpiresAt})
	}
}

func bookHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		if req.Date.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid_date", "date is required")
			return
		}

		params := booking.BookParams{
			PatientID: GetUserID(r.Context()),
			DoctorID:  doctorID,
			Date:      req.Date,
			Start:     req.StartTime,
			Type:      booking.ConsultationType(req.ConsultationType),
		}
		if req.HoldID != nil {
			holdID, err := uuid.Parse(*req.HoldID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_hold_id", "hold_id must be a valid UUID")
				return
			}
			params.HoldID = &holdID
		}

		appt, err := svc.Book(r.Context(), params)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, appointmentResponse(*appt))
	}
}

func cancelAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		appt, err := svc.Cancel(r.Context(), id, GetUserID(r.Context()), req.Reason)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(*appt))
	}
}

func getAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		caller := GetUserID(r.Context())
		if caller != appt.PatientID && caller != appt.DoctorID {
			writeError(w, http.StatusForbidden, "not_participant", "appointment belongs to another patient and doctor")
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(*appt))
	}
}

func listPatientAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient id must be a valid UUID")
			return
		}
		if GetUserID(r.Context()) != patientID {
			writeError(w, http.StatusForbidden, "not_owner", "patients may only list their own appointments")
			return
		}

		limit := queryInt(r, "limit", 20)
		offset := queryInt(r, "offset", 0)

		appts, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for _, appt := range appts {
			resp = append(resp, appointmentResponse(appt))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func paymentWebhookHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PaymentWebhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
		if req.OrderRef == "" || req.Signature == "" {
			writeError(w, http.StatusBadRequest, "invalid_webhook", "order_ref and signature are required")
			return
		}

		appt, err := svc.SettlePayment(r.Context(), req.OrderRef, req.Signature)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(*appt))
	}
}

func appointmentResponse(a booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:               a.ID,
		PatientID:        a.PatientID,
		DoctorID:         a.DoctorID,
		Date:             a.Date,
		StartTime:        a.Start,
		EndTime:          a.End,
		Status:           string(a.Status),
		ConsultationType: string(a.Type),
		PaymentRef:       a.PaymentRef,
		ExpiresAt:        a.ExpiresAt,
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// handleBookingError maps ledger errors onto the three client behaviors:
// re-query and pick another slot (409), fix the request (400/403/404), or
// give up (500).
func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", "slot was claimed by another booking, re-fetch available slots")
	case errors.Is(err, booking.ErrHoldExpired):
		writeError(w, http.StatusConflict, "hold_expired", "hold has expired, place a new hold")
	case errors.Is(err, booking.ErrInvalidTransition),
		errors.Is(err, booking.ErrPaymentWindowClosed),
		errors.Is(err, booking.ErrPaymentNotExpected):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, booking.ErrCancellationWindow):
		writeError(w, http.StatusForbidden, "cancellation_window_closed", err.Error())
	case errors.Is(err, booking.ErrCancelNotAllowed),
		errors.Is(err, booking.ErrHoldNotOwned):
		writeError(w, http.StatusForbidden, "not_allowed", err.Error())
	case errors.Is(err, booking.ErrHoldNotFound):
		writeError(w, http.StatusNotFound, "hold_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, schedule.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrPastSlot),
		errors.Is(err, booking.ErrHoldRequired),
		errors.Is(err, booking.ErrHoldMismatch),
		errors.Is(err, booking.ErrBadConsultationType),
		errors.Is(err, wallclock.ErrBadTime),
		errors.Is(err, wallclock.ErrBadDate):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
