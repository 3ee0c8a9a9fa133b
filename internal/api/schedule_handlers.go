package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carelink/scheduling/internal/schedule"
	"github.com/carelink/scheduling/internal/wallclock"
)

func getSlotsHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor id must be a valid UUID")
			return
		}

		date, err := wallclock.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.GenerateSlots(r.Context(), doctorID, date)
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, Date: date, Slots: slots})
	}
}

func setAvailabilityHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := doctorFromPath(w, r)
		if !ok {
			return
		}

		var req SetAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		rule, err := svc.SetWeeklyRule(r.Context(), doctorID, req.DayOfWeek, req.StartTime, req.EndTime, req.SlotDurationMinutes)
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, ruleResponse(*rule))
	}
}

func listAvailabilityHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := doctorFromPath(w, r)
		if !ok {
			return
		}

		rules, err := svc.ListRules(r.Context(), doctorID)
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		resp := make([]RuleResponse, 0, len(rules))
		for _, rule := range rules {
			resp = append(resp, ruleResponse(rule))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func deactivateRuleHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := doctorFromPath(w, r)
		if !ok {
			return
		}

		ruleID, err := uuid.Parse(chi.URLParam(r, "ruleId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_rule_id", "rule id must be a valid UUID")
			return
		}

		if err := svc.DeactivateRule(r.Context(), doctorID, ruleID); err != nil {
			handleScheduleError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func setExceptionHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := doctorFromPath(w, r)
		if !ok {
			return
		}

		var req ExceptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
		if req.Date.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid_date", "date is required")
			return
		}

		exc, err := svc.SetException(r.Context(), schedule.DateException{
			DoctorID:    doctorID,
			Date:        req.Date,
			Available:   req.IsAvailable,
			Start:       req.StartTime,
			End:         req.EndTime,
			SlotMinutes: req.SlotDurationMinutes,
		})
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, ExceptionResponse{
			DoctorID:            exc.DoctorID,
			Date:                exc.Date,
			IsAvailable:         exc.Available,
			StartTime:           exc.Start,
			EndTime:             exc.End,
			SlotDurationMinutes: exc.SlotMinutes,
		})
	}
}

func deleteExceptionHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := doctorFromPath(w, r)
		if !ok {
			return
		}

		date, err := wallclock.ParseDate(chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		if err := svc.DeleteException(r.Context(), doctorID, date); err != nil {
			handleScheduleError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// doctorFromPath parses {id} and verifies the authenticated caller is that
// doctor. Availability is owned by the doctor who publishes it.
func doctorFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor id must be a valid UUID")
		return uuid.Nil, false
	}
	if GetUserID(r.Context()) != doctorID {
		writeError(w, http.StatusForbidden, "not_owner", "only the doctor may manage their availability")
		return uuid.Nil, false
	}
	return doctorID, true
}

func handleScheduleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, schedule.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "rule_not_found", err.Error())
	case errors.Is(err, schedule.ErrExceptionNotFound):
		writeError(w, http.StatusNotFound, "exception_not_found", err.Error())
	case errors.Is(err, schedule.ErrRuleOverlap):
		writeError(w, http.StatusConflict, "rule_overlap", err.Error())
	case errors.Is(err, schedule.ErrInvalidWindow),
		errors.Is(err, wallclock.ErrBadTime),
		errors.Is(err, wallclock.ErrBadDate):
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
