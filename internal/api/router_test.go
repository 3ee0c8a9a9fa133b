package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink/scheduling/internal/booking"
	"github.com/carelink/scheduling/internal/schedule"
	"github.com/carelink/scheduling/internal/wallclock"
)

// stubSchedule implements ScheduleService via overridable funcs.
type stubSchedule struct {
	setWeeklyRule   func(doctorID uuid.UUID, dayOfWeek int, start, end wallclock.TimeOfDay, slotMinutes int) (*schedule.WeeklyRule, error)
	listRules       func(doctorID uuid.UUID) ([]schedule.WeeklyRule, error)
	deactivateRule  func(doctorID, ruleID uuid.UUID) error
	setException    func(exc schedule.DateException) (*schedule.DateException, error)
	deleteException func(doctorID uuid.UUID, date wallclock.Date) error
	generateSlots   func(doctorID uuid.UUID, date wallclock.Date) ([]schedule.Slot, error)
}

func (s *stubSchedule) SetWeeklyRule(_ context.Context, doctorID uuid.UUID, dayOfWeek int, start, end wallclock.TimeOfDay, slotMinutes int) (*schedule.WeeklyRule, error) {
	return s.setWeeklyRule(doctorID, dayOfWeek, start, end, slotMinutes)
}

func (s *stubSchedule) ListRules(_ context.Context, doctorID uuid.UUID) ([]schedule.WeeklyRule, error) {
	return s.listRules(doctorID)
}

func (s *stubSchedule) DeactivateRule(_ context.Context, doctorID, ruleID uuid.UUID) error {
	return s.deactivateRule(doctorID, ruleID)
}

func (s *stubSchedule) SetException(_ context.Context, exc schedule.DateException) (*schedule.DateException, error) {
	return s.setException(exc)
}

func (s *stubSchedule) DeleteException(_ context.Context, doctorID uuid.UUID, date wallclock.Date) error {
	return s.deleteException(doctorID, date)
}

func (s *stubSchedule) GenerateSlots(_ context.Context, doctorID uuid.UUID, date wallclock.Date) ([]schedule.Slot, error) {
	return s.generateSlots(doctorID, date)
}

// stubBooking implements BookingService via overridable funcs.
type stubBooking struct {
	hold          func(doctorID uuid.UUID, date wallclock.Date, start wallclock.TimeOfDay, holderID uuid.UUID) (*booking.SlotHold, error)
	book          func(p booking.BookParams) (*booking.Appointment, error)
	cancel        func(apptID, actorID uuid.UUID, reason string) (*booking.Appointment, error)
	settlePayment func(orderRef, signature string) (*booking.Appointment, error)
	get           func(id uuid.UUID) (*booking.Appointment, error)
	listByPatient func(patientID uuid.UUID, limit, offset int) ([]booking.Appointment, error)
}

func (s *stubBooking) Hold(_ context.Context, doctorID uuid.UUID, date wallclock.Date, start wallclock.TimeOfDay, holderID uuid.UUID) (*booking.SlotHold, error) {
	return s.hold(doctorID, date, start, holderID)
}

func (s *stubBooking) Book(_ context.Context, p booking.BookParams) (*booking.Appointment, error) {
	return s.book(p)
}

func (s *stubBooking) Cancel(_ context.Context, apptID, actorID uuid.UUID, reason string) (*booking.Appointment, error) {
	return s.cancel(apptID, actorID, reason)
}

func (s *stubBooking) SettlePayment(_ context.Context, orderRef, signature string) (*booking.Appointment, error) {
	return s.settlePayment(orderRef, signature)
}

func (s *stubBooking) GetAppointment(_ context.Context, id uuid.UUID) (*booking.Appointment, error) {
	return s.get(id)
}

func (s *stubBooking) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]booking.Appointment, error) {
	return s.listByPatient(patientID, limit, offset)
}

func newTestRouter(sched *stubSchedule, book *stubBooking) http.Handler {
	return NewRouter(RouterConfig{
		Schedule: sched,
		Booking:  book,
		Log:      zerolog.Nop(),
		Env:      "test",
		Version:  "test",
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, userID *uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != nil {
		req.Header.Set("X-User-ID", userID.String())
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestGetSlots(t *testing.T) {
	doctorID := uuid.New()
	sched := &stubSchedule{
		generateSlots: func(id uuid.UUID, date wallclock.Date) ([]schedule.Slot, error) {
			assert.Equal(t, doctorID, id)
			return []schedule.Slot{{Start: 540, End: 570}}, nil
		},
	}
	h := newTestRouter(sched, &stubBooking{})

	t.Run("returns the generated slots", func(t *testing.T) {
		rec := doJSON(t, h, "GET", "/doctors/"+doctorID.String()+"/slots?date=2026-09-07", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp SlotsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, doctorID, resp.DoctorID)
		require.Len(t, resp.Slots, 1)
		assert.Equal(t, "09:00", resp.Slots[0].Start.String())
	})

	t.Run("no auth required", func(t *testing.T) {
		rec := doJSON(t, h, "GET", "/doctors/"+doctorID.String()+"/slots?date=2026-09-07", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing date", func(t *testing.T) {
		rec := doJSON(t, h, "GET", "/doctors/"+doctorID.String()+"/slots", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_date", errorCode(t, rec))
	})

	t.Run("bad doctor id", func(t *testing.T) {
		rec := doJSON(t, h, "GET", "/doctors/nope/slots?date=2026-09-07", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown doctor", func(t *testing.T) {
		sched := &stubSchedule{
			generateSlots: func(uuid.UUID, wallclock.Date) ([]schedule.Slot, error) {
				return nil, schedule.ErrDoctorNotFound
			},
		}
		h := newTestRouter(sched, &stubBooking{})
		rec := doJSON(t, h, "GET", "/doctors/"+doctorID.String()+"/slots?date=2026-09-07", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSetAvailability(t *testing.T) {
	doctorID := uuid.New()
	body := SetAvailabilityRequest{DayOfWeek: 1, StartTime: 540, EndTime: 660, SlotDurationMinutes: 30}

	t.Run("doctor creates a rule", func(t *testing.T) {
		sched := &stubSchedule{
			setWeeklyRule: func(id uuid.UUID, dayOfWeek int, start, end wallclock.TimeOfDay, slotMinutes int) (*schedule.WeeklyRule, error) {
				return &schedule.WeeklyRule{
					ID: uuid.New(), DoctorID: id, DayOfWeek: dayOfWeek,
					Start: start, End: end, SlotMinutes: slotMinutes, Active: true,
				}, nil
			},
		}
		h := newTestRouter(sched, &stubBooking{})

		rec := doJSON(t, h, "PUT", "/doctors/"+doctorID.String()+"/availability", &doctorID, body)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp RuleResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Active)
		assert.Equal(t, 1, resp.DayOfWeek)
	})

	t.Run("requires authentication", func(t *testing.T) {
		h := newTestRouter(&stubSchedule{}, &stubBooking{})
		rec := doJSON(t, h, "PUT", "/doctors/"+doctorID.String()+"/availability", nil, body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("another user may not manage the schedule", func(t *testing.T) {
		h := newTestRouter(&stubSchedule{}, &stubBooking{})
		other := uuid.New()
		rec := doJSON(t, h, "PUT", "/doctors/"+doctorID.String()+"/availability", &other, body)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "not_owner", errorCode(t, rec))
	})

	t.Run("overlap maps to conflict", func(t *testing.T) {
		sched := &stubSchedule{
			setWeeklyRule: func(uuid.UUID, int, wallclock.TimeOfDay, wallclock.TimeOfDay, int) (*schedule.WeeklyRule, error) {
				return nil, schedule.ErrRuleOverlap
			},
		}
		h := newTestRouter(sched, &stubBooking{})
		rec := doJSON(t, h, "PUT", "/doctors/"+doctorID.String()+"/availability", &doctorID, body)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "rule_overlap", errorCode(t, rec))
	})

	t.Run("invalid window maps to bad request", func(t *testing.T) {
		sched := &stubSchedule{
			setWeeklyRule: func(uuid.UUID, int, wallclock.TimeOfDay, wallclock.TimeOfDay, int) (*schedule.WeeklyRule, error) {
				return nil, schedule.ErrInvalidWindow
			},
		}
		h := newTestRouter(sched, &stubBooking{})
		rec := doJSON(t, h, "PUT", "/doctors/"+doctorID.String()+"/availability", &doctorID, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDeactivateRule(t *testing.T) {
	doctorID := uuid.New()
	ruleID := uuid.New()

	t.Run("no content on success", func(t *testing.T) {
		sched := &stubSchedule{
			deactivateRule: func(d, r uuid.UUID) error {
				assert.Equal(t, doctorID, d)
				assert.Equal(t, ruleID, r)
				return nil
			},
		}
		h := newTestRouter(sched, &stubBooking{})
		rec := doJSON(t, h, "DELETE", "/doctors/"+doctorID.String()+"/availability/"+ruleID.String(), &doctorID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("unknown rule", func(t *testing.T) {
		sched := &stubSchedule{
			deactivateRule: func(uuid.UUID, uuid.UUID) error { return schedule.ErrRuleNotFound },
		}
		h := newTestRouter(sched, &stubBooking{})
		rec := doJSON(t, h, "DELETE", "/doctors/"+doctorID.String()+"/availability/"+ruleID.String(), &doctorID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestExceptionEndpoints(t *testing.T) {
	doctorID := uuid.New()
	date, err := wallclock.ParseDate("2026-09-07")
	require.NoError(t, err)

	t.Run("set exception echoes the stored override", func(t *testing.T) {
		sched := &stubSchedule{
			setException: func(exc schedule.DateException) (*schedule.DateException, error) {
				assert.Equal(t, doctorID, exc.DoctorID)
				assert.False(t, exc.Available)
				return &exc, nil
			},
		}
		h := newTestRouter(sched, &stubBooking{})

		rec := doJSON(t, h, "POST", "/doctors/"+doctorID.String()+"/availability/exceptions", &doctorID,
			ExceptionRequest{Date: date, IsAvailable: false})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ExceptionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.IsAvailable)
	})

	t.Run("delete exception", func(t *testing.T) {
		sched := &stubSchedule{
			deleteException: func(d uuid.UUID, day wallclock.Date) error {
				assert.Equal(t, date, day)
				return nil
			},
		}
		h := newTestRouter(sched, &stubBooking{})
		rec := doJSON(t, h, "DELETE", "/doctors/"+doctorID.String()+"/availability/exceptions/2026-09-07", &doctorID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("delete unknown exception", func(t *testing.T) {
		sched := &stubSchedule{
			deleteException: func(uuid.UUID, wallclock.Date) error { return schedule.ErrExceptionNotFound },
		}
		h := newTestRouter(sched, &stubBooking{})
		rec := doJSON(t, h, "DELETE", "/doctors/"+doctorID.String()+"/availability/exceptions/2026-09-07", &doctorID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHoldEndpoint(t *testing.T) {
	doctorID := uuid.New()
	patientID := uuid.New()

	t.Run("places a hold for the caller", func(t *testing.T) {
		expires := time.Now().Add(10 * time.Minute)
		book := &stubBooking{
			hold: func(d uuid.UUID, date wallclock.Date, start wallclock.TimeOfDay, holder uuid.UUID) (*booking.SlotHold, error) {
				assert.Equal(t, patientID, holder)
				return &booking.SlotHold{ID: uuid.New(), ExpiresAt: expires}, nil
			},
		}
		h := newTestRouter(&stubSchedule{}, book)

		rec := doJSON(t, h, "POST", "/appointments/hold", &patientID,
			HoldRequest{DoctorID: doctorID.String(), Date: mustDate(t, "2026-09-08"), StartTime: 540})
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp HoldResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEqual(t, uuid.Nil, resp.HoldID)
	})

	t.Run("lost race maps to conflict", func(t *testing.T) {
		book := &stubBooking{
			hold: func(uuid.UUID, wallclock.Date, wallclock.TimeOfDay, uuid.UUID) (*booking.SlotHold, error) {
				return nil, booking.ErrSlotTaken
			},
		}
		h := newTestRouter(&stubSchedule{}, book)

		rec := doJSON(t, h, "POST", "/appointments/hold", &patientID,
			HoldRequest{DoctorID: doctorID.String(), Date: mustDate(t, "2026-09-08"), StartTime: 540})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "slot_taken", errorCode(t, rec))
	})

	t.Run("missing date", func(t *testing.T) {
		h := newTestRouter(&stubSchedule{}, &stubBooking{})
		rec := doJSON(t, h, "POST", "/appointments/hold", &patientID,
			map[string]string{"doctor_id": doctorID.String(), "start_time": "09:00"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBookEndpoint(t *testing.T) {
	doctorID := uuid.New()
	patientID := uuid.New()

	req := BookRequest{
		DoctorID:         doctorID.String(),
		Date:             mustDate(t, "2026-09-08"),
		StartTime:        540,
		ConsultationType: "free",
	}

	t.Run("books for the caller", func(t *testing.T) {
		book := &stubBooking{
			book: func(p booking.BookParams) (*booking.Appointment, error) {
				assert.Equal(t, patientID, p.PatientID)
				assert.Nil(t, p.HoldID)
				return &booking.Appointment{
					ID: uuid.New(), PatientID: p.PatientID, DoctorID: p.DoctorID,
					Date: p.Date, Start: p.Start, End: 570,
					Status: booking.StatusConfirmed, Type: booking.ConsultationFree,
				}, nil
			},
		}
		h := newTestRouter(&stubSchedule{}, book)

		rec := doJSON(t, h, "POST", "/appointments/book", &patientID, req)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp AppointmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "confirmed", resp.Status)
	})

	t.Run("paid booking without a hold", func(t *testing.T) {
		book := &stubBooking{
			book: func(booking.BookParams) (*booking.Appointment, error) {
				return nil, booking.ErrHoldRequired
			},
		}
		h := newTestRouter(&stubSchedule{}, book)

		rec := doJSON(t, h, "POST", "/appointments/book", &patientID, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("expired hold maps to conflict", func(t *testing.T) {
		book := &stubBooking{
			book: func(booking.BookParams) (*booking.Appointment, error) {
				return nil, booking.ErrHoldExpired
			},
		}
		h := newTestRouter(&stubSchedule{}, book)

		rec := doJSON(t, h, "POST", "/appointments/book", &patientID, req)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "hold_expired", errorCode(t, rec))
	})

	t.Run("malformed hold id", func(t *testing.T) {
		h := newTestRouter(&stubSchedule{}, &stubBooking{})
		bad := "not-a-uuid"
		reqBad := req
		reqBad.HoldID = &bad

		rec := doJSON(t, h, "POST", "/appointments/book", &patientID, reqBad)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCancelEndpoint(t *testing.T) {
	patientID := uuid.New()
	apptID := uuid.New()

	t.Run("cancels with the caller as actor", func(t *testing.T) {
		book := &stubBooking{
			cancel: func(id, actor uuid.UUID, reason string) (*booking.Appointment, error) {
				assert.Equal(t, apptID, id)
				assert.Equal(t, patientID, actor)
				assert.Equal(t, "family emergency", reason)
				return &booking.Appointment{
					ID: id, PatientID: actor,
					Date: mustDate(t, "2026-09-08"), Start: 540, End: 570,
					Status: booking.StatusCancelled, Type: booking.ConsultationFree,
				}, nil
			},
		}
		h := newTestRouter(&stubSchedule{}, book)

		rec := doJSON(t, h, "PUT", "/appointments/"+apptID.String()+"/cancel", &patientID,
			CancelRequest{Reason: "family emergency"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp AppointmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "cancelled", resp.Status)
	})

	t.Run("window closed maps to forbidden", func(t *testing.T) {
		book := &stubBooking{
			cancel: func(uuid.UUID, uuid.UUID, string) (*booking.Appointment, error) {
				return nil, booking.ErrCancellationWindow
			},
		}
		h := newTestRouter(&stubSchedule{}, book)

		rec := doJSON(t, h, "PUT", "/appointments/"+apptID.String()+"/cancel", &patientID, CancelRequest{})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "cancellation_window_closed", errorCode(t, rec))
	})

	t.Run("already terminal maps to conflict", func(t *testing.T) {
		book := &stubBooking{
			cancel: func(uuid.UUID, uuid.UUID, string) (*booking.Appointment, error) {
				return nil, booking.ErrInvalidTransition
			},
		}
		h := newTestRouter(&stubSchedule{}, book)

		rec := doJSON(t, h, "PUT", "/appointments/"+apptID.String()+"/cancel", &patientID, CancelRequest{})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestGetAppointmentEndpoint(t *testing.T) {
	patientID := uuid.New()
	doctorID := uuid.New()
	appt := &booking.Appointment{
		ID: uuid.New(), PatientID: patientID, DoctorID: doctorID,
		Status: booking.StatusConfirmed, Type: booking.ConsultationFree,
	}
	book := &stubBooking{
		get: func(id uuid.UUID) (*booking.Appointment, error) {
			if id == appt.ID {
				return appt, nil
			}
			return nil, booking.ErrAppointmentNotFound
		},
	}
	h := newTestRouter(&stubSchedule{}, book)

	t.Run("patient reads their appointment", func(t *testing.T) {
		rec := doJSON(t, h, "GET", "/appointments/"+appt.ID.String(), &patientID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("doctor reads it too", func(t *testing.T) {
		rec := doJSON(t, h, "GET", "/appointments/"+appt.ID.String(), &doctorID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("stranger is refused", func(t *testing.T) {
		other := uuid.New()
		rec := doJSON(t, h, "GET", "/appointments/"+appt.ID.String(), &other, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		id := uuid.New()
		rec := doJSON(t, h, "GET", "/appointments/"+id.String(), &patientID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListPatientAppointments(t *testing.T) {
	patientID := uuid.New()

	t.Run("returns the caller's appointments", func(t *testing.T) {
		book := &stubBooking{
			listByPatient: func(id uuid.UUID, limit, offset int) ([]booking.Appointment, error) {
				assert.Equal(t, patientID, id)
				assert.Equal(t, 5, limit)
				return []booking.Appointment{{
					ID: uuid.New(), PatientID: id, DoctorID: uuid.New(),
					Date: mustDate(t, "2026-09-08"), Start: 540, End: 570,
					Status: booking.StatusConfirmed, Type: booking.ConsultationFree,
				}}, nil
			},
		}
		h := newTestRouter(&stubSchedule{}, book)

		rec := doJSON(t, h, "GET", "/patients/"+patientID.String()+"/appointments?limit=5", &patientID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp []AppointmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp, 1)
	})

	t.Run("another user's list is off limits", func(t *testing.T) {
		h := newTestRouter(&stubSchedule{}, &stubBooking{})
		other := uuid.New()
		rec := doJSON(t, h, "GET", "/patients/"+patientID.String()+"/appointments", &other, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestPaymentWebhook(t *testing.T) {
	t.Run("settles without authentication", func(t *testing.T) {
		book := &stubBooking{
			settlePayment: func(orderRef, signature string) (*booking.Appointment, error) {
				assert.Equal(t, "order_abc", orderRef)
				return &booking.Appointment{ID: uuid.New(), Status: booking.StatusConfirmed}, nil
			},
		}
		h := newTestRouter(&stubSchedule{}, book)

		rec := doJSON(t, h, "POST", "/payments/webhook", nil,
			PaymentWebhookRequest{OrderRef: "order_abc", Signature: "sig"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		h := newTestRouter(&stubSchedule{}, &stubBooking{})
		rec := doJSON(t, h, "POST", "/payments/webhook", nil, PaymentWebhookRequest{OrderRef: "order_abc"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("late payment maps to conflict", func(t *testing.T) {
		book := &stubBooking{
			settlePayment: func(string, string) (*booking.Appointment, error) {
				return nil, booking.ErrPaymentWindowClosed
			},
		}
		h := newTestRouter(&stubSchedule{}, book)

		rec := doJSON(t, h, "POST", "/payments/webhook", nil,
			PaymentWebhookRequest{OrderRef: "order_abc", Signature: "sig"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestRequestID(t *testing.T) {
	h := newTestRouter(&stubSchedule{
		generateSlots: func(uuid.UUID, wallclock.Date) ([]schedule.Slot, error) { return nil, nil },
	}, &stubBooking{})

	req := httptest.NewRequest("GET", "/doctors/"+uuid.NewString()+"/slots?date=2026-09-07", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func mustDate(t *testing.T, s string) wallclock.Date {
	t.Helper()
	d, err := wallclock.ParseDate(s)
	require.NoError(t, err)
	return d
}
