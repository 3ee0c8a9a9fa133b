package booking

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PaymentGate is the black-box payment provider. CreateOrder runs between
// hold and book for paid consultations; Verify settles the pending_payment
// state from the provider's callback.
type PaymentGate interface {
	CreateOrder(ctx context.Context, amount int64) (orderRef string, err error)
	Verify(ctx context.Context, orderRef, signature string) (bool, error)
}

// NotificationTrigger is fire-and-forget: a failure here never rolls back
// the lifecycle transition that triggered it.
type NotificationTrigger interface {
	OnConfirmed(ctx context.Context, appt Appointment) error
	OnCancelled(ctx context.Context, appt Appointment) error
}

// hmacGate signs order references with a shared secret, the way hosted
// checkout providers hand back an HMAC over the order id.
type hmacGate struct {
	secret []byte
}

func NewHMACGate(secret string) PaymentGate {
	return &hmacGate{secret: []byte(secret)}
}

func (g *hmacGate) CreateOrder(_ context.Context, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("order amount must be positive, got %d", amount)
	}
	return "order_" + uuid.NewString(), nil
}

func (g *hmacGate) Verify(_ context.Context, orderRef, signature string) (bool, error) {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(orderRef))
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature)), nil
}

// LogNotifier is the default NotificationTrigger: it only writes a log line.
// Real channels (email, SMS) hang off this interface elsewhere.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) OnConfirmed(_ context.Context, appt Appointment) error {
	n.log.Info().
		Stringer("appointment_id", appt.ID).
		Stringer("doctor_id", appt.DoctorID).
		Stringer("date", appt.Date).
		Str("start", appt.Start.String()).
		Msg("appointment confirmed notification")
	return nil
}

func (n *LogNotifier) OnCancelled(_ context.Context, appt Appointment) error {
	n.log.Info().
		Stringer("appointment_id", appt.ID).
		Stringer("doctor_id", appt.DoctorID).
		Stringer("date", appt.Date).
		Str("start", appt.Start.String()).
		Msg("appointment cancelled notification")
	return nil
}
