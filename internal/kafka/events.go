package kafka

import (
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingCancelled = "booking_cancelled"
	EventPaymentCompleted = "payment_completed"
	EventPaymentFailed    = "payment_failed"
)

type BookingEvent struct {
	Type          string    `json:"type"`
	BookingID     string    `json:"booking_id"`
	RoomID        string    `json:"room_id"`
	RequesterID   string    `json:"requester_id"`
	CheckIn       string    `json:"check_in"`
	CheckOut      string    `json:"check_out"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func NewBookingEvent(eventType string, b *domain.Booking, at time.Time) BookingEvent {
	return BookingEvent{
		Type:          eventType,
		BookingID:     b.ID,
		RoomID:        b.RoomID,
		RequesterID:   b.RequesterID,
		CheckIn:       b.Interval.CheckIn.Format(domain.DateLayout),
		CheckOut:      b.Interval.CheckOut.Format(domain.DateLayout),
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		AmountCents:   b.AmountCents,
		Currency:      b.Currency,
		OccurredAt:    at.UTC(),
	}
}

// PaymentEvent carries a gateway notification from the webhook to the worker.
type PaymentEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	PaymentRef string    `json:"payment_ref"`
	ReceivedAt time.Time `json:"received_at"`
}
