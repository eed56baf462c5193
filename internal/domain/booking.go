package domain

import "time"

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING_PAYMENT"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

type Booking struct {
	ID            string
	RoomID        string
	RequesterID   string
	Interval      Interval
	GuestCount    int
	AmountCents   int64
	Currency      string
	Status        BookingStatus
	PaymentStatus PaymentStatus
	PaymentRef    string
	PayerRef      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// State returns the joint lifecycle position of the booking.
func (b *Booking) State() State {
	return State{Status: b.Status, Payment: b.PaymentStatus}
}

// Stats is the aggregate view over all bookings.
type Stats struct {
	TotalBookings     int64 `json:"total_bookings"`
	ConfirmedBookings int64 `json:"confirmed_bookings"`
	PendingBookings   int64 `json:"pending_bookings"`
	CancelledBookings int64 `json:"cancelled_bookings"`
	TotalRevenueCents int64 `json:"total_revenue_cents"`
}
