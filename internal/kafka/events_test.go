package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBookingEvent(t *testing.T) {
	b := &domain.Booking{
		ID:            "b-1",
		RoomID:        "room-7",
		RequesterID:   "user-1",
		Interval:      domain.NewInterval(time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 9, 3, 0, 0, 0, 0, time.UTC)),
		AmountCents:   20000,
		Currency:      "inr",
		Status:        domain.BookingStatusConfirmed,
		PaymentStatus: domain.PaymentStatusCompleted,
	}
	at := time.Date(2025, 8, 20, 15, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))

	event := NewBookingEvent(EventBookingConfirmed, b, at)

	assert.Equal(t, "booking_confirmed", event.Type)
	assert.Equal(t, "2025-09-01", event.CheckIn)
	assert.Equal(t, "2025-09-03", event.CheckOut)
	assert.Equal(t, "CONFIRMED", event.Status)
	assert.Equal(t, "COMPLETED", event.PaymentStatus)
	assert.Equal(t, time.UTC, event.OccurredAt.Location())
	assert.True(t, event.OccurredAt.Equal(at))

	raw, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"booking_id":"b-1"`)
	assert.Contains(t, string(raw), `"room_id":"room-7"`)
}

func TestProducer_CheckConnectionWithoutBrokers(t *testing.T) {
	p := NewProducer(nil, nil)
	defer p.Close()

	assert.Error(t, p.CheckConnection(context.Background()))
}
